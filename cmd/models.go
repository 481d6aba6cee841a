package cmd

import (
	"fmt"
	"io"

	"maas-router/internal/maas"
)

// listModels writes every supported model name with its family, one per line.
func listModels(w io.Writer) error {
	for _, name := range maas.SupportedModels() {
		family, err := maas.ResolveFamily(name)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%-34s %s\n", name, family); err != nil {
			return err
		}
	}
	return nil
}
