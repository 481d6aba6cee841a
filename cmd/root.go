package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const usage = `maas-router is an OpenAI-compatible proxy for Vertex AI MaaS models.

Usage:
  maas-router <command> [flags]

Commands:
  serve       Start the HTTP server
  complete    Send one chat request to a model and print the response
  models      List the supported model names

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "complete":
		return complete(ctx, args[1:])
	case "models":
		return listModels(os.Stdout)
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}
