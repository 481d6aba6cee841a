// Package maas talks to the Vertex AI Model-as-a-Service endpoints that host
// third-party model families (Meta Llama and Mistral) behind one regional API.
//
// A Model is built once from a Config: the model name is classified into a
// Family and split into its canonical and full names at construction time.
// Every call afterwards builds its own URL and payload, authenticates with a
// bearer token and retries transient transport failures.
package maas

import (
	"fmt"
	"slices"
	"strings"
)

// Family identifies the vendor protocol variant a model is served with.
type Family int

const (
	// FamilyLlama models use the OpenAI-compatible surface on v1beta1.
	FamilyLlama Family = iota + 1
	// FamilyMistral models use the publisher rawPredict surface on v1.
	FamilyMistral
)

// String returns the lower-case family name.
func (f Family) String() string {
	switch f {
	case FamilyLlama:
		return "llama"
	case FamilyMistral:
		return "mistral"
	default:
		return "unknown"
	}
}

// Supported models. Lookup is exact membership on the lower-cased name.
var (
	llamaModels = map[string]struct{}{
		"meta/llama3-405b-instruct-maas": {},
	}
	mistralModels = map[string]struct{}{
		"mistral-nemo@2407":  {},
		"mistral-large@2407": {},
	}
)

// ResolveFamily classifies a model name into its Family.
func ResolveFamily(modelName string) (Family, error) {
	name := strings.ToLower(modelName)
	if _, ok := llamaModels[name]; ok {
		return FamilyLlama, nil
	}
	if _, ok := mistralModels[name]; ok {
		return FamilyMistral, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedModel, name)
}

// SupportedModels lists every model name the resolver accepts.
func SupportedModels() []string {
	out := make([]string, 0, len(llamaModels)+len(mistralModels))
	for name := range llamaModels {
		out = append(out, name)
	}
	for name := range mistralModels {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Identity is a resolved model name.
type Identity struct {
	// Requested is the name exactly as configured.
	Requested string
	Family    Family
	// Canonical is sent as the "model" field of every payload.
	Canonical string
	// Full is the versioned name used in Mistral URLs. Empty for Llama.
	Full string
}

// ResolveIdentity resolves the family of modelName and derives the canonical
// and full names from it.
func ResolveIdentity(modelName string) (Identity, error) {
	family, err := ResolveFamily(modelName)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{
		Requested: modelName,
		Family:    family,
		Canonical: modelName,
	}
	if family == FamilyMistral {
		canonical, _, _ := strings.Cut(modelName, "@")
		id.Canonical = canonical
		id.Full = modelName
	}
	return id, nil
}
