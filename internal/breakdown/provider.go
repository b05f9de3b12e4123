// Package breakdown turns a free-text mission into concrete subtasks using a
// chain of language-model providers, with strict normalization of whatever
// they return.
package breakdown

import "context"

// Provider produces a raw model response for a breakdown prompt. The response
// may contain arbitrary prose around the JSON; extraction handles that.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}
