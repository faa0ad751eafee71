// Package llm abstracts the language-model collaborator. The control loop
// only ever sees Provider; validation of model output happens upstream in
// the extract package.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable marks complete provider failure after all retries. The
// session surfaces this as terminal status error, with no answer.
var ErrUnavailable = errors.New("language model unavailable")

// Request is one prompt exchange. System sets role instructions; Prompt
// carries the stage's rendered context.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is the raw model text. Callers parse and validate it.
type Response struct {
	Text  string
	Model string
}

// Provider produces a completion for a request. Implementations must
// honor ctx cancellation and carry their own timeout.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
