// Package escalate is the Tier-3 path: the policy gate plus the provider
// chain, reached either in-process or through a remote chat endpoint.
package escalate

import (
	"context"
	"errors"
	"fmt"

	"github.com/ziadkadry99/chattia/internal/budget"
	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/llm"
)

// Provider labels for answers that did not come from a model.
const (
	ProviderPolicy     = "policy"
	ProviderExtractive = "extractive"
)

// DefaultGrounding is how many chunks are sent upstream as context.
const DefaultGrounding = 6

// ErrUnavailable means the Tier-3 path could not be reached.
var ErrUnavailable = errors.New("server_unavailable")

// Request is one escalated turn.
type Request struct {
	SessionID    string
	Lang         string
	Conversation []llm.Message
	// Corpus overrides the escalator's own corpus source when set.
	Corpus corpus.Source
}

// Result is a Tier-3 answer.
type Result struct {
	Text      string
	Provider  string
	Tokens    int
	Citations []string
}

// Refused reports whether the answer is a policy refusal.
func (r *Result) Refused() bool { return r.Provider == ProviderPolicy }

// Degraded reports whether the answer was composed from the corpus because
// every provider failed.
func (r *Result) Degraded() bool { return r.Provider == ProviderExtractive }

// Escalator answers a turn that the local tiers could not. emit receives the
// answer text as it becomes available; it may be nil.
type Escalator interface {
	Escalate(ctx context.Context, req Request, sb *budget.SessionBudget, emit func(string)) (*Result, error)
}

// ServerError is a non-success reply from a remote chat endpoint.
type ServerError struct {
	Status int
	Code   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("chat endpoint returned %d: %s", e.Status, e.Code)
}

// Unwrap lets errors.Is match ErrUnavailable.
func (e *ServerError) Unwrap() error { return ErrUnavailable }
