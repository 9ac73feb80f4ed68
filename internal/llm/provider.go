package llm

import "context"

// Provider is one upstream model in the fallback chain.
type Provider interface {
	// Complete sends the full message list and returns the answer with the
	// usage the provider reported, if any. Non-2xx upstream responses are
	// returned as *HTTPError.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name identifies the provider in budgets, headers and logs. It must be
	// unique within a chain.
	Name() string
}
