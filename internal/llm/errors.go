package llm

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// HTTPError is a non-success response from an upstream provider.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// Code returns the wire error code, e.g. provider_http_502.
func (e *HTTPError) Code() string {
	return fmt.Sprintf("provider_http_%d", e.Status)
}

const maxErrorBody = 512

func newHTTPError(provider string, status int, body []byte) *HTTPError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPError{Provider: provider, Status: status, Body: string(body)}
}

// wrapOpenAIError maps go-openai status errors onto HTTPError.
func wrapOpenAIError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPError{Provider: provider, Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &HTTPError{Provider: provider, Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}
