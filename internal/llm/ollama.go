package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// FlatProvider implements Provider for completion APIs that take a single
// prompt string instead of a message list, such as Ollama's /api/generate.
// System and conversation content are flattened into that one field.
type FlatProvider struct {
	name    string
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaProvider creates a FlatProvider for the Ollama server at baseURL.
func NewOllamaProvider(baseURL string, model string) *FlatProvider {
	return NewFlatProvider("ollama", baseURL, model)
}

// NewFlatProvider creates a FlatProvider posting to <baseURL>/api/generate.
func NewFlatProvider(name, baseURL, model string) *FlatProvider {
	return &FlatProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

func (p *FlatProvider) Name() string {
	return p.name
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Flatten renders a conversation as one prompt: system text first, then
// labeled turns, ending with an open assistant turn.
func Flatten(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			b.WriteString(m.Content)
		case RoleUser:
			b.WriteString("User: ")
			b.WriteString(m.Content)
		case RoleAssistant:
			b.WriteString("Assistant: ")
			b.WriteString(m.Content)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func (p *FlatProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: Flatten(req.Messages),
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling %s request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", p.name, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, newHTTPError(p.name, httpResp.StatusCode, respBody)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", p.name, err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return nil, errors.New(p.name + " returned an empty response")
	}

	return &CompletionResponse{
		Content:      out.Response,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
		Model:        out.Model,
		FinishReason: out.DoneReason,
	}, nil
}
