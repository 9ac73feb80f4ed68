// Package ondevice runs Tier-2 generation on a model served from the local
// machine and streams its output as fragments.
package ondevice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ziadkadry99/chattia/internal/llm"
)

// ProviderName is the ledger key for on-device spend.
const ProviderName = "on-device"

var (
	// ErrUnavailable means the local runtime is not reachable.
	ErrUnavailable = errors.New("ondevice_unavailable")
	// ErrNotReady means the runtime is up but the model is not loaded.
	ErrNotReady = errors.New("not_ready")
)

// Generator is a local streaming model.
type Generator interface {
	// Available is a cheap capability probe.
	Available(ctx context.Context) bool
	// Load prepares the model. It may take a long time and honours ctx.
	Load(ctx context.Context) error
	// Generate streams fragments of the reply to messages. The channel is
	// closed after a Done event or when ctx is cancelled.
	Generate(ctx context.Context, messages []llm.Message) (<-chan llm.Event, error)
}

// OllamaGenerator streams from a local Ollama server through its
// OpenAI-compatible endpoint.
type OllamaGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
	probeTTL  time.Duration

	mu        sync.Mutex
	ready     bool
	probedAt  time.Time
	available bool
}

// NewOllamaGenerator targets the Ollama server at baseURL (e.g. http://localhost:11434).
func NewOllamaGenerator(baseURL, model string, maxTokens int) *OllamaGenerator {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	return &OllamaGenerator{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
		probeTTL:  30 * time.Second,
	}
}

// Available lists the served models, caching the answer for a short while.
func (g *OllamaGenerator) Available(ctx context.Context) bool {
	g.mu.Lock()
	if !g.probedAt.IsZero() && time.Since(g.probedAt) < g.probeTTL {
		ok := g.available
		g.mu.Unlock()
		return ok
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := g.client.ListModels(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.probedAt = time.Now()
	g.available = err == nil
	return g.available
}

// Load checks that the configured model is served.
func (g *OllamaGenerator) Load(ctx context.Context) error {
	g.mu.Lock()
	if g.ready {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	list, err := g.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, m := range list.Models {
		if m.ID == g.model || strings.TrimSuffix(m.ID, ":latest") == g.model {
			g.mu.Lock()
			g.ready = true
			g.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: model %s is not pulled", ErrNotReady, g.model)
}

func (g *OllamaGenerator) Generate(ctx context.Context, messages []llm.Message) (<-chan llm.Event, error) {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()
	if !ready {
		return nil, ErrNotReady
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         g.model,
		Messages:      msgs,
		MaxTokens:     g.maxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("starting local stream: %w", err)
	}

	ch := make(chan llm.Event, 16)
	go pump(ctx, stream, ch)
	return ch, nil
}

func pump(ctx context.Context, stream *openai.ChatCompletionStream, ch chan<- llm.Event) {
	defer close(ch)
	defer stream.Close()

	usage := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			send(ctx, ch, llm.Event{Done: true, Usage: usage})
			return
		}
		if err != nil {
			send(ctx, ch, llm.Event{Done: true, Usage: usage, Err: err})
			return
		}
		if resp.Usage != nil {
			usage = resp.Usage.TotalTokens
		}
		for _, c := range resp.Choices {
			if c.Delta.Content == "" {
				continue
			}
			if !send(ctx, ch, llm.Event{Text: c.Delta.Content}) {
				return
			}
		}
	}
}

func send(ctx context.Context, ch chan<- llm.Event, ev llm.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
