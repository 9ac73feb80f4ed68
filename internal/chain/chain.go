// Package chain tries upstream providers in order until one answers within budget.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/chattia/internal/budget"
	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/llm"
	"github.com/ziadkadry99/chattia/internal/metrics"
)

// DefaultWindow is how many recent messages are sent upstream.
const DefaultWindow = 16

// ErrMiss means every provider was skipped or failed.
var ErrMiss = errors.New("provider chain exhausted")

// Request is one escalation through the chain.
type Request struct {
	Conversation []llm.Message
	Lang         string
	Grounding    []corpus.Chunk
}

// Result is the first successful provider answer.
type Result struct {
	Text     string
	Provider string
	// Tokens is what the ledger granted for this call.
	Tokens int
	// Reported is true when Tokens came from provider usage rather than an estimate.
	Reported bool
}

// Attempt records what happened to one provider during a run.
type Attempt struct {
	Provider string
	Outcome  string
	Err      error
}

// Options configures a Chain.
type Options struct {
	Window    int
	MaxTokens int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Chain is an ordered provider list.
type Chain struct {
	providers []llm.Provider
	opts      Options
}

// New creates a chain that tries providers in the given order.
func New(providers []llm.Provider, opts Options) *Chain {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Chain{providers: providers, opts: opts}
}

// Providers returns the configured provider names in order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Run calls providers one at a time. Providers at their soft cap, or any
// provider once the session has no headroom, are skipped. Failures move on to
// the next provider. The first success is charged to sb and returned.
func (c *Chain) Run(ctx context.Context, req Request, sb *budget.SessionBudget) (*Result, error) {
	res, _, err := c.RunTrace(ctx, req, sb)
	return res, err
}

// RunTrace is Run that also reports every attempt. A returned error is either
// ErrMiss (possibly joined with the last provider error) or the context error.
func (c *Chain) RunTrace(ctx context.Context, req Request, sb *budget.SessionBudget) (*Result, []Attempt, error) {
	log := c.opts.Logger
	messages := Messages(req.Lang, req.Grounding, req.Conversation, c.opts.Window)
	var attempts []Attempt
	var lastErr error

	for _, p := range c.providers {
		name := p.Name()
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}
		if !sb.CanUseProvider(name) {
			log.Debug().Str("provider", name).Msg("provider_skipped_soft_cap")
			c.opts.Metrics.ProviderCall(name, "skipped_cap", 0)
			attempts = append(attempts, Attempt{Provider: name, Outcome: "skipped_cap"})
			continue
		}
		if !sb.HasHeadroom(1) {
			log.Debug().Str("provider", name).Msg("provider_skipped_no_headroom")
			c.opts.Metrics.ProviderCall(name, "skipped_budget", 0)
			attempts = append(attempts, Attempt{Provider: name, Outcome: "skipped_budget"})
			continue
		}

		start := time.Now()
		resp, err := p.Complete(ctx, llm.CompletionRequest{Messages: messages, MaxTokens: c.opts.MaxTokens})
		elapsed := time.Since(start)
		if err == nil && (resp == nil || resp.Content == "") {
			err = errors.New("empty response")
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, attempts, ctx.Err()
			}
			log.Warn().Err(err).Str("provider", name).Dur("elapsed", elapsed).Msg("provider_failed")
			c.opts.Metrics.ProviderCall(name, "error", elapsed)
			attempts = append(attempts, Attempt{Provider: name, Outcome: "error", Err: err})
			lastErr = err
			continue
		}

		requested, reported := resp.Usage(), true
		if requested <= 0 {
			requested = estimate(messages, resp.Content)
			reported = false
		}
		granted := sb.Spend(name, requested)

		c.opts.Metrics.ProviderCall(name, "ok", elapsed)
		c.opts.Metrics.TokensGranted(name, granted)
		log.Info().
			Str("provider", name).
			Int("requested", requested).
			Int("granted", granted).
			Bool("reported", reported).
			Float64("cost_usd", llm.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)).
			Dur("elapsed", elapsed).
			Msg("provider_ok")
		attempts = append(attempts, Attempt{Provider: name, Outcome: "ok"})

		return &Result{Text: resp.Content, Provider: name, Tokens: granted, Reported: reported}, attempts, nil
	}

	if lastErr != nil {
		return nil, attempts, errors.Join(ErrMiss, lastErr)
	}
	return nil, attempts, ErrMiss
}

func estimate(messages []llm.Message, output string) int {
	n := budget.EstimateTokens(output)
	for _, m := range messages {
		n += budget.EstimateTokens(m.Content)
	}
	return n
}
