package escalate

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/chattia/internal/budget"
	"github.com/ziadkadry99/chattia/internal/chain"
	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/llm"
	"github.com/ziadkadry99/chattia/internal/metrics"
	"github.com/ziadkadry99/chattia/internal/resolver"
)

// InProcessOptions configures an InProcess escalator.
type InProcessOptions struct {
	Corpus corpus.Source
	Policy *gate.Policy
	// Grounding is the number of context chunks; 0 means DefaultGrounding.
	Grounding int
	// Extractive answers from the corpus when every provider fails.
	Extractive bool
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// InProcess runs the policy gate and provider chain in this process.
type InProcess struct {
	chain *chain.Chain
	opts  InProcessOptions
}

// NewInProcess creates an escalator over c. A nil Policy uses the default.
func NewInProcess(c *chain.Chain, opts InProcessOptions) *InProcess {
	if opts.Policy == nil {
		opts.Policy = gate.DefaultPolicy()
	}
	if opts.Grounding <= 0 {
		opts.Grounding = DefaultGrounding
	}
	return &InProcess{chain: c, opts: opts}
}

// Escalate refuses disallowed questions, otherwise grounds the conversation
// in the corpus and runs the chain. A chain miss returns the chain error
// unless extractive fallback is enabled and grounding exists.
func (e *InProcess) Escalate(ctx context.Context, req Request, sb *budget.SessionBudget, emit func(string)) (*Result, error) {
	if emit == nil {
		emit = func(string) {}
	}
	question := llm.LastUser(req.Conversation)

	if v := e.opts.Policy.Evaluate(question); !v.Allowed {
		e.opts.Metrics.PolicyRefused()
		e.opts.Logger.Info().Strs("reasons", v.Reasons).Str("session", req.SessionID).Msg("policy_refused")
		text := gate.Refusal(req.Lang)
		emit(text)
		return &Result{Text: text, Provider: ProviderPolicy}, nil
	}

	src := req.Corpus
	if src == nil {
		src = e.opts.Corpus
	}
	var c *corpus.Corpus
	if src != nil {
		loaded, err := src.Load(ctx)
		if err != nil {
			e.opts.Logger.Warn().Err(err).Msg("corpus_unavailable")
		} else {
			c = loaded
		}
	}
	top := resolver.Top(c, question, req.Lang, e.opts.Grounding)
	grounding := make([]corpus.Chunk, len(top))
	for i, sc := range top {
		grounding[i] = corpus.Chunk{ID: sc.ID, Text: sc.Text}
	}

	res, err := e.chain.Run(ctx, chain.Request{
		Conversation: req.Conversation,
		Lang:         req.Lang,
		Grounding:    grounding,
	}, sb)
	if err == nil {
		emit(res.Text)
		return &Result{Text: res.Text, Provider: res.Provider, Tokens: res.Tokens}, nil
	}
	if !errors.Is(err, chain.ErrMiss) || !e.opts.Extractive || len(top) == 0 {
		return nil, err
	}

	text, ids := resolver.Compose(top)
	e.opts.Logger.Info().Err(err).Strs("citations", ids).Msg("extractive_fallback")
	emit(text)
	return &Result{Text: text, Provider: ProviderExtractive, Citations: ids}, nil
}
