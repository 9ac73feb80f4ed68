package orchestrator

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/chattia/internal/budget"
	"github.com/ziadkadry99/chattia/internal/chain"
	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/escalate"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/lexical"
	"github.com/ziadkadry99/chattia/internal/llm"
	"github.com/ziadkadry99/chattia/internal/ondevice"
	"github.com/ziadkadry99/chattia/internal/resolver"
	"github.com/ziadkadry99/chattia/internal/turnlog"
)

// Localized fixed answers.
var (
	unavailableText = map[string]string{
		"en": "Server path unavailable at the moment.",
		"es": "Ruta de servidor no disponible en este momento.",
	}
	truncatedText = map[string]string{
		"en": "Session token cap reached. Truncating.",
		"es": "Límite de tokens de la sesión alcanzado. Respuesta truncada.",
	}
)

// Unavailable is the decline sent when no tier could answer.
func Unavailable(lang string) string {
	return localized(unavailableText, lang)
}

func localized(m map[string]string, lang string) string {
	if s, ok := m[lang]; ok {
		return s
	}
	return m["en"]
}

// run is the state of one turn.
type run struct {
	o    *Orchestrator
	ctx  context.Context
	log  zerolog.Logger
	sink Sink
	sb   *budget.SessionBudget

	sessionID string
	lang      string
	input     string
	conv      []llm.Message
	corpus    *corpus.Corpus
	top       []lexical.ScoredChunk

	covered bool
}

func (r *run) tiers() (*Outcome, error) {
	if out := r.tier1(); out != nil {
		return out, nil
	}

	out, err := r.tier2()
	if err != nil || out != nil {
		return out, err
	}

	if v := r.o.opts.Policy.Evaluate(r.input); !v.Allowed {
		r.o.opts.Metrics.PolicyRefused()
		r.log.Info().Strs("reasons", v.Reasons).Msg("policy_refused")
		text := gate.Refusal(r.lang)
		r.sink.Fragment(text)
		return &Outcome{Kind: turnlog.KindRefusal, Path: PathPolicy, Text: text, Provider: escalate.ProviderPolicy}, nil
	}

	out, err = r.tier3()
	if err != nil || out != nil {
		return out, err
	}
	return r.fallback(), nil
}

func (r *run) tier1() *Outcome {
	ans, ok := resolver.Resolve(r.corpus, r.input, r.lang, r.o.opts.Confidence, r.o.opts.Coverage)
	if !ok {
		return nil
	}
	r.covered = true
	r.sink.Fragment(ans.Text)
	return &Outcome{Kind: turnlog.KindAnswer, Path: PathTier1, Text: ans.Text, Citations: ans.Citations}
}

// tier2 streams from the on-device model. Any text produced is an answer,
// even when the budget cut the stream short.
func (r *run) tier2() (*Outcome, error) {
	gen := r.o.opts.OnDevice
	if gen == nil || !r.sb.HasHeadroom(tier2Headroom) || !gen.Available(r.ctx) {
		return nil, nil
	}
	if err := gen.Load(r.ctx); err != nil {
		if r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}
		r.log.Warn().Err(err).Msg("ondevice_load_failed")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	grounding := resolver.Grounding(r.corpus, r.input, r.lang, tier2Grounding)
	events, err := gen.Generate(ctx, chain.Messages(r.lang, grounding, r.conv, r.o.opts.Window))
	if err != nil {
		r.log.Warn().Err(err).Msg("ondevice_generate_failed")
		return nil, nil
	}

	var text strings.Builder
	tokens := 0
	truncated := false
loop:
	for ev := range events {
		switch {
		case ev.Err != nil:
			r.log.Warn().Err(ev.Err).Msg("ondevice_stream_failed")
			break loop
		case ev.Done:
			// A reported count above the running estimate is charged too.
			if ev.Usage > tokens {
				tokens += r.sb.Spend(ondevice.ProviderName, ev.Usage-tokens)
			}
			break loop
		case ev.Text == "":
			continue
		}
		want := budget.EstimateTokens(ev.Text)
		granted := r.sb.Spend(ondevice.ProviderName, want)
		if granted > 0 {
			frag := ev.Text
			if granted < want {
				frag = budget.TrimToTokens(frag, granted)
			}
			tokens += granted
			text.WriteString(frag)
			r.sink.Fragment(frag)
		}
		if granted < want {
			truncated = true
			break loop
		}
	}
	cancel()
	r.o.opts.Metrics.TokensGranted(ondevice.ProviderName, tokens)

	if err := r.ctx.Err(); err != nil && text.Len() == 0 {
		return nil, err
	}
	if text.Len() == 0 {
		return nil, nil
	}
	out := &Outcome{Kind: turnlog.KindAnswer, Path: PathOnDevice, Text: text.String(), Provider: ondevice.ProviderName, Tokens: tokens}
	if truncated {
		out.Warning = localized(truncatedText, r.lang)
	}
	return out, nil
}

// tier3 escalates. A nil outcome with a nil error means the fallback runs.
func (r *run) tier3() (*Outcome, error) {
	esc := r.o.opts.Escalator
	if esc == nil {
		return nil, nil
	}
	if !r.sb.HasHeadroom(1) {
		r.log.Info().Int("total", r.sb.Total()).Msg("escalation_skipped_no_budget")
		return nil, nil
	}

	res, err := esc.Escalate(r.ctx, escalate.Request{
		SessionID:    r.sessionID,
		Lang:         r.lang,
		Conversation: llm.Window(r.conv, r.o.opts.Window),
	}, r.sb, r.sink.Fragment)
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}
		r.log.Warn().Err(err).Msg("escalation_failed")
		return nil, nil
	}

	out := &Outcome{Kind: turnlog.KindAnswer, Path: PathServer, Text: res.Text, Provider: res.Provider, Tokens: res.Tokens, Citations: res.Citations}
	switch {
	case res.Refused():
		out.Kind, out.Path = turnlog.KindRefusal, PathPolicy
	case res.Degraded():
		out.Kind = turnlog.KindDegraded
	}
	return out, nil
}

// fallback answers from the corpus when Tier-3 could not, labeled degraded,
// or declines when there is nothing to ground on.
func (r *run) fallback() *Outcome {
	if len(r.top) == 0 {
		text := Unavailable(r.lang)
		r.sink.Fragment(text)
		return &Outcome{Kind: turnlog.KindDecline, Path: PathNone, Text: text}
	}
	dump, ids := resolver.Compose(r.top)
	text := Unavailable(r.lang) + "\n\n" + dump
	r.sink.Fragment(text)
	return &Outcome{Kind: turnlog.KindDegraded, Path: PathOffline, Text: text, Citations: ids}
}
