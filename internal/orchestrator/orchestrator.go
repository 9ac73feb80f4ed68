// Package orchestrator runs one conversational turn through the answering
// tiers: local extractive answer, on-device model, then the remote chain,
// with an offline fallback when the last tier cannot be reached.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/chattia/internal/budget"
	"github.com/ziadkadry99/chattia/internal/chain"
	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/escalate"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/lexical"
	"github.com/ziadkadry99/chattia/internal/llm"
	"github.com/ziadkadry99/chattia/internal/metrics"
	"github.com/ziadkadry99/chattia/internal/ondevice"
	"github.com/ziadkadry99/chattia/internal/resolver"
	"github.com/ziadkadry99/chattia/internal/shield"
	"github.com/ziadkadry99/chattia/internal/turnlog"
)

// Paths name the tier that produced an outcome.
const (
	PathTier1    = "tier1"
	PathOnDevice = "ondevice"
	PathServer   = "server"
	PathPolicy   = "policy"
	PathOffline  = "offline"
	PathNone     = "none"
)

const (
	// tier2Headroom is the budget Tier-2 needs before it is tried.
	tier2Headroom = 100
	// tier2Grounding is the number of context chunks given to the local model.
	tier2Grounding = 4
	// candidateIDs is how many top chunk ids are logged per turn.
	candidateIDs = 5
)

var (
	// ErrTurnInFlight is returned when a session already has a running turn.
	ErrTurnInFlight = errors.New("turn already in flight for this session")
	// ErrEmptyInput is returned for blank input.
	ErrEmptyInput = errors.New("empty input")
)

// BlockedError is returned when the input shield rejects a message.
type BlockedError struct {
	Score   int
	Reasons []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("input blocked (score %d): %s", e.Score, strings.Join(e.Reasons, ", "))
}

// Turn is one user message.
type Turn struct {
	SessionID string
	Lang      string
	Input     string
}

// Outcome is the single terminal result of a turn.
type Outcome struct {
	Kind      turnlog.Kind
	Path      string
	Text      string
	Provider  string
	Citations []string
	Tokens    int
	// Warning is set when the session budget is near or at its cap, or the
	// answer was truncated.
	Warning string
}

// Sink receives answer text as it is produced.
type Sink interface {
	Fragment(text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(string)

// Fragment calls f.
func (f SinkFunc) Fragment(text string) { f(text) }

// TurnLogger records finished turns.
type TurnLogger interface {
	LogTurn(ctx context.Context, turn turnlog.Turn) error
}

// Options configures an Orchestrator.
type Options struct {
	Corpus corpus.Source
	Ledger *budget.Ledger
	// OnDevice is optional.
	OnDevice ondevice.Generator
	// Escalator is optional; without it a Tier-1 miss goes straight to the
	// offline fallback.
	Escalator escalate.Escalator
	Policy    *gate.Policy
	Shield    shield.Options

	Confidence float64
	Coverage   int
	Window     int

	Log     TurnLogger
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator runs turns. It keeps the conversation of every session.
type Orchestrator struct {
	opts Options

	inflight sync.Map // session id -> context.CancelFunc

	mu       sync.Mutex
	sessions map[string][]llm.Message
}

// New creates an Orchestrator. Zero thresholds take the resolver defaults.
func New(opts Options) *Orchestrator {
	if opts.Ledger == nil {
		opts.Ledger = budget.NewLedger(budget.DefaultLimits())
	}
	if opts.Policy == nil {
		opts.Policy = gate.DefaultPolicy()
	}
	if opts.Confidence <= 0 {
		opts.Confidence = resolver.DefaultConfidence
	}
	if opts.Coverage <= 0 {
		opts.Coverage = resolver.DefaultCoverage
	}
	if opts.Window <= 0 {
		opts.Window = chain.DefaultWindow
	}
	return &Orchestrator{opts: opts, sessions: make(map[string][]llm.Message)}
}

// Ledger returns the budget ledger.
func (o *Orchestrator) Ledger() *budget.Ledger { return o.opts.Ledger }

// Stop cancels the running turn of sessionID. It reports whether one was running.
func (o *Orchestrator) Stop(sessionID string) bool {
	v, ok := o.inflight.Load(sessionID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// Conversation returns a copy of the session's message history.
func (o *Orchestrator) Conversation(sessionID string) []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]llm.Message(nil), o.sessions[sessionID]...)
}

// Reset forgets the session's conversation. The budget is kept.
func (o *Orchestrator) Reset(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, sessionID)
}

func (o *Orchestrator) appendMessage(sessionID string, m llm.Message) []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[sessionID] = append(o.sessions[sessionID], m)
	return append([]llm.Message(nil), o.sessions[sessionID]...)
}

// Run answers one turn. It returns ErrTurnInFlight without doing anything if
// the session is busy, a *BlockedError or ErrEmptyInput for rejected input,
// and the context error if the turn is stopped. Otherwise exactly one
// Outcome is returned.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, sink Sink) (*Outcome, error) {
	if sink == nil {
		sink = SinkFunc(func(string) {})
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if _, busy := o.inflight.LoadOrStore(turn.SessionID, context.CancelFunc(cancel)); busy {
		return nil, ErrTurnInFlight
	}
	defer o.inflight.Delete(turn.SessionID)

	start := time.Now()
	lang := gate.NormalizeLang(turn.Lang)
	log := o.opts.Logger.With().Str("session", turn.SessionID).Str("lang", lang).Logger()

	scan := shield.Scan(turn.Input, o.opts.Shield)
	if !scan.OK {
		log.Info().Int("score", scan.Score).Strs("reasons", scan.Reasons).Msg("input_blocked")
		return nil, &BlockedError{Score: scan.Score, Reasons: scan.Reasons}
	}
	input := scan.Sanitized
	if input == "" {
		return nil, ErrEmptyInput
	}

	sb := o.opts.Ledger.For(turn.SessionID)
	conv := o.appendMessage(turn.SessionID, llm.Message{Role: llm.RoleUser, Content: input})

	c := o.loadCorpus(ctx, log)
	top := resolver.Top(c, input, lang, candidateIDs)

	r := &run{o: o, ctx: ctx, log: log, sink: sink, sb: sb, sessionID: turn.SessionID, lang: lang, input: input, conv: conv, corpus: c, top: top}
	out, err := r.tiers()
	if err != nil {
		log.Info().Err(err).Msg("turn_stopped")
		return nil, err
	}

	if w := sb.Warning(); w != "" {
		if out.Warning != "" {
			out.Warning += " " + w
		} else {
			out.Warning = w
		}
	}

	o.appendMessage(turn.SessionID, llm.Message{Role: llm.RoleAssistant, Content: out.Text})
	o.record(turn.SessionID, lang, input, out, r.covered, top, time.Since(start), log)
	return out, nil
}

func (o *Orchestrator) loadCorpus(ctx context.Context, log zerolog.Logger) *corpus.Corpus {
	if o.opts.Corpus == nil {
		return nil
	}
	c, err := o.opts.Corpus.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("corpus_unavailable")
		return nil
	}
	return c
}

func (o *Orchestrator) record(sessionID, lang, input string, out *Outcome, covered bool, top []lexical.ScoredChunk, elapsed time.Duration, log zerolog.Logger) {
	o.opts.Metrics.Outcome(out.Path, string(out.Kind))
	log.Info().
		Str("path", out.Path).
		Str("kind", string(out.Kind)).
		Str("provider", out.Provider).
		Int("tokens", out.Tokens).
		Dur("elapsed", elapsed).
		Msg("turn_done")

	if o.opts.Log == nil {
		return
	}
	ids := make([]string, len(top))
	for i, sc := range top {
		ids[i] = sc.ID
	}
	err := o.opts.Log.LogTurn(context.Background(), turnlog.Turn{
		SessionID:     sessionID,
		Lang:          lang,
		Path:          out.Path,
		Kind:          out.Kind,
		Provider:      out.Provider,
		TokensOut:     out.Tokens,
		LatencyMS:     elapsed.Milliseconds(),
		Question:      input,
		AnswerPreview: out.Text,
		TopIDs:        ids,
		CoverageOK:    covered,
	})
	if err != nil {
		log.Warn().Err(err).Msg("turn_log_failed")
	}
}
