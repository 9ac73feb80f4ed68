package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/escalate"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/llm"
	"github.com/ziadkadry99/chattia/internal/sse"
	"github.com/ziadkadry99/chattia/internal/turnlog"
)

// Pack status values reported in X-Pack-Status.
const (
	PackOK          = "ok"
	PackUnavailable = "unavailable"
	PackFetchFailed = "fetch_failed"
)

// Error codes produced by the chat handler itself.
const (
	CodePackUnavailable    = "pack_unavailable"
	CodeProvidersExhausted = "providers_exhausted"
)

// handleChat runs the gate, then the policy and provider chain, and streams
// the answer as server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := s.opts.Gate.Check(r)
	if err != nil {
		var rej *gate.Rejection
		if errors.As(err, &rej) {
			if rej.Status == http.StatusMethodNotAllowed {
				w.Header().Set("Allow", "POST, OPTIONS")
			}
			writeError(w, rej.Status, rej.Code)
			return
		}
		writeError(w, http.StatusBadRequest, gate.CodeBadJSON)
		return
	}

	src := s.opts.Corpus
	if req.PackURL != "" {
		var ok bool
		if s.opts.Packs != nil {
			src, ok = s.opts.Packs(req.PackURL)
		}
		if !ok {
			writeError(w, http.StatusBadRequest, CodePackUnavailable)
			return
		}
	}
	c, packStatus := s.loadPack(r.Context(), src)

	sb := s.opts.Ledger.For(req.SessionID)
	res, err := s.opts.Escalator.Escalate(r.Context(), escalate.Request{
		SessionID:    req.SessionID,
		Lang:         req.Lang,
		Conversation: req.Messages,
		Corpus:       corpus.Static{C: c},
	}, sb, nil)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		code := CodeProvidersExhausted
		var httpErr *llm.HTTPError
		if errors.As(err, &httpErr) {
			code = httpErr.Code()
		}
		s.opts.Logger.Warn().Err(err).Str("session", req.SessionID).Str("code", code).Msg("chat_failed")
		w.Header().Set("X-Pack-Status", packStatus)
		writeError(w, http.StatusBadGateway, code)
		return
	}

	kind := turnlog.KindAnswer
	switch {
	case res.Refused():
		kind = turnlog.KindRefusal
	case res.Degraded():
		kind = turnlog.KindDegraded
	}
	s.opts.Metrics.Outcome("api", string(kind))

	h := w.Header()
	h.Set("X-Provider", res.Provider)
	h.Set("X-Tokens-This-Call", strconv.Itoa(res.Tokens))
	h.Set("X-Provider-Tokens", strconv.Itoa(sb.Provider(res.Provider)))
	h.Set("X-Session-Tokens", strconv.Itoa(sb.Total()))
	h.Set("X-Pack-Status", packStatus)
	if warn := sb.Warning(); warn != "" {
		h.Set("X-Budget-Warning", warn)
	}

	stream := sse.NewWriter(w)
	if err := stream.Send(res.Text); err == nil {
		stream.Close()
	}

	if s.opts.TurnLog != nil {
		if err := s.opts.TurnLog.LogTurn(context.WithoutCancel(r.Context()), turnlog.Turn{
			SessionID:     req.SessionID,
			Lang:          req.Lang,
			Path:          "api",
			Kind:          kind,
			Provider:      res.Provider,
			TokensOut:     res.Tokens,
			LatencyMS:     time.Since(start).Milliseconds(),
			Question:      llm.LastUser(req.Messages),
			AnswerPreview: res.Text,
			TopIDs:        res.Citations,
		}); err != nil {
			s.opts.Logger.Warn().Err(err).Msg("turn_log_failed")
		}
	}
}

// loadPack loads the corpus once per request so the escalator and the
// X-Pack-Status header agree. A failed load leaves the turn ungrounded.
func (s *Server) loadPack(ctx context.Context, src corpus.Source) (*corpus.Corpus, string) {
	if src == nil {
		return nil, PackUnavailable
	}
	c, err := src.Load(ctx)
	if err != nil {
		var fe *corpus.FetchError
		if errors.As(err, &fe) {
			s.opts.Logger.Warn().Err(err).Str("code", fe.Code()).Msg("pack_load_failed")
			return nil, PackFetchFailed
		}
		s.opts.Logger.Warn().Err(err).Msg("pack_load_failed")
		return nil, PackUnavailable
	}
	return c, PackOK
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
