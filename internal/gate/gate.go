// Package gate screens incoming chat requests before any answering tier runs.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/chattia/internal/llm"
	"github.com/ziadkadry99/chattia/internal/metrics"
)

// Defaults for Options.
const (
	DefaultMaxBodyBytes = 64 * 1024
	DefaultRatePerMin   = 20
	RateWindow          = time.Minute
)

// Wire error codes.
const (
	CodeOriginNotAllowed     = "origin_not_allowed"
	CodeMethodNotAllowed     = "method_not_allowed"
	CodeRateLimited          = "rate_limited"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodePayloadTooLarge      = "payload_too_large"
	CodeBadJSON              = "bad_json"
	CodeBotDetected          = "bot_detected"
	CodeCSRFFailed           = "csrf_failed"
)

// Rejection is a request refused by the gate.
type Rejection struct {
	Status int
	Code   string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("request rejected: %s (%d)", r.Code, r.Status)
}

func reject(status int, code string) *Rejection {
	return &Rejection{Status: status, Code: code}
}

// ChatBody is the JSON body of a chat request.
type ChatBody struct {
	Messages []llm.Message `json:"messages"`
	Lang     string        `json:"lang"`
	CSRF     string        `json:"csrf"`
	HP       string        `json:"hp"`
	PackURL  string        `json:"packUrl,omitempty"`
}

// Request is a chat request that passed the gate.
type Request struct {
	ChatBody
	ClientIP  string
	SessionID string
}

// Options configures a Gate.
type Options struct {
	// AllowedOrigin, when set, rejects requests whose Origin header differs.
	AllowedOrigin string
	MaxBodyBytes  int64
	Limiter       RateLimiter
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Gate applies the request checks in a fixed order.
type Gate struct {
	opts Options
}

// New creates a Gate. A nil Limiter gets an in-memory 20/min limiter.
func New(opts Options) *Gate {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Limiter == nil {
		opts.Limiter = NewMemoryLimiter(DefaultRatePerMin, RateWindow)
	}
	return &Gate{opts: opts}
}

// AllowedOrigin returns the configured UI origin.
func (g *Gate) AllowedOrigin() string { return g.opts.AllowedOrigin }

// Check validates r: origin, method, rate, content type, body size, JSON,
// bot trap and the anti-replay token, in that order.
func (g *Gate) Check(r *http.Request) (*Request, error) {
	req, rej := g.check(r)
	if rej != nil {
		g.opts.Metrics.GateRejected(rej.Code)
		g.opts.Logger.Info().Str("code", rej.Code).Str("ip", ClientIP(r)).Msg("request_rejected")
		return nil, rej
	}
	return req, nil
}

func (g *Gate) check(r *http.Request) (*Request, *Rejection) {
	if origin := r.Header.Get("Origin"); g.opts.AllowedOrigin != "" && origin != "" && origin != g.opts.AllowedOrigin {
		return nil, reject(http.StatusForbidden, CodeOriginNotAllowed)
	}

	if r.Method != http.MethodPost {
		return nil, reject(http.StatusMethodNotAllowed, CodeMethodNotAllowed)
	}

	ip := ClientIP(r)
	if !g.allow(r.Context(), ip) {
		return nil, reject(http.StatusTooManyRequests, CodeRateLimited)
	}

	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil, reject(http.StatusUnsupportedMediaType, CodeUnsupportedMediaType)
	}

	if r.ContentLength > g.opts.MaxBodyBytes {
		return nil, reject(http.StatusRequestEntityTooLarge, CodePayloadTooLarge)
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, g.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, reject(http.StatusBadRequest, CodeBadJSON)
	}
	if int64(len(data)) > g.opts.MaxBodyBytes {
		return nil, reject(http.StatusRequestEntityTooLarge, CodePayloadTooLarge)
	}

	var body ChatBody
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, reject(http.StatusBadRequest, CodeBadJSON)
		}
	}

	if strings.TrimSpace(body.HP) != "" {
		return nil, reject(http.StatusBadRequest, CodeBotDetected)
	}

	if !CSRFMatches(r.Header.Get("X-CSRF"), body.CSRF) {
		return nil, reject(http.StatusForbidden, CodeCSRFFailed)
	}

	body.Lang = NormalizeLang(body.Lang)
	session := r.Header.Get("X-Session")
	if session == "" {
		session = body.CSRF
	}
	return &Request{ChatBody: body, ClientIP: ip, SessionID: session}, nil
}

// allow consults the limiter. Limiter errors fail open.
func (g *Gate) allow(ctx context.Context, ip string) bool {
	ok, err := g.opts.Limiter.Allow(ctx, ip)
	if err != nil {
		g.opts.Logger.Warn().Err(err).Msg("rate_limiter_failed")
		return true
	}
	return ok
}

// CheckUpgrade validates a websocket upgrade. A browser always sends Origin on
// an upgrade, so when an origin is configured it must be present and equal.
// The anti-replay token travels in the csrf query parameter and is returned
// for matching against every frame.
func (g *Gate) CheckUpgrade(r *http.Request) (string, error) {
	rej := func(status int, code string) (string, error) {
		g.opts.Metrics.GateRejected(code)
		g.opts.Logger.Info().Str("code", code).Str("ip", ClientIP(r)).Msg("upgrade_rejected")
		return "", reject(status, code)
	}
	if g.opts.AllowedOrigin != "" && r.Header.Get("Origin") != g.opts.AllowedOrigin {
		return rej(http.StatusForbidden, CodeOriginNotAllowed)
	}
	token := strings.TrimSpace(r.URL.Query().Get("csrf"))
	if token == "" {
		return rej(http.StatusForbidden, CodeCSRFFailed)
	}
	return token, nil
}

// Admit applies the per-client rate limit to one unit of work that did not
// arrive through Check, such as a websocket message.
func (g *Gate) Admit(ctx context.Context, clientIP string) error {
	if g.allow(ctx, clientIP) {
		return nil
	}
	g.opts.Metrics.GateRejected(CodeRateLimited)
	g.opts.Logger.Info().Str("code", CodeRateLimited).Str("ip", clientIP).Msg("request_rejected")
	return reject(http.StatusTooManyRequests, CodeRateLimited)
}

// CSRFMatches reports whether a double-submitted token pair is present and equal.
func CSRFMatches(expected, got string) bool {
	return expected != "" && got != "" && expected == got
}

// NormalizeLang maps a requested language onto the supported set.
func NormalizeLang(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), "es") {
		return "es"
	}
	return "en"
}

// ClientIP resolves the caller: first X-Forwarded-For entry, then
// CF-Connecting-IP, X-Real-IP and finally the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "0.0.0.0"
}
