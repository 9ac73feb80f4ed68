package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ziadkadry99/chattia/internal/budget"
	"github.com/ziadkadry99/chattia/internal/chain"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/llm"
	"github.com/ziadkadry99/chattia/internal/sse"
)

// RemoteOptions configures a Remote escalator.
type RemoteOptions struct {
	// Origin is sent as the Origin header when set.
	Origin string
	// Window is how many messages are sent; 0 means chain.DefaultWindow.
	Window int
	Client *http.Client
	Logger zerolog.Logger
}

// Remote posts turns to a chat endpoint and reads its event stream.
type Remote struct {
	endpoint string
	csrf     string
	opts     RemoteOptions
}

// NewRemote creates an escalator for the chat endpoint at url.
func NewRemote(url string, opts RemoteOptions) *Remote {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 120 * time.Second}
	}
	if opts.Window <= 0 {
		opts.Window = chain.DefaultWindow
	}
	return &Remote{endpoint: url, csrf: uuid.New().String(), opts: opts}
}

// Endpoint returns the chat endpoint URL.
func (r *Remote) Endpoint() string { return r.endpoint }

// Escalate sends the windowed conversation, streams fragments to emit and
// charges the tokens the server reports to sb under the answering provider.
func (r *Remote) Escalate(ctx context.Context, req Request, sb *budget.SessionBudget, emit func(string)) (*Result, error) {
	if emit == nil {
		emit = func(string) {}
	}
	body, err := json.Marshal(gate.ChatBody{
		Messages: llm.Window(req.Conversation, r.opts.Window),
		Lang:     req.Lang,
		CSRF:     r.csrf,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-CSRF", r.csrf)
	if req.SessionID != "" {
		httpReq.Header.Set("X-Session", req.SessionID)
	}
	if r.opts.Origin != "" {
		httpReq.Header.Set("Origin", r.opts.Origin)
	}

	resp, err := r.opts.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readServerError(resp)
	}

	var text strings.Builder
	if _, err := sse.Read(resp.Body, func(data string) bool {
		text.WriteString(data)
		emit(data)
		return true
	}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if text.Len() == 0 {
			return nil, fmt.Errorf("%w: reading stream: %v", ErrUnavailable, err)
		}
		r.opts.Logger.Warn().Err(err).Msg("chat_stream_cut")
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: empty stream", ErrUnavailable)
	}

	provider := resp.Header.Get("X-Provider")
	if provider == "" {
		provider = "unknown"
	}
	used, _ := strconv.Atoi(resp.Header.Get("X-Tokens-This-Call"))
	granted := 0
	if used > 0 {
		granted = sb.Spend(provider, used)
	}
	r.opts.Logger.Debug().
		Str("provider", provider).
		Int("used", used).
		Int("granted", granted).
		Str("pack_status", resp.Header.Get("X-Pack-Status")).
		Msg("chat_remote_ok")

	return &Result{Text: text.String(), Provider: provider, Tokens: granted}, nil
}

func readServerError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = http.StatusText(resp.StatusCode)
	}
	return &ServerError{Status: resp.StatusCode, Code: payload.Error}
}
