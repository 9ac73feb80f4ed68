package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxPackBytes bounds a single pack download.
const maxPackBytes = 32 << 20

// ErrUnavailable is returned when no corpus can be produced at all.
var ErrUnavailable = errors.New("pack_unavailable")

// FetchError reports a failed pack download.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching pack %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetching pack %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Code returns the wire error code for the failure.
func (e *FetchError) Code() string { return "pack_fetch_failed" }

// Source produces the current corpus.
type Source interface {
	Load(ctx context.Context) (*Corpus, error)
}

// Static is a Source that always returns the same corpus.
type Static struct {
	C *Corpus
}

func (s Static) Load(context.Context) (*Corpus, error) {
	if s.C == nil {
		return nil, ErrUnavailable
	}
	return s.C, nil
}

// HTTPOptions configures an HTTPSource.
type HTTPOptions struct {
	// SHA256 is the expected hex digest of the pack body. Empty disables the check.
	SHA256 string
	// RevalidateAfter is how long a parsed pack is served before a conditional re-fetch.
	RevalidateAfter time.Duration
	Client          *http.Client
	Cache           Cache
	Logger          zerolog.Logger
}

// HTTPSource fetches a pack over HTTP and keeps the last good parse in memory.
type HTTPSource struct {
	url  string
	opts HTTPOptions
	now  func() time.Time

	mu      sync.Mutex
	current *Corpus
	etag    string
	checked time.Time
	primed  bool
}

// NewHTTPSource creates a source for the pack at url.
func NewHTTPSource(url string, opts HTTPOptions) *HTTPSource {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSource{url: url, opts: opts, now: time.Now}
}

// URL returns the pack location.
func (s *HTTPSource) URL() string { return s.url }

// Load returns the cached corpus while it is fresh, otherwise revalidates it.
// A failed revalidation keeps serving the previous parse.
func (s *HTTPSource) Load(ctx context.Context) (*Corpus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		s.primed = true
		s.restore()
	}

	if s.current != nil && s.opts.RevalidateAfter > 0 && s.now().Sub(s.checked) < s.opts.RevalidateAfter {
		return s.current, nil
	}

	c, err := s.fetch(ctx)
	if err != nil {
		if s.current != nil {
			s.opts.Logger.Warn().Err(err).Str("url", s.url).Msg("pack_revalidate_failed")
			return s.current, nil
		}
		return nil, err
	}
	s.current = c
	s.checked = s.now()
	return c, nil
}

// Invalidate drops the in-memory parse so the next Load re-fetches unconditionally.
func (s *HTTPSource) Invalidate() {
	s.mu.Lock()
	s.current = nil
	s.etag = ""
	s.mu.Unlock()
}

func (s *HTTPSource) restore() {
	if s.opts.Cache == nil {
		return
	}
	entry, err := s.opts.Cache.Get(s.url)
	if err != nil || entry == nil {
		if err != nil {
			s.opts.Logger.Warn().Err(err).Str("url", s.url).Msg("pack_cache_read_failed")
		}
		return
	}
	c, err := s.parse(entry.Body)
	if err != nil {
		s.opts.Logger.Warn().Err(err).Str("url", s.url).Msg("pack_cache_discarded")
		return
	}
	s.current = c
	s.etag = entry.ETag
}

func (s *HTTPSource) fetch(ctx context.Context) (*Corpus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if s.etag != "" && s.current != nil {
		req.Header.Set("If-None-Match", s.etag)
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && s.current != nil {
		return s.current, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: s.url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPackBytes))
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}

	c, err := s.parse(body)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}

	s.etag = resp.Header.Get("ETag")
	if s.opts.Cache != nil {
		if err := s.opts.Cache.Put(s.url, CacheEntry{
			ETag:      s.etag,
			Digest:    c.Digest,
			Body:      body,
			FetchedAt: s.now(),
		}); err != nil {
			s.opts.Logger.Warn().Err(err).Str("url", s.url).Msg("pack_cache_write_failed")
		}
	}
	s.opts.Logger.Info().Str("url", s.url).Int("chunks", c.Len()).Str("etag", s.etag).Msg("pack_loaded")
	return c, nil
}

func (s *HTTPSource) parse(body []byte) (*Corpus, error) {
	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])
	if want := strings.ToLower(strings.TrimSpace(s.opts.SHA256)); want != "" && want != digest {
		return nil, fmt.Errorf("pack digest mismatch: got %s, want %s", digest, want)
	}
	c, err := Parse(body)
	if err != nil {
		return nil, err
	}
	c.Digest = digest
	return c, nil
}
