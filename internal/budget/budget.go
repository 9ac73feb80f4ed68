// Package budget meters generation tokens per session and per provider.
//
// Ledgers live in memory only. A restart forgets every session's spend.
package budget

import (
	"sync"
	"unicode/utf8"
)

// Defaults for Limits.
const (
	DefaultHardCap         = 35000
	DefaultProviderSoftCap = 20000
	DefaultWarnAt          = 25000
)

// Limits are the caps applied to every session.
type Limits struct {
	// HardCap is the most a session may ever be granted.
	HardCap int
	// ProviderSoftCap stops new requests to a provider once reached.
	ProviderSoftCap int
	// WarnAt is the session total that triggers a warning. It never blocks.
	WarnAt int
}

// DefaultLimits returns the stock caps.
func DefaultLimits() Limits {
	return Limits{HardCap: DefaultHardCap, ProviderSoftCap: DefaultProviderSoftCap, WarnAt: DefaultWarnAt}
}

// Ledger maps session ids to their budgets. Entries are never evicted.
type Ledger struct {
	limits   Limits
	sessions sync.Map
}

// NewLedger creates an empty ledger. Zero limits fall back to the defaults.
func NewLedger(limits Limits) *Ledger {
	d := DefaultLimits()
	if limits.HardCap <= 0 {
		limits.HardCap = d.HardCap
	}
	if limits.ProviderSoftCap <= 0 {
		limits.ProviderSoftCap = d.ProviderSoftCap
	}
	if limits.WarnAt <= 0 {
		limits.WarnAt = d.WarnAt
	}
	return &Ledger{limits: limits}
}

// Limits returns the caps this ledger enforces.
func (l *Ledger) Limits() Limits { return l.limits }

// For returns the budget for sessionID, creating it on first access.
func (l *Ledger) For(sessionID string) *SessionBudget {
	if v, ok := l.sessions.Load(sessionID); ok {
		return v.(*SessionBudget)
	}
	v, _ := l.sessions.LoadOrStore(sessionID, &SessionBudget{
		id:          sessionID,
		limits:      l.limits,
		perProvider: make(map[string]int),
	})
	return v.(*SessionBudget)
}

// SessionBudget is one session's running totals.
type SessionBudget struct {
	id     string
	limits Limits

	mu          sync.Mutex
	total       int
	perProvider map[string]int
}

// Snapshot is a point-in-time copy of a SessionBudget.
type Snapshot struct {
	SessionID   string         `json:"session_id"`
	Total       int            `json:"total"`
	HardCap     int            `json:"hard_cap"`
	PerProvider map[string]int `json:"per_provider"`
}

// SessionID returns the owning session.
func (b *SessionBudget) SessionID() string { return b.id }

// Spend grants at most requested tokens without crossing the hard cap and
// records them against provider. It returns the granted amount.
func (b *SessionBudget) Spend(provider string, requested int) int {
	if requested <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	granted := min(requested, b.limits.HardCap-b.total)
	if granted <= 0 {
		return 0
	}
	b.total += granted
	b.perProvider[provider] += granted
	return granted
}

// CanUseProvider reports whether provider is still under its soft cap.
func (b *SessionBudget) CanUseProvider(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perProvider[provider] < b.limits.ProviderSoftCap
}

// HasHeadroom reports whether at least minimum tokens remain under the hard cap.
func (b *SessionBudget) HasHeadroom(minimum int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limits.HardCap-b.total >= minimum
}

// Total returns the tokens granted so far.
func (b *SessionBudget) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Provider returns the tokens granted to provider so far.
func (b *SessionBudget) Provider(provider string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perProvider[provider]
}

// Warning returns a non-empty message when the session is near or at its cap.
func (b *SessionBudget) Warning() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.total >= b.limits.HardCap:
		return "Session budget reached: hard cap hit, further generation is disabled for this session."
	case b.total >= b.limits.WarnAt:
		return "Approaching session budget."
	}
	return ""
}

// Snapshot copies the current totals.
func (b *SessionBudget) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	per := make(map[string]int, len(b.perProvider))
	for k, v := range b.perProvider {
		per[k] = v
	}
	return Snapshot{SessionID: b.id, Total: b.total, HardCap: b.limits.HardCap, PerProvider: per}
}

// EstimateTokens approximates a token count as ceil(characters / 4).
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// TrimToTokens cuts s to the longest rune prefix that fits in tokens.
func TrimToTokens(s string, tokens int) string {
	if tokens <= 0 {
		return ""
	}
	r := []rune(s)
	if n := tokens * 4; n < len(r) {
		return string(r[:n])
	}
	return s
}
