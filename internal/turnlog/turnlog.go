// Package turnlog stores one row per finished conversational turn and
// aggregates them into insights: where tokens went, which paths answered,
// and which questions the pack failed to cover.
package turnlog

import "time"

// Kind is the terminal outcome of a turn.
type Kind string

const (
	KindAnswer   Kind = "answer"
	KindDegraded Kind = "degraded"
	KindRefusal  Kind = "refusal"
	KindDecline  Kind = "decline"
)

// Turn is a single logged turn.
type Turn struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"session_id"`
	Lang          string    `json:"lang"`
	Path          string    `json:"path"`
	Kind          Kind      `json:"kind"`
	Provider      string    `json:"provider,omitempty"`
	TokensIn      int       `json:"tokens_in"`
	TokensOut     int       `json:"tokens_out"`
	LatencyMS     int64     `json:"latency_ms"`
	Question      string    `json:"question"`
	AnswerPreview string    `json:"answer_preview"`
	TopIDs        []string  `json:"top_ids"`
	CoverageOK    bool      `json:"coverage_ok"`
}

// Candidate is a question the pack did not cover, with how often it was asked.
type Candidate struct {
	Question string `json:"q"`
	Count    int    `json:"n"`
}

// Snapshot aggregates the whole log.
type Snapshot struct {
	Total      int            `json:"total"`
	ByPath     map[string]int `json:"by_path"`
	Spent      int            `json:"spent"`
	ByProvider map[string]int `json:"by_provider"`
	Candidates []Candidate    `json:"candidates"`
}

// PreviewLen caps the stored answer preview in runes.
const PreviewLen = 240

// MaxCandidates is the number of pack candidates a Snapshot reports.
const MaxCandidates = 10
