package turnlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ziadkadry99/chattia/internal/db"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// Store persists turns in the local SQLite database.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// LogTurn inserts a turn. If turn.ID is empty a UUID is generated. Question
// and answer text are redacted before they reach disk.
func (s *Store) LogTurn(ctx context.Context, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if turn.TopIDs == nil {
		turn.TopIDs = []string{}
	}

	topIDs, err := json.Marshal(turn.TopIDs)
	if err != nil {
		return fmt.Errorf("marshalling top ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (
			id, timestamp, session_id, lang, path, kind, provider,
			tokens_in, tokens_out, latency_ms, question, answer_preview,
			top_ids, coverage_ok
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID,
		turn.Timestamp.UTC().Format(timestampLayout),
		turn.SessionID,
		turn.Lang,
		turn.Path,
		string(turn.Kind),
		turn.Provider,
		turn.TokensIn,
		turn.TokensOut,
		turn.LatencyMS,
		Redact(turn.Question),
		Redact(preview(turn.AnswerPreview)),
		string(topIDs),
		turn.CoverageOK,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// QueryFilter controls which turns are returned by Query.
type QueryFilter struct {
	SessionID string
	Path      string
	Kind      Kind
	Since     *time.Time
	Limit     int
	Offset    int
}

// Query returns turns matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Turn, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Path != "" {
		clauses = append(clauses, "path = ?")
		args = append(args, filter.Path)
	}
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(timestampLayout))
	}

	query := "SELECT " + columns + " FROM turns"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	return turns, rows.Err()
}

// Latest returns the n most recent turns.
func (s *Store) Latest(ctx context.Context, n int) ([]Turn, error) {
	return s.Query(ctx, QueryFilter{Limit: n})
}

// Snapshot aggregates every stored turn.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	turns, err := s.Query(ctx, QueryFilter{})
	if err != nil {
		return nil, err
	}
	return Aggregate(turns), nil
}

// Aggregate builds a Snapshot from a set of turns. Candidates are questions
// answered without local coverage, lower-cased and trimmed, most frequent
// first.
func Aggregate(turns []Turn) *Snapshot {
	snap := &Snapshot{
		Total:      len(turns),
		ByPath:     map[string]int{},
		ByProvider: map[string]int{},
		Candidates: []Candidate{},
	}

	counts := map[string]int{}
	for _, t := range turns {
		snap.ByPath[t.Path]++
		spent := t.TokensIn + t.TokensOut
		snap.Spent += spent
		if t.Provider != "" {
			snap.ByProvider[t.Provider] += spent
		}
		if t.CoverageOK {
			continue
		}
		q := strings.ToLower(strings.TrimSpace(t.Question))
		if q == "" {
			continue
		}
		counts[q]++
	}

	for q, n := range counts {
		snap.Candidates = append(snap.Candidates, Candidate{Question: q, Count: n})
	}
	sort.Slice(snap.Candidates, func(i, j int) bool {
		a, b := snap.Candidates[i], snap.Candidates[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Question < b.Question
	})
	if len(snap.Candidates) > MaxCandidates {
		snap.Candidates = snap.Candidates[:MaxCandidates]
	}
	return snap
}

// Clear removes every stored turn and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM turns")
	if err != nil {
		return 0, fmt.Errorf("clearing turns: %w", err)
	}
	return res.RowsAffected()
}

// DeleteBefore removes turns older than the given time.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM turns WHERE timestamp < ?",
		before.UTC().Format(timestampLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old turns: %w", err)
	}
	return res.RowsAffected()
}

const columns = `id, timestamp, session_id, lang, path, kind, provider,
	tokens_in, tokens_out, latency_ms, question, answer_preview, top_ids, coverage_ok`

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(sc scanner) (*Turn, error) {
	var (
		t        Turn
		ts, kind string
		topJSON  string
		coverage sql.NullBool
	)

	err := sc.Scan(
		&t.ID, &ts, &t.SessionID, &t.Lang, &t.Path, &kind, &t.Provider,
		&t.TokensIn, &t.TokensOut, &t.LatencyMS, &t.Question, &t.AnswerPreview,
		&topJSON, &coverage,
	)
	if err != nil {
		return nil, err
	}

	t.Kind = Kind(kind)
	t.CoverageOK = coverage.Valid && coverage.Bool

	for _, layout := range []string{timestampLayout, time.DateTime, time.RFC3339Nano} {
		if parsed, perr := time.Parse(layout, ts); perr == nil {
			t.Timestamp = parsed
			break
		}
	}

	if err := json.Unmarshal([]byte(topJSON), &t.TopIDs); err != nil {
		t.TopIDs = nil
	}
	return &t, nil
}
