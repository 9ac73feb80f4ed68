package turnlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ziadkadry99/chattia/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestLogTurnAndQuery(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	turn := Turn{
		ID:            "t-1",
		SessionID:     "s-1",
		Lang:          "en",
		Path:          "tier1",
		Kind:          KindAnswer,
		Question:      "What are your hours?",
		AnswerPreview: "We open 9-5 [#h1]",
		TopIDs:        []string{"h1", "h2"},
		CoverageOK:    true,
		LatencyMS:     12,
	}
	if err := store.LogTurn(ctx, turn); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}

	got, err := store.Query(ctx, QueryFilter{SessionID: "s-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d turns, want 1", len(got))
	}
	g := got[0]
	if g.ID != "t-1" || g.Path != "tier1" || g.Kind != KindAnswer {
		t.Errorf("unexpected turn: %+v", g)
	}
	if !g.CoverageOK {
		t.Error("CoverageOK = false, want true")
	}
	if len(g.TopIDs) != 2 || g.TopIDs[0] != "h1" {
		t.Errorf("TopIDs = %v, want [h1 h2]", g.TopIDs)
	}
	if g.LatencyMS != 12 {
		t.Errorf("LatencyMS = %d, want 12", g.LatencyMS)
	}
	if g.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestLogTurnGeneratesUUID(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.LogTurn(ctx, Turn{Path: "tier1", Kind: KindDecline}); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}
	got, err := store.Latest(ctx, 1)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got) != 1 || len(got[0].ID) != 36 {
		t.Fatalf("expected one turn with a UUID id, got %+v", got)
	}
}

func TestLogTurnRejectsUnknownKind(t *testing.T) {
	store := setupStore(t)
	if err := store.LogTurn(context.Background(), Turn{Path: "tier1", Kind: "maybe"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestLogTurnRedactsSecrets(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	turn := Turn{
		Path:          "server",
		Kind:          KindAnswer,
		Question:      "my key is sk-abcdefghijklmnop please",
		AnswerPreview: "token eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl",
	}
	if err := store.LogTurn(ctx, turn); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}
	got, _ := store.Latest(ctx, 1)
	if strings.Contains(got[0].Question, "sk-abc") {
		t.Errorf("question not redacted: %q", got[0].Question)
	}
	if !strings.Contains(got[0].Question, Redacted) {
		t.Errorf("question missing marker: %q", got[0].Question)
	}
	if strings.Contains(got[0].AnswerPreview, "eyJ") {
		t.Errorf("preview not redacted: %q", got[0].AnswerPreview)
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"xai-0123456789abc", Redacted},
		{"bearer ya29.a0AfH6SM-x", "bearer " + Redacted},
		{"SK-ABCDEFGHIJKL", Redacted},
		{"sk-short", "sk-short"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("a", 3000)
	if got := Redact(long); len([]rune(got)) != maxFieldLen+1 {
		t.Errorf("long field not capped: %d runes", len([]rune(got)))
	}
}

func TestPreviewTruncates(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.LogTurn(ctx, Turn{Path: "ondevice", Kind: KindAnswer, AnswerPreview: strings.Repeat("x", 1000)}); err != nil {
		t.Fatalf("LogTurn: %v", err)
	}
	got, _ := store.Latest(ctx, 1)
	if n := len([]rune(got[0].AnswerPreview)); n != PreviewLen+1 {
		t.Errorf("preview length = %d, want %d", n, PreviewLen+1)
	}
}

func TestQueryFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	turns := []Turn{
		{ID: "a", SessionID: "s1", Path: "tier1", Kind: KindAnswer, Timestamp: base},
		{ID: "b", SessionID: "s1", Path: "server", Kind: KindAnswer, Timestamp: base.Add(time.Minute)},
		{ID: "c", SessionID: "s2", Path: "offline", Kind: KindDegraded, Timestamp: base.Add(2 * time.Minute)},
		{ID: "d", SessionID: "s2", Path: "policy", Kind: KindRefusal, Timestamp: base.Add(3 * time.Minute)},
	}
	for _, tt := range turns {
		if err := store.LogTurn(ctx, tt); err != nil {
			t.Fatalf("LogTurn(%s): %v", tt.ID, err)
		}
	}

	bySession, _ := store.Query(ctx, QueryFilter{SessionID: "s1"})
	if len(bySession) != 2 || bySession[0].ID != "b" {
		t.Errorf("session filter: got %+v", bySession)
	}

	byKind, _ := store.Query(ctx, QueryFilter{Kind: KindDegraded})
	if len(byKind) != 1 || byKind[0].ID != "c" {
		t.Errorf("kind filter: got %+v", byKind)
	}

	since := base.Add(90 * time.Second)
	recent, _ := store.Query(ctx, QueryFilter{Since: &since})
	if len(recent) != 2 {
		t.Errorf("since filter: got %d turns, want 2", len(recent))
	}

	page, _ := store.Query(ctx, QueryFilter{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].ID != "c" || page[1].ID != "b" {
		t.Errorf("pagination: got %+v", page)
	}
}

func TestSnapshot(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	turns := []Turn{
		{Path: "tier1", Kind: KindAnswer, Question: "Hours?", CoverageOK: true},
		{Path: "server", Kind: KindAnswer, Provider: "openai", TokensIn: 100, TokensOut: 50, Question: "  Refund policy? "},
		{Path: "server", Kind: KindAnswer, Provider: "openai", TokensIn: 10, TokensOut: 5, Question: "refund policy?"},
		{Path: "ondevice", Kind: KindAnswer, Provider: "on-device", TokensOut: 20, Question: "Parking?"},
		{Path: "offline", Kind: KindDegraded, Question: ""},
	}
	for _, tt := range turns {
		if err := store.LogTurn(ctx, tt); err != nil {
			t.Fatalf("LogTurn: %v", err)
		}
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Total != 5 {
		t.Errorf("Total = %d, want 5", snap.Total)
	}
	if snap.ByPath["server"] != 2 || snap.ByPath["tier1"] != 1 {
		t.Errorf("ByPath = %v", snap.ByPath)
	}
	if snap.Spent != 185 {
		t.Errorf("Spent = %d, want 185", snap.Spent)
	}
	if snap.ByProvider["openai"] != 165 || snap.ByProvider["on-device"] != 20 {
		t.Errorf("ByProvider = %v", snap.ByProvider)
	}
	if len(snap.Candidates) != 2 {
		t.Fatalf("Candidates = %v, want 2 entries", snap.Candidates)
	}
	if snap.Candidates[0].Question != "refund policy?" || snap.Candidates[0].Count != 2 {
		t.Errorf("top candidate = %+v", snap.Candidates[0])
	}
}

func TestAggregateCapsCandidates(t *testing.T) {
	var turns []Turn
	for i := 0; i < 15; i++ {
		turns = append(turns, Turn{Path: "server", Question: strings.Repeat("q", i+1)})
	}
	snap := Aggregate(turns)
	if len(snap.Candidates) != MaxCandidates {
		t.Errorf("got %d candidates, want %d", len(snap.Candidates), MaxCandidates)
	}
}

func TestClearAndDeleteBefore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	store.LogTurn(ctx, Turn{Path: "tier1", Kind: KindAnswer, Timestamp: old})
	store.LogTurn(ctx, Turn{Path: "tier1", Kind: KindAnswer})

	n, err := store.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteBefore removed %d, want 1", n)
	}

	n, err = store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 1 {
		t.Errorf("Clear removed %d, want 1", n)
	}
}

func TestRoutes(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	store.LogTurn(ctx, Turn{SessionID: "s1", Path: "server", Kind: KindAnswer, Provider: "openai", TokensOut: 7, Question: "why?"})

	r := chi.NewRouter()
	RegisterRoutes(r, store)

	req := httptest.NewRequest(http.MethodGet, "/api/insights/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var snap Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Total != 1 || snap.ByProvider["openai"] != 7 {
		t.Errorf("snapshot = %+v", snap)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/insights/turns?session=s1&limit=5", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var turns []Turn
	if err := json.NewDecoder(w.Body).Decode(&turns); err != nil {
		t.Fatalf("decode turns: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("got %d turns, want 1", len(turns))
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/insights/turns", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"deleted":1`) {
		t.Errorf("delete body = %s", w.Body.String())
	}
}
