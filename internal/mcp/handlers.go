package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/lexical"
	"github.com/ziadkadry99/chattia/internal/orchestrator"
	"github.com/ziadkadry99/chattia/internal/resolver"
)

const defaultSearchLimit = 5

// handleAsk runs one orchestrator turn and returns the answer with its path.
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}
	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		sessionID = "mcp-" + uuid.New().String()
	}

	out, err := s.orch.Run(ctx, orchestrator.Turn{
		SessionID: sessionID,
		Lang:      gate.NormalizeLang(request.GetString("lang", "")),
		Input:     question,
	}, nil)
	if err != nil {
		var blocked *orchestrator.BlockedError
		switch {
		case errors.As(err, &blocked):
			return mcp.NewToolResultError(fmt.Sprintf("input blocked (score %d): %s", blocked.Score, strings.Join(blocked.Reasons, ", "))), nil
		case errors.Is(err, orchestrator.ErrTurnInFlight):
			return mcp.NewToolResultError("a turn is already running for session " + sessionID), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatOutcome(sessionID, out)), nil
}

// handleSearchCorpus scores the corpus against the query.
func (s *Server) handleSearchCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	limit := request.GetInt("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	if s.corpus == nil {
		return mcp.NewToolResultError("no corpus configured"), nil
	}
	c, err := s.corpus.Load(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading corpus: %v", err)), nil
	}

	lang := request.GetString("lang", "")
	if lang != "" {
		lang = gate.NormalizeLang(lang)
	}
	results := resolver.Top(c, query, lang, limit)
	if len(results) == 0 {
		return mcp.NewToolResultText("No matching passages. The corpus may not cover this topic."), nil
	}

	return mcp.NewToolResultText(formatSearchResults(results)), nil
}

func formatOutcome(sessionID string, out *orchestrator.Outcome) string {
	var sb strings.Builder
	sb.WriteString(out.Text)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Session: %s\n", sessionID))
	sb.WriteString(fmt.Sprintf("Path: %s\n", out.Path))
	if out.Provider != "" {
		sb.WriteString(fmt.Sprintf("Provider: %s (%d tokens)\n", out.Provider, out.Tokens))
	}
	if len(out.Citations) > 0 {
		sb.WriteString(fmt.Sprintf("Citations: %s\n", strings.Join(out.Citations, ", ")))
	}
	if out.Warning != "" {
		sb.WriteString(fmt.Sprintf("Warning: %s\n", out.Warning))
	}
	return sb.String()
}

// formatSearchResults renders scored passages for agent consumption.
func formatSearchResults(results []lexical.ScoredChunk) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d passage(s):\n", len(results)))

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("\n--- Result %d ---\n", i+1))
		sb.WriteString(fmt.Sprintf("ID: %s\n", r.ID))
		sb.WriteString(fmt.Sprintf("Score: %.2f\n", r.Score))
		sb.WriteString("\n")
		sb.WriteString(r.Text)
		sb.WriteString("\n")
	}

	return sb.String()
}
