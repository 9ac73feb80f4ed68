// Package resolver is the Tier-1 local answerer: it composes an extractive,
// cited answer from the best scoring chunks or declines.
package resolver

import (
	"fmt"
	"strings"

	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/lexical"
)

// Default gate values.
const (
	DefaultConfidence = 0.6
	DefaultCoverage   = 2

	// answerChunks is how many chunks make up a composed answer.
	answerChunks = 3
)

// Answer is an accepted Tier-1 result.
type Answer struct {
	Text       string
	Citations  []string
	Confidence float64
	Coverage   int
}

// Resolve scores query against c and accepts when both coverage and confidence
// meet their thresholds. It never fails; ok is false on decline.
//
// Confidence is the top score divided by itself, so it is 1.0 whenever any
// chunk scores and the confidence threshold only distinguishes "some hit"
// from "no hit" for thresholds at or below 1.
func Resolve(c *corpus.Corpus, query, lang string, confidenceThreshold float64, coverageThreshold int) (Answer, bool) {
	top := Top(c, query, lang, max(coverageThreshold, answerChunks))

	var confidence float64
	if len(top) > 0 && top[0].Score > 0 {
		confidence = top[0].Score / top[0].Score
	}
	coverage := min(len(top), coverageThreshold)

	if coverage < coverageThreshold || confidence < confidenceThreshold {
		return Answer{}, false
	}

	text, ids := Compose(top)
	if text == "" {
		return Answer{}, false
	}
	return Answer{Text: text, Citations: ids, Confidence: confidence, Coverage: coverage}, true
}

// Top returns at most n scored chunks.
func Top(c *corpus.Corpus, query, lang string, n int) []lexical.ScoredChunk {
	scored := lexical.Score(c, query, lang)
	if n >= 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// Compose joins the first three chunks, each followed by its citation marker.
func Compose(chunks []lexical.ScoredChunk) (string, []string) {
	if len(chunks) > answerChunks {
		chunks = chunks[:answerChunks]
	}
	parts := make([]string, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		parts = append(parts, fmt.Sprintf("%s %s", strings.TrimSpace(ch.Text), Cite(ch.ID)))
		ids = append(ids, ch.ID)
	}
	return strings.TrimSpace(strings.Join(parts, " ")), ids
}

// Cite renders the citation marker for a chunk id.
func Cite(id string) string {
	return "[#" + id + "]"
}

// Grounding returns the best n chunks for query as plain corpus chunks, for
// use as generation context.
func Grounding(c *corpus.Corpus, query, lang string, n int) []corpus.Chunk {
	top := Top(c, query, lang, n)
	out := make([]corpus.Chunk, len(top))
	for i, sc := range top {
		out[i] = corpus.Chunk{ID: sc.ID, Text: sc.Text}
	}
	return out
}
