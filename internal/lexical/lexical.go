// Package lexical ranks corpus chunks against a query with a BM25 variant.
package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/ziadkadry99/chattia/internal/corpus"
)

// BM25 parameters. AvgLen is a fixed heuristic, not recomputed per corpus.
const (
	K1     = 1.2
	B      = 0.75
	AvgLen = 120.0
)

// ScoredChunk is a chunk with its relevance score for one query.
type ScoredChunk struct {
	ID    string
	Text  string
	Score float64
}

var lower = cases.Lower(language.Und)

// Tokenize normalizes s (NFKC, lower case) and returns maximal runs of
// letters, digits and combining marks.
func Tokenize(s string) []string {
	s = lower.String(norm.NFKC.String(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

type candidate struct {
	chunk corpus.Chunk
	tf    map[string]int
	n     int
}

// Score returns the chunks of c with a positive score for query, best first.
// Ties keep corpus order. When lang is non-empty only documents tagged with it
// (or untagged) are scored, unless that leaves nothing, in which case the
// whole corpus is used.
func Score(c *corpus.Corpus, query, lang string) []ScoredChunk {
	terms := uniqueTerms(Tokenize(query))
	if c == nil || len(terms) == 0 {
		return nil
	}

	pool := candidates(c, lang)
	if len(pool) == 0 && lang != "" {
		pool = candidates(c, "")
	}
	if len(pool) == 0 {
		return nil
	}

	df := make(map[string]int, len(terms))
	for _, cand := range pool {
		for _, t := range terms {
			if cand.tf[t] > 0 {
				df[t]++
			}
		}
	}

	n := float64(len(pool))
	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		d := float64(df[t])
		idf[t] = math.Log((n-d+0.5)/(d+0.5) + 1)
	}

	var out []ScoredChunk
	for _, cand := range pool {
		var score float64
		norm := K1 * (1 - B + B*float64(cand.n)/AvgLen)
		for _, t := range terms {
			f := float64(cand.tf[t])
			if f == 0 {
				continue
			}
			score += idf[t] * (f * (K1 + 1)) / (f + norm)
		}
		if score > 0 {
			out = append(out, ScoredChunk{ID: cand.chunk.ID, Text: cand.chunk.Text, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func candidates(c *corpus.Corpus, lang string) []candidate {
	var pool []candidate
	for _, d := range c.Docs {
		if lang != "" && d.Lang != "" && !strings.EqualFold(d.Lang, lang) {
			continue
		}
		for _, ch := range d.Chunks {
			toks := Tokenize(ch.Text)
			tf := make(map[string]int, len(toks))
			for _, t := range toks {
				tf[t]++
			}
			pool = append(pool, candidate{chunk: ch, tf: tf, n: len(toks)})
		}
	}
	return pool
}

func uniqueTerms(toks []string) []string {
	seen := make(map[string]struct{}, len(toks))
	out := toks[:0]
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
