// Package eval measures how much of a question set the corpus answers
// without escalating.
package eval

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/progress"
	"github.com/ziadkadry99/chattia/internal/resolver"
)

// Options are the Tier-1 thresholds questions are resolved with.
type Options struct {
	Lang       string
	Confidence float64
	Coverage   int
}

// Miss is a question the corpus did not cover.
type Miss struct {
	Question string `json:"question"`
	// BestID is the highest scoring chunk, empty when nothing matched.
	BestID string `json:"best_id,omitempty"`
	Found  int    `json:"found"`
}

// Report is the outcome of one evaluation run.
type Report struct {
	Total  int    `json:"total"`
	Hits   int    `json:"hits"`
	Misses []Miss `json:"misses"`
}

// HitRate is the share of questions answered from the corpus.
func (r Report) HitRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Hits) / float64(r.Total)
}

// Run resolves every question against c.
func Run(c *corpus.Corpus, questions []string, opts Options, rep progress.Reporter) Report {
	if rep == nil {
		rep = progress.Nop{}
	}
	if opts.Confidence <= 0 {
		opts.Confidence = resolver.DefaultConfidence
	}
	if opts.Coverage <= 0 {
		opts.Coverage = resolver.DefaultCoverage
	}

	report := Report{Total: len(questions), Misses: []Miss{}}
	rep.Start(len(questions))
	for i, q := range questions {
		if _, ok := resolver.Resolve(c, q, opts.Lang, opts.Confidence, opts.Coverage); ok {
			report.Hits++
			rep.Update(i+1, "hit: "+q)
			continue
		}
		top := resolver.Top(c, q, opts.Lang, opts.Coverage)
		miss := Miss{Question: q, Found: len(top)}
		if len(top) > 0 {
			miss.BestID = top[0].ID
		}
		report.Misses = append(report.Misses, miss)
		rep.Update(i+1, "miss: "+q)
	}
	rep.Finish()
	return report
}

// ReadQuestions reads one question per line. Blank lines and lines starting
// with # are skipped.
func ReadQuestions(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading questions: %w", err)
	}
	return out, nil
}
