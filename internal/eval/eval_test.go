package eval

import (
	"strings"
	"testing"

	"github.com/ziadkadry99/chattia/internal/corpus"
)

type recordingReporter struct {
	total    int
	messages []string
	finished bool
}

func (r *recordingReporter) Start(total int)          { r.total = total }
func (r *recordingReporter) Update(_ int, msg string) { r.messages = append(r.messages, msg) }
func (r *recordingReporter) Finish()                  { r.finished = true }

func testCorpus() *corpus.Corpus {
	return &corpus.Corpus{Docs: []corpus.Document{{Lang: "en", Chunks: []corpus.Chunk{
		{ID: "h1", Text: "Opening hours are 9 to 5."},
		{ID: "h2", Text: "Holiday opening hours are 10 to 2."},
		{ID: "r1", Text: "Refunds take thirty days."},
	}}}}
}

func TestRun(t *testing.T) {
	rep := &recordingReporter{}
	report := Run(testCorpus(), []string{"opening hours", "refunds", "parking"}, Options{Lang: "en"}, rep)

	if report.Total != 3 || report.Hits != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Misses) != 2 {
		t.Fatalf("misses = %+v", report.Misses)
	}
	if m := report.Misses[0]; m.Question != "refunds" || m.BestID != "r1" || m.Found != 1 {
		t.Errorf("miss[0] = %+v", m)
	}
	if m := report.Misses[1]; m.BestID != "" || m.Found != 0 {
		t.Errorf("miss[1] = %+v", m)
	}
	if rate := report.HitRate(); rate < 0.33 || rate > 0.34 {
		t.Errorf("HitRate = %f", rate)
	}

	if rep.total != 3 || !rep.finished || len(rep.messages) != 3 {
		t.Errorf("reporter = %+v", rep)
	}
	if rep.messages[0] != "hit: opening hours" {
		t.Errorf("first message = %q", rep.messages[0])
	}
}

func TestRunCoverageOne(t *testing.T) {
	report := Run(testCorpus(), []string{"refunds"}, Options{Coverage: 1}, nil)
	if report.Hits != 1 || len(report.Misses) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestHitRateEmpty(t *testing.T) {
	if (Report{}).HitRate() != 0 {
		t.Error("empty report should have zero hit rate")
	}
}

func TestReadQuestions(t *testing.T) {
	in := "# support questions\nopening hours\n\n  refunds  \n#skip\nparking\n"
	got, err := ReadQuestions(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadQuestions: %v", err)
	}
	want := []string{"opening hours", "refunds", "parking"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
