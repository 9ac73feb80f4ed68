package resolver

import (
	"reflect"
	"testing"

	"github.com/ziadkadry99/chattia/internal/corpus"
)

func openingHours() *corpus.Corpus {
	return &corpus.Corpus{Docs: []corpus.Document{{
		Lang:   "en",
		Chunks: []corpus.Chunk{{ID: "c1", Text: "Opening hours are 9 to 5."}},
	}}}
}

func TestResolveOpeningHours(t *testing.T) {
	ans, ok := Resolve(openingHours(), "opening hours", "en", 0.6, 1)
	if !ok {
		t.Fatal("expected accept")
	}
	if ans.Text != "Opening hours are 9 to 5. [#c1]" {
		t.Errorf("Text = %q", ans.Text)
	}
	if !reflect.DeepEqual(ans.Citations, []string{"c1"}) {
		t.Errorf("Citations = %v", ans.Citations)
	}
	if ans.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", ans.Confidence)
	}
}

func TestResolveRefundPolicyDeclines(t *testing.T) {
	if _, ok := Resolve(openingHours(), "refund policy", "en", 0.6, 1); ok {
		t.Error("expected decline")
	}
}

func TestResolveCoverageGate(t *testing.T) {
	if _, ok := Resolve(openingHours(), "opening hours", "en", 0.6, 2); ok {
		t.Error("one hit must not satisfy coverage 2")
	}
}

func TestResolveComposesTopThree(t *testing.T) {
	c := &corpus.Corpus{Docs: []corpus.Document{{Lang: "en", Chunks: []corpus.Chunk{
		{ID: "a", Text: "  Store hours vary.  "},
		{ID: "b", Text: "Store is closed on holidays."},
		{ID: "c", Text: "The store opens early."},
		{ID: "d", Text: "Store parking is free."},
	}}}}
	ans, ok := Resolve(c, "store", "en", 0.6, 2)
	if !ok {
		t.Fatal("expected accept")
	}
	if len(ans.Citations) != 3 {
		t.Fatalf("Citations = %v, want 3", ans.Citations)
	}
	// Shorter chunks score higher; c and d tie and keep corpus order.
	want := "Store hours vary. [#a] The store opens early. [#c] Store parking is free. [#d]"
	if ans.Text != want {
		t.Errorf("Text = %q\nwant  %q", ans.Text, want)
	}
}

func TestResolveMonotonic(t *testing.T) {
	c := &corpus.Corpus{Docs: []corpus.Document{{Lang: "en", Chunks: []corpus.Chunk{
		{ID: "a", Text: "delivery takes two days"},
		{ID: "b", Text: "delivery is tracked"},
		{ID: "c", Text: "returns within thirty days"},
	}}}}
	queries := []string{"delivery", "days", "delivery days", "returns", "nothing here"}
	confs := []float64{0, 0.3, 0.6, 1, 1.5}
	covs := []int{0, 1, 2, 3, 4}

	for _, q := range queries {
		for ci, conf := range confs {
			for vi, cov := range covs {
				_, ok := Resolve(c, q, "en", conf, cov)
				if ok {
					continue
				}
				for _, higherConf := range confs[ci:] {
					for _, higherCov := range covs[vi:] {
						if _, ok2 := Resolve(c, q, "en", higherConf, higherCov); ok2 {
							t.Errorf("q=%q: decline at (%v,%d) but accept at (%v,%d)", q, conf, cov, higherConf, higherCov)
						}
					}
				}
			}
		}
	}
}

func TestResolveNilCorpus(t *testing.T) {
	if _, ok := Resolve(nil, "anything", "", 0, 0); ok {
		t.Error("nil corpus must decline")
	}
}

func TestGrounding(t *testing.T) {
	got := Grounding(openingHours(), "opening hours", "en", 4)
	want := []corpus.Chunk{{ID: "c1", Text: "Opening hours are 9 to 5."}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Grounding = %v, want %v", got, want)
	}
	if got := Grounding(openingHours(), "refund policy", "en", 4); len(got) != 0 {
		t.Errorf("unrelated query grounding = %v, want empty", got)
	}
}
