// Package corpus holds the reference passages answers are grounded on.
//
// A Corpus is parsed once and never mutated. Sources replace it wholesale when
// the upstream pack changes.
package corpus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Chunk is a single reference passage.
type Chunk struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Document groups the chunks that share a language tag.
type Document struct {
	Lang   string  `json:"lang"`
	Chunks []Chunk `json:"chunks"`
}

// Corpus is the immutable set of documents loaded from a pack.
type Corpus struct {
	Docs []Document `json:"docs"`

	// Digest is the hex SHA-256 of the raw pack body, empty for merged corpora.
	Digest string `json:"-"`
}

// Parse decodes a pack body and validates that chunk ids are unique.
func Parse(data []byte) (*Corpus, error) {
	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding pack: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the corpus invariants.
func (c *Corpus) Validate() error {
	seen := make(map[string]struct{})
	for di, d := range c.Docs {
		for ci, ch := range d.Chunks {
			if strings.TrimSpace(ch.ID) == "" {
				return fmt.Errorf("doc %d chunk %d: empty chunk id", di, ci)
			}
			if _, dup := seen[ch.ID]; dup {
				return fmt.Errorf("duplicate chunk id %q", ch.ID)
			}
			seen[ch.ID] = struct{}{}
		}
	}
	return nil
}

// Len returns the total number of chunks.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, d := range c.Docs {
		n += len(d.Chunks)
	}
	return n
}

// Merge concatenates corpora in order. Chunk ids must stay unique across them.
func Merge(parts ...*Corpus) (*Corpus, error) {
	out := &Corpus{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		out.Docs = append(out.Docs, p.Docs...)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
