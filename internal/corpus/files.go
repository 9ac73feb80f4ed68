package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// FileSource loads every pack file under Root matching Pattern and merges them
// in path order. It re-reads the files on each Load.
type FileSource struct {
	Root    string
	Pattern string
}

func (s FileSource) Load(ctx context.Context) (*Corpus, error) {
	pattern := s.Pattern
	if pattern == "" {
		pattern = "**/*.json"
	}
	fsys := os.DirFS(s.Root)
	matches, err := doublestar.Glob(fsys, filepath.ToSlash(pattern), doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("matching packs under %s: %w", s.Root, err)
	}
	if len(matches) == 0 {
		return nil, ErrUnavailable
	}
	sort.Strings(matches)

	parts := make([]*Corpus, 0, len(matches))
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(m)))
		if err != nil {
			return nil, fmt.Errorf("reading pack %s: %w", m, err)
		}
		c, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", m, err)
		}
		parts = append(parts, c)
	}
	return Merge(parts...)
}
