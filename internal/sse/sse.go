// Package sse writes and reads the chat event stream: one text fragment per
// event, terminated by an [END] sentinel.
package sse

import (
	"bufio"
	"io"
	"net/http"
	"strings"
)

// End is the data payload of the terminating event.
const End = "[END]"

// PieceRunes is how many runes a Writer puts in one event.
const PieceRunes = 64

// Writer streams fragments to an http.ResponseWriter.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the event-stream headers and writes the status line. Any
// other headers must be set before calling it.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Send writes text as one or more events of at most PieceRunes runes.
func (s *Writer) Send(text string) error {
	for _, piece := range Split(text, PieceRunes) {
		if err := s.event(piece); err != nil {
			return err
		}
	}
	return nil
}

// Close writes the [END] sentinel.
func (s *Writer) Close() error {
	return s.event(End)
}

func (s *Writer) event(data string) error {
	var b strings.Builder
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Split cuts s into pieces of at most n runes.
func Split(s string, n int) []string {
	if s == "" {
		return nil
	}
	r := []rune(s)
	var out []string
	for len(r) > n {
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return append(out, string(r))
}

// Read calls fn with the data of each event until the [END] sentinel, EOF or
// fn returns false. Multi-line data is joined with newlines. It reports
// whether the sentinel was seen.
func Read(r io.Reader, fn func(data string) bool) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	have := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if !have {
				continue
			}
			data := strings.Join(lines, "\n")
			lines, have = lines[:0], false
			if data == End {
				return true, nil
			}
			if !fn(data) {
				return false, nil
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			lines = append(lines, strings.TrimPrefix(rest, " "))
			have = true
		}
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	if have {
		data := strings.Join(lines, "\n")
		if data == End {
			return true, nil
		}
		fn(data)
	}
	return false, nil
}
