// Package progress carries the human-readable line stream a batch emits
// while it runs. Each line is one event; there is no further schema.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

type Sink interface {
	Line(s string)
}

// Func adapts a function to Sink.
type Func func(s string)

func (f Func) Line(s string) { f(s) }

// Discard drops every line.
var Discard Sink = Func(func(string) {})

// Printf formats one line onto s. A nil sink is allowed.
func Printf(s Sink, format string, args ...any) {
	if s == nil {
		return
	}
	s.Line(fmt.Sprintf(format, args...))
}

// Writer writes each line to w followed by a newline. Embedded newlines
// are flattened so one call stays one line.
func Writer(w io.Writer) Sink {
	var mu sync.Mutex
	return Func(func(s string) {
		s = strings.ReplaceAll(strings.TrimRight(s, "\r\n"), "\n", " ")
		mu.Lock()
		defer mu.Unlock()
		_, _ = io.WriteString(w, s+"\n")
	})
}

// Tee sends every line to all sinks.
func Tee(sinks ...Sink) Sink {
	return Func(func(s string) {
		for _, sk := range sinks {
			if sk != nil {
				sk.Line(s)
			}
		}
	})
}

// Recorder keeps every line, for tests and summaries.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Line(s string) {
	r.mu.Lock()
	r.lines = append(r.lines, s)
	r.mu.Unlock()
}

func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether any line contains sub.
func (r *Recorder) Contains(sub string) bool {
	for _, l := range r.Lines() {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}
