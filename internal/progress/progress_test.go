package progress

import (
	"bytes"
	"testing"
)

func TestWriterFlattensLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := Writer(&buf)
	Printf(w, "sent to %s", "alice")
	w.Line("multi\nline\n")
	if got, want := buf.String(), "sent to alice\nmulti line\n"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestTeeAndRecorder(t *testing.T) {
	t.Parallel()
	var a, b Recorder
	s := Tee(&a, nil, &b)
	s.Line("x")
	Printf(nil, "ignored")
	if len(a.Lines()) != 1 || !b.Contains("x") {
		t.Fatalf("tee did not fan out: %v %v", a.Lines(), b.Lines())
	}
}
