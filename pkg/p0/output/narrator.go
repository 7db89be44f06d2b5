package output

import (
	"fmt"
	"io"
)

// Narrator emits human-readable progress lines while an operation is in
// flight. Engines narrate through this interface so quiet mode can swap in
// the no-op variant without changing engine logic; errors always travel
// through the error return path, never the narrator.
type Narrator interface {
	Notef(format string, args ...any)
}

type writerNarrator struct {
	w io.Writer
}

func NewNarrator(w io.Writer) Narrator {
	return &writerNarrator{w: w}
}

func (n *writerNarrator) Notef(format string, args ...any) {
	_, _ = fmt.Fprintf(n.w, format+"\n", args...)
}

type quietNarrator struct{}

// Quiet returns a narrator that discards all progress output.
func Quiet() Narrator {
	return quietNarrator{}
}

func (quietNarrator) Notef(string, ...any) {}
