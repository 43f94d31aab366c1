package ir

import "fmt"

// Span locates a node in the original source program. The checker never reads
// source itself; spans travel through obligations so a diagnostics layer can
// point somewhere useful.
type Span struct {
	File      string
	Line, Col int
}

// Pos returns the span itself; embedding Span in a node satisfies Spanned.
func (s Span) Pos() Span { return s }

func (s Span) String() string {
	if s.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// Spanned is satisfied by every IR node that knows where it came from.
type Spanned interface {
	Pos() Span
}
