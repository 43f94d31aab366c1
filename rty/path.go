package rty

import (
	"cmp"
	"fmt"
	"strings"
)

// DefID names a declared program item: a function or a nominal type.
type DefID string

// Loc is an abstract memory location: a procedure-frame slot, or a free
// location invented for a value that lives behind a pointer.
type Loc struct {
	Kind  LocKind
	Local int
	Name  Name
}

type LocKind int

const (
	LocalKind LocKind = iota
	FreeKind
)

func LocLocal(slot int) Loc { return Loc{Kind: LocalKind, Local: slot} }
func LocFree(n Name) Loc    { return Loc{Kind: FreeKind, Name: n} }

func (l Loc) String() string {
	if l.Kind == LocalKind {
		return fmt.Sprintf("_%d", l.Local)
	}
	return "l" + l.Name.String()
}

// Compare orders locations for deterministic environment iteration: frame
// slots first in slot order, then free locations in allocation order.
func (l Loc) Compare(other Loc) int {
	if l.Kind != other.Kind {
		return cmp.Compare(l.Kind, other.Kind)
	}
	if l.Kind == LocalKind {
		return cmp.Compare(l.Local, other.Local)
	}
	return cmp.Compare(l.Name, other.Name)
}

func (l Loc) Hash() uint64 {
	return newHash(tagLoc).with(uint64(l.Kind)).with(uint64(l.Local)).with(uint64(l.Name)).sum()
}

// Path is a location plus field projections into it. Paths are nominal:
// subtyping compares them syntactically, never structurally.
type Path struct {
	Loc    Loc
	Fields []int
}

func PathTo(l Loc, fields ...int) Path {
	return Path{Loc: l, Fields: fields}
}

func (p Path) String() string {
	if len(p.Fields) == 0 {
		return p.Loc.String()
	}
	parts := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		parts[i] = fmt.Sprint(f)
	}
	return p.Loc.String() + "." + strings.Join(parts, ".")
}

func (p Path) Hash() uint64 {
	h := newHash(tagPath).with(p.Loc.Hash())
	for _, f := range p.Fields {
		h = h.with(uint64(f))
	}
	return h.sum()
}

func (p Path) Eq(other Path) bool {
	if p.Loc != other.Loc || len(p.Fields) != len(other.Fields) {
		return false
	}
	for i := range p.Fields {
		if p.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}
