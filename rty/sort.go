package rty

import (
	"fmt"
	"strings"
)

// Sort classifies the logic-level values refinement expressions range over.
// Base types declare which sorts index them; binders and unknown predicates
// are declared against sorts.
type Sort interface {
	fmt.Stringer
	Hash() uint64
	sortNode()
}

type IntSort struct{}
type BoolSort struct{}
type LocSort struct{}

type TupleSort struct {
	Elems []Sort
}

// FuncSort is the sort of a refinement-predicate parameter: a boolean-valued
// function over the given argument sorts.
type FuncSort struct {
	In []Sort
}

func (IntSort) sortNode()   {}
func (BoolSort) sortNode()  {}
func (LocSort) sortNode()   {}
func (TupleSort) sortNode() {}
func (FuncSort) sortNode()  {}

func (IntSort) String() string  { return "int" }
func (BoolSort) String() string { return "bool" }
func (LocSort) String() string  { return "loc" }

func (s TupleSort) String() string {
	elems := make([]string, len(s.Elems))
	for i, e := range s.Elems {
		elems[i] = e.String()
	}
	return "(" + strings.Join(elems, ", ") + ")"
}

func (s FuncSort) String() string {
	in := make([]string, len(s.In))
	for i, e := range s.In {
		in[i] = e.String()
	}
	return "(" + strings.Join(in, ", ") + ") -> bool"
}

func (IntSort) Hash() uint64  { return hashLeaf(tagSortInt) }
func (BoolSort) Hash() uint64 { return hashLeaf(tagSortBool) }
func (LocSort) Hash() uint64  { return hashLeaf(tagSortLoc) }

func (s TupleSort) Hash() uint64 {
	h := newHash(tagSortTuple)
	for _, e := range s.Elems {
		h = h.with(e.Hash())
	}
	return h.sum()
}

func (s FuncSort) Hash() uint64 {
	h := newHash(tagSortFunc)
	for _, e := range s.In {
		h = h.with(e.Hash())
	}
	return h.sum()
}

var (
	_ Sort = IntSort{}
	_ Sort = BoolSort{}
	_ Sort = LocSort{}
	_ Sort = TupleSort{}
	_ Sort = FuncSort{}
)

// SortEq compares sorts structurally.
func SortEq(a, b Sort) bool {
	return a.Hash() == b.Hash()
}

func SortsEq(a, b []Sort) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !SortEq(a[i], b[i]) {
			return false
		}
	}
	return true
}
