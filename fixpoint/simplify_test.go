package fixpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cottand/atoll/rty"
)

var (
	a = rty.Var{Name: 1}
	b = rty.Var{Name: 2}
)

func cmp(op rty.BinOp, l, r rty.Expr) rty.Pred {
	return rty.ExprPred{Expr: rty.BinaryExpr{Op: op, LHS: l, RHS: r}}
}

func lit(v int64) rty.Expr { return rty.IntLit{Value: v} }

func TestSimplify_PrunesEntailedHeads(t *testing.T) {
	testCases := []struct {
		name  string
		guard rty.Pred
		head  rty.Pred
	}{
		{
			name:  "syntactic repetition",
			guard: cmp(rty.Gt, a, lit(0)),
			head:  cmp(rty.Gt, a, lit(0)),
		},
		{
			name:  "negation normalizes to the same conjunct",
			guard: rty.ExprPred{Expr: rty.NotOf(rty.EqOf(a, lit(0)))},
			head:  cmp(rty.Ne, a, lit(0)),
		},
		{
			name:  "lower bound implies weaker lower bound",
			guard: cmp(rty.Gt, a, lit(5)),
			head:  cmp(rty.Gt, a, lit(0)),
		},
		{
			name:  "equality pins an interval point",
			guard: cmp(rty.Eq, a, lit(7)),
			head:  cmp(rty.Ge, a, lit(7)),
		},
		{
			name:  "bounds from both sides",
			guard: rty.PredAnd(cmp(rty.Ge, a, lit(2)), cmp(rty.Le, a, lit(4))),
			head:  cmp(rty.Lt, a, lit(10)),
		},
		{
			name:  "disjoint intervals prove disequality",
			guard: cmp(rty.Gt, a, lit(5)),
			head:  cmp(rty.Ne, a, lit(3)),
		},
		{
			name:  "mirrored literal comparison",
			guard: cmp(rty.Lt, lit(5), a),
			head:  cmp(rty.Ge, a, lit(6)),
		},
		{
			name:  "interval arithmetic over addition",
			guard: cmp(rty.Ge, a, lit(1)),
			head:  cmp(rty.Ge, rty.BinaryExpr{Op: rty.Add, LHS: a, RHS: lit(1)}, rty.IntLit{Value: 2}),
		},
		{
			name:  "reflexive comparison needs no guard",
			guard: rty.PredTrue,
			head:  cmp(rty.Le, b, b),
		},
		{
			name:  "constant comparison needs no guard",
			guard: rty.PredTrue,
			head:  cmp(rty.Lt, lit(3), lit(4)),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			con := Guard{Pred: tc.guard, Body: Head{Pred: tc.head, Tag: TagRet{}}}
			assert.Equal(t, TrueC, Simplify(con))
		})
	}
}

func TestSimplify_KeepsUnprovableHeads(t *testing.T) {
	testCases := []struct {
		name  string
		guard rty.Pred
		head  rty.Pred
	}{
		{
			name:  "stronger bound than assumed",
			guard: cmp(rty.Gt, a, lit(5)),
			head:  cmp(rty.Gt, a, lit(10)),
		},
		{
			name:  "unrelated variable",
			guard: cmp(rty.Gt, a, lit(0)),
			head:  cmp(rty.Gt, b, lit(0)),
		},
		{
			name:  "equality between distinct variables",
			guard: rty.PredTrue,
			head:  cmp(rty.Eq, a, b),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Simplify(Guard{Pred: tc.guard, Body: Head{Pred: tc.head, Tag: TagRet{}}})
			assert.NotEqual(t, TrueC, got)
		})
	}
}

func TestSimplify_NeverPrunesUnknownPredicates(t *testing.T) {
	kv := rty.KVar{ID: 0, Args: []rty.Expr{a}}
	con := Guard{
		Pred: cmp(rty.Gt, a, lit(0)),
		Body: Head{Pred: kv, Tag: TagGoto{Target: 1}},
	}
	got := Simplify(con)
	guard, ok := got.(Guard)
	assert.True(t, ok, "got %T", got)
	head, ok := guard.Body.(Head)
	assert.True(t, ok)
	assert.True(t, rty.PredEq(kv, head.Pred))
}

func TestSimplify_SplitsConjunctHeads(t *testing.T) {
	// of the two conjuncts only the unprovable one survives
	con := Guard{
		Pred: cmp(rty.Gt, a, lit(0)),
		Body: Head{
			Pred: rty.PredAnd(cmp(rty.Gt, a, lit(0)), cmp(rty.Gt, a, lit(100))),
			Tag:  TagAssert{Msg: "bound"},
		},
	}
	got := Simplify(con)

	guard, ok := got.(Guard)
	assert.True(t, ok, "got %T", got)
	head, ok := guard.Body.(Head)
	assert.True(t, ok, "got %T", guard.Body)
	assert.True(t, rty.PredEq(cmp(rty.Gt, a, lit(100)), head.Pred))
	assert.Equal(t, TagAssert{Msg: "bound"}, head.Tag)
}

func TestSimplify_CollapsesEmptyBinders(t *testing.T) {
	con := ForAll{
		Name: 1,
		Sort: rty.IntSort{},
		Body: Guard{
			Pred: cmp(rty.Ge, a, lit(3)),
			Body: Head{Pred: cmp(rty.Ge, a, lit(0)), Tag: TagRet{}},
		},
	}
	assert.Equal(t, TrueC, Simplify(con))
}

func TestSimplify_TrueGuardIsTransparent(t *testing.T) {
	con := Guard{Pred: rty.PredTrue, Body: Head{Pred: cmp(rty.Gt, a, lit(0)), Tag: TagRet{}}}
	got := Simplify(con)
	head, ok := got.(Head)
	assert.True(t, ok, "got %T", got)
	assert.True(t, rty.PredEq(cmp(rty.Gt, a, lit(0)), head.Pred))
}

func TestResidue_ClassifiesObligations(t *testing.T) {
	kv := rty.KVar{ID: 2, Args: []rty.Expr{a}}
	con := Conj{Parts: []Constraint{
		// under an unknown predicate: the solver's problem
		Guard{Pred: kv, Body: Head{Pred: cmp(rty.Gt, a, lit(10)), Tag: TagGoto{Target: 3}}},
		// locally unprovable with no unknowns anywhere: a finding
		Guard{Pred: cmp(rty.Gt, a, lit(0)), Body: Head{Pred: cmp(rty.Gt, a, lit(10)), Tag: TagRet{}}},
		// provable: no obligation at all
		Guard{Pred: cmp(rty.Gt, a, lit(10)), Body: Head{Pred: cmp(rty.Gt, a, lit(0)), Tag: TagRet{}}},
	}}

	obs := Residue(con)
	assert.Len(t, obs, 2)

	assert.True(t, obs[0].Deferred)
	assert.Equal(t, TagGoto{Target: 3}, obs[0].Tag)

	assert.False(t, obs[1].Deferred)
	assert.Equal(t, TagRet{}, obs[1].Tag)
}

func TestResidue_KVarHeadIsDeferred(t *testing.T) {
	kv := rty.KVar{ID: 1, Args: []rty.Expr{a}}
	obs := Residue(Head{Pred: kv, Tag: TagGoto{Target: 0}})
	assert.Len(t, obs, 1)
	assert.True(t, obs[0].Deferred)
}

func TestResidue_EmptyAfterFullPruning(t *testing.T) {
	con := Guard{
		Pred: cmp(rty.Eq, a, lit(1)),
		Body: Head{Pred: cmp(rty.Ge, a, lit(1)), Tag: TagAssign{}},
	}
	assert.Empty(t, Residue(con))
}
