package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

func newTree() (*ConstraintTree, RefineCtx) {
	t := NewConstraintTree(&rty.Fresher{})
	return t, t.Root()
}

func gtZero(n rty.Name) rty.Pred {
	return rty.ExprPred{Expr: rty.BinaryExpr{Op: rty.Gt, LHS: rty.Var{Name: n}, RHS: rty.IntLit{Value: 0}}}
}

func countHeads(c fixpoint.Constraint) int {
	switch c := c.(type) {
	case fixpoint.Conj:
		n := 0
		for _, part := range c.Parts {
			n += countHeads(part)
		}
		return n
	case fixpoint.ForAll:
		return countHeads(c.Body)
	case fixpoint.Guard:
		return countHeads(c.Body)
	case fixpoint.Head:
		return 1
	}
	return 0
}

func TestRefineCtx_ExportNesting(t *testing.T) {
	tree, rcx := newTree()

	a := rcx.PushBinding(rty.IntSort{})
	rcx.Assume(gtZero(a))
	rcx.Check(rty.ExprPred{Expr: rty.BinaryExpr{Op: rty.Ge, LHS: rty.Var{Name: a}, RHS: rty.IntLit{Value: 0}}},
		fixpoint.TagRet{}, ir.Span{})

	con, err := tree.Export()
	require.NoError(t, err)

	forAll, ok := con.(fixpoint.ForAll)
	require.True(t, ok, "expected a binder at the top, got %T", con)
	assert.Equal(t, a, forAll.Name)
	assert.Equal(t, rty.Sort(rty.IntSort{}), forAll.Sort)

	guard, ok := forAll.Body.(fixpoint.Guard)
	require.True(t, ok, "expected a guard under the binder, got %T", forAll.Body)
	assert.True(t, rty.PredEq(gtZero(a), guard.Pred))

	head, ok := guard.Body.(fixpoint.Head)
	require.True(t, ok, "expected a head under the guard, got %T", guard.Body)
	assert.Equal(t, fixpoint.Tag(fixpoint.TagRet{}), head.Tag)
}

func TestRefineCtx_TrivialPredsAreDropped(t *testing.T) {
	tree, rcx := newTree()

	rcx.Assume(rty.PredTrue)
	rcx.Check(rty.PredTrue, fixpoint.TagAssert{}, ir.Span{})
	rcx.Check(rty.AndPred{}, fixpoint.TagAssert{}, ir.Span{})

	assert.Equal(t, 0, rcx.Scope().Len())
	con, err := tree.Export()
	require.NoError(t, err)
	assert.Equal(t, 0, countHeads(con))
}

func TestRefineCtx_CopiesShareTheTree(t *testing.T) {
	tree, rcx := newTree()

	branch := rcx
	a := branch.PushBinding(rty.IntSort{})
	branch.Check(gtZero(a), fixpoint.TagRet{}, ir.Span{})

	// the original cursor did not move, but the recorded subtree is shared
	assert.Equal(t, 0, rcx.Scope().Len())
	con, err := tree.Export()
	require.NoError(t, err)
	assert.Equal(t, 1, countHeads(con))
}

func TestBreadcrumb_DetachedUntilPromote(t *testing.T) {
	tree, rcx := newTree()
	a := rcx.PushBinding(rty.IntSort{})

	crumb := rcx.Breadcrumb()
	crumb.Assume(gtZero(a))
	crumb.Check(gtZero(a), fixpoint.TagGoto{Target: 1}, ir.Span{})

	con, err := tree.Export()
	require.NoError(t, err)
	assert.Equal(t, 0, countHeads(con), "breadcrumb contents visible before promotion")

	crumb.Promote()
	con, err = tree.Export()
	require.NoError(t, err)
	assert.Equal(t, 1, countHeads(con))
}

func TestBreadcrumb_PromoteGraftsOnce(t *testing.T) {
	tree, rcx := newTree()

	crumb := rcx.Breadcrumb()
	crumb.Check(gtZero(0), fixpoint.TagRet{}, ir.Span{})
	crumb.Promote()
	crumb.Promote()

	con, err := tree.Export()
	require.NoError(t, err)
	assert.Equal(t, 1, countHeads(con))
}

func TestBreadcrumb_PromoteOnPlainCursorIsNoop(t *testing.T) {
	tree, rcx := newTree()
	rcx.Check(gtZero(0), fixpoint.TagRet{}, ir.Span{})
	rcx.Promote()

	con, err := tree.Export()
	require.NoError(t, err)
	assert.Equal(t, 1, countHeads(con))
}

func TestBreadcrumb_SeesParentScope(t *testing.T) {
	_, rcx := newTree()
	a := rcx.PushBinding(rty.IntSort{})

	crumb := rcx.Breadcrumb()
	b := crumb.PushBinding(rty.BoolSort{})

	assert.True(t, crumb.Scope().Contains(a))
	assert.True(t, crumb.Scope().Contains(b))
	assert.False(t, rcx.Scope().Contains(b))
}

func TestSnapshot_ReconstructsScopeInOrder(t *testing.T) {
	tree, rcx := newTree()
	a := rcx.PushBinding(rty.IntSort{})
	b := rcx.PushBinding(rty.BoolSort{})
	snap := rcx.Snapshot()
	c := rcx.PushBinding(rty.IntSort{})

	scope := snap.Scope()
	assert.Equal(t, []rty.Name{a, b}, scope.Names())
	assert.Equal(t, []rty.Sort{rty.IntSort{}, rty.BoolSort{}}, scope.Sorts())
	assert.False(t, scope.Contains(c))

	// a cursor rebuilt from the snapshot continues from the same position
	resumed := tree.At(snap)
	assert.Equal(t, []rty.Name{a, b}, resumed.Scope().Names())
}

func TestSnapshot_ResumedCursorRecordsUnderOldPath(t *testing.T) {
	tree, rcx := newTree()
	a := rcx.PushBinding(rty.IntSort{})
	snap := rcx.Snapshot()

	resumed := tree.At(snap)
	resumed.Assume(gtZero(a))
	resumed.Check(gtZero(a), fixpoint.TagGoto{Target: 2}, ir.Span{})

	con, err := tree.Export()
	require.NoError(t, err)
	forAll, ok := con.(fixpoint.ForAll)
	require.True(t, ok)
	assert.Equal(t, a, forAll.Name)
	assert.Equal(t, 1, countHeads(forAll.Body))
}

func TestClear_DiscardsRecordedSubtree(t *testing.T) {
	tree, rcx := newTree()
	snap := rcx.Snapshot()

	stale := tree.At(snap)
	stale.PushBinding(rty.IntSort{})
	stale.Check(gtZero(0), fixpoint.TagRet{}, ir.Span{})

	cleared := tree.At(snap)
	cleared.Clear()
	cleared.Check(gtZero(1), fixpoint.TagRet{}, ir.Span{})

	con, err := tree.Export()
	require.NoError(t, err)
	assert.Equal(t, 1, countHeads(con))
}

func TestScope_Vars(t *testing.T) {
	_, rcx := newTree()
	a := rcx.PushBinding(rty.IntSort{})
	b := rcx.PushBinding(rty.IntSort{})

	assert.Equal(t, []rty.Expr{rty.Var{Name: a}, rty.Var{Name: b}}, rcx.Scope().Vars())
}

func TestScope_ContainsAll(t *testing.T) {
	_, rcx := newTree()
	a := rcx.PushBinding(rty.IntSort{})
	b := rcx.PushBinding(rty.BoolSort{})
	scope := rcx.Scope()

	assert.True(t, scope.ContainsAll(rty.FreeVarsOfExpr(rty.Var{Name: a})))
	assert.True(t, scope.ContainsAll(rty.FreeVarsOfExpr(rty.AndOf(rty.Var{Name: a}, rty.Var{Name: b}))))
	assert.False(t, scope.ContainsAll(rty.FreeVarsOfExpr(rty.Var{Name: 99})))
}

func TestExport_RejectsEscapedHoles(t *testing.T) {
	tree, rcx := newTree()
	rcx.Check(rty.Hole{}, fixpoint.TagRet{}, ir.Span{})

	_, err := tree.Export()
	assert.ErrorContains(t, err, "hole")
}

func TestExport_RejectsHoleInAssumption(t *testing.T) {
	tree, rcx := newTree()
	rcx.Assume(rty.AndPred{Preds: []rty.Pred{gtZero(0), rty.Hole{}}})
	rcx.Check(gtZero(0), fixpoint.TagRet{}, ir.Span{})

	_, err := tree.Export()
	assert.ErrorContains(t, err, "hole")
}

func TestKVarGen_FreshRecordsDeclarations(t *testing.T) {
	_, rcx := newTree()
	a := rcx.PushBinding(rty.IntSort{})
	scope := rcx.Scope()

	g := NewKVarGen()
	kv := g.Fresh([]rty.Sort{rty.IntSort{}, rty.BoolSort{}}, scope)

	assert.Equal(t, rty.KVID(0), kv.ID)
	assert.Equal(t, []rty.Expr{rty.BoundVar{Index: 0}, rty.BoundVar{Index: 1}}, kv.Args)
	assert.Equal(t, []rty.Expr{rty.Var{Name: a}}, kv.Scope)

	kv2 := g.Fresh(nil, scope)
	assert.Equal(t, rty.KVID(1), kv2.ID)

	decls := g.Decls()
	require.Len(t, decls, 2)
	assert.Equal(t, []rty.Sort{rty.IntSort{}, rty.BoolSort{}}, decls[0].ArgSorts)
	assert.Equal(t, []rty.Sort{rty.IntSort{}}, decls[0].ScopeSorts)
}

func TestKVarGen_FreshBinderSitsUnderItsSorts(t *testing.T) {
	_, rcx := newTree()
	g := NewKVarGen()

	binder := g.FreshBinder([]rty.Sort{rty.IntSort{}}, rcx.Scope())
	assert.Equal(t, []rty.Sort{rty.IntSort{}}, binder.Params)

	opened := rty.SubstBound(binder, rty.IntLit{Value: 7})
	kv, ok := opened.(rty.KVar)
	require.True(t, ok, "expected an unknown predicate, got %T", opened)
	assert.Equal(t, []rty.Expr{rty.IntLit{Value: 7}}, kv.Args)
}
