package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

func newGen() (*ConstraintGen, *ConstraintTree, RefineCtx) {
	tree := NewConstraintTree(&rty.Fresher{})
	gen := NewConstraintGen(NewGlobalEnv(), tree, NewKVarGen())
	return gen, tree, tree.Root()
}

func collectHeads(c fixpoint.Constraint) []fixpoint.Head {
	var heads []fixpoint.Head
	var walk func(c fixpoint.Constraint)
	walk = func(c fixpoint.Constraint) {
		switch c := c.(type) {
		case fixpoint.Conj:
			for _, part := range c.Parts {
				walk(part)
			}
		case fixpoint.ForAll:
			walk(c.Body)
		case fixpoint.Guard:
			walk(c.Body)
		case fixpoint.Head:
			heads = append(heads, c)
		}
	}
	walk(c)
	return heads
}

func exportOf(t *testing.T, tree *ConstraintTree) fixpoint.Constraint {
	t.Helper()
	con, err := tree.Export()
	require.NoError(t, err)
	return con
}

func TestSub_ReflexiveIsFree(t *testing.T) {
	gen, tree, rcx := newGen()
	a := rcx.PushBinding(rty.IntSort{})

	err := gen.Sub(&rcx, NewTypeEnv(), intVar(a), intVar(a), fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)
	assert.Empty(t, collectHeads(exportOf(t, tree)))
}

func TestSub_IndexMismatchBecomesEquality(t *testing.T) {
	gen, tree, rcx := newGen()

	err := gen.Sub(&rcx, NewTypeEnv(), intIdx(1), intIdx(2), fixpoint.TagAssign{}, ir.Span{})
	require.NoError(t, err)

	heads := collectHeads(exportOf(t, tree))
	require.Len(t, heads, 1)
	want := rty.ExprPred{Expr: rty.EqOf(rty.IntLit{Value: 1}, rty.IntLit{Value: 2})}
	assert.True(t, rty.PredEq(want, heads[0].Pred))
	assert.Equal(t, fixpoint.Tag(fixpoint.TagAssign{}), heads[0].Tag)
}

func TestSub_LeftExistentialOpensAsAssumption(t *testing.T) {
	gen, tree, rcx := newGen()
	a := rcx.PushBinding(rty.IntSort{})

	err := gen.Sub(&rcx, NewTypeEnv(), intPos(), intVar(a), fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)

	// the opened index joined the scope, guarded by the binder's predicate
	assert.Equal(t, 2, rcx.Scope().Len())
	b := rcx.Scope().Names()[1]

	heads := collectHeads(exportOf(t, tree))
	require.Len(t, heads, 1)
	want := rty.ExprPred{Expr: rty.EqOf(rty.Var{Name: b}, rty.Var{Name: a})}
	assert.True(t, rty.PredEq(want, heads[0].Pred))
}

func TestSub_RightExistentialWitnessedByUnification(t *testing.T) {
	gen, tree, rcx := newGen()

	err := gen.Sub(&rcx, NewTypeEnv(), intIdx(5), intPos(), fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)

	// the witness is 5, so the binder's guard becomes 5 > 0 and the local
	// simplifier discharges it
	assert.Empty(t, fixpoint.Residue(exportOf(t, tree)))
}

func TestSub_WitnessSolutionRewritesRecordedObligations(t *testing.T) {
	gen, tree, rcx := newGen()
	x := rcx.PushBinding(rty.IntSort{})

	err := gen.Sub(&rcx, NewTypeEnv(), intVar(x), intPos(), fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)

	heads := collectHeads(exportOf(t, tree))
	require.Len(t, heads, 1)
	assert.True(t, rty.PredEq(gtZero(x), heads[0].Pred), "exported %s", heads[0].Pred)
}

func TestSub_ConstraintOnLeftIsAssumed(t *testing.T) {
	gen, tree, rcx := newGen()
	a := rcx.PushBinding(rty.IntSort{})

	lhs := rty.Constr{Pred: gtZero(a), Ty: intVar(a)}
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, intVar(a), fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)

	con := exportOf(t, tree)
	assert.Empty(t, collectHeads(con))
	forAll, ok := con.(fixpoint.ForAll)
	require.True(t, ok)
	guard, ok := forAll.Body.(fixpoint.Guard)
	require.True(t, ok)
	assert.True(t, rty.PredEq(gtZero(a), guard.Pred))
}

func TestSub_ConstraintOnRightIsChecked(t *testing.T) {
	gen, tree, rcx := newGen()
	a := rcx.PushBinding(rty.IntSort{})

	rhs := rty.Constr{Pred: gtZero(a), Ty: intVar(a)}
	err := gen.Sub(&rcx, NewTypeEnv(), intVar(a), rhs, fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)

	heads := collectHeads(exportOf(t, tree))
	require.Len(t, heads, 1)
	assert.True(t, rty.PredEq(gtZero(a), heads[0].Pred))
}

func TestSub_SharedRefsAreCovariant(t *testing.T) {
	gen, tree, rcx := newGen()

	lhs := rty.Ref{Kind: rty.Shr, Ty: intIdx(1)}
	rhs := rty.Ref{Kind: rty.Shr, Ty: intIdx(2)}
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, rhs, fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)
	assert.Len(t, collectHeads(exportOf(t, tree)), 1)
}

func TestSub_MutRefsAreInvariant(t *testing.T) {
	gen, tree, rcx := newGen()

	lhs := rty.Ref{Kind: rty.Mut, Ty: intIdx(1)}
	rhs := rty.Ref{Kind: rty.Mut, Ty: intIdx(2)}
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, rhs, fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)

	heads := collectHeads(exportOf(t, tree))
	require.Len(t, heads, 2)
	assert.True(t, rty.PredEq(rty.ExprPred{Expr: rty.EqOf(rty.IntLit{Value: 1}, rty.IntLit{Value: 2})}, heads[0].Pred))
	assert.True(t, rty.PredEq(rty.ExprPred{Expr: rty.EqOf(rty.IntLit{Value: 2}, rty.IntLit{Value: 1})}, heads[1].Pred))
}

func TestSub_RefKindMismatchErrors(t *testing.T) {
	gen, _, rcx := newGen()

	lhs := rty.Ref{Kind: rty.Shr, Ty: intIdx(1)}
	rhs := rty.Ref{Kind: rty.Mut, Ty: intIdx(1)}
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, rhs, fixpoint.TagRet{}, ir.Span{})
	assert.ErrorContains(t, err, "no subtyping")
}

func TestSub_StrongPointersMustAgreeOnPath(t *testing.T) {
	gen, tree, rcx := newGen()
	l := rty.LocFree(7)

	same := rty.Ptr{Kind: rty.Mut, Path: rty.PathTo(l)}
	require.NoError(t, gen.Sub(&rcx, NewTypeEnv(), same, same, fixpoint.TagRet{}, ir.Span{}))
	assert.Empty(t, collectHeads(exportOf(t, tree)))

	other := rty.Ptr{Kind: rty.Mut, Path: rty.PathTo(rty.LocFree(8))}
	err := gen.Sub(&rcx, NewTypeEnv(), same, other, fixpoint.TagRet{}, ir.Span{})
	assert.ErrorContains(t, err, "different paths")
}

func TestSub_GivingUpAStrongPointer(t *testing.T) {
	gen, tree, rcx := newGen()
	l := rty.LocFree(7)
	env := NewTypeEnv()
	env.Define(l, intIdx(5))
	env.Define(rty.LocLocal(1), rty.Ptr{Kind: rty.Mut, Path: rty.PathTo(l)})

	lhs := rty.Ptr{Kind: rty.Mut, Path: rty.PathTo(l)}
	rhs := rty.Ref{Kind: rty.Mut, Ty: intPos()}
	err := gen.Sub(&rcx, env, lhs, rhs, fixpoint.TagCall{}, ir.Span{})
	require.NoError(t, err)

	// content was proven against the referent type, then pinned to it
	got, _ := env.Get(l)
	assert.True(t, rty.TypeEq(intPos(), got.Ty))
	assert.True(t, got.Blocked)
	assert.Equal(t, []rty.Loc{l}, gen.blockedInCall)

	assert.Empty(t, fixpoint.Residue(exportOf(t, tree)), "5 > 0 should discharge locally")
}

func TestSub_GivingUpABlockedPointerStillWrites(t *testing.T) {
	gen, _, rcx := newGen()
	env := NewTypeEnv()
	env.Define(rty.LocLocal(1), intIdx(5))
	path, _, err := env.Borrow(rty.Mut, ir.PlaceOf(1))
	require.NoError(t, err)

	lhs := rty.Ptr{Kind: rty.Mut, Path: path}
	rhs := rty.Ref{Kind: rty.Mut, Ty: intPos()}
	require.NoError(t, gen.Sub(&rcx, env, lhs, rhs, fixpoint.TagGoto{Target: 1}, ir.Span{}))

	got, _ := env.Get(rty.LocLocal(1))
	assert.True(t, rty.TypeEq(intPos(), got.Ty))
	assert.True(t, got.Blocked)
}

func TestSub_UninitOnRightIsTop(t *testing.T) {
	gen, tree, rcx := newGen()

	require.NoError(t, gen.Sub(&rcx, NewTypeEnv(), intIdx(5), rty.Uninit{}, fixpoint.TagRet{}, ir.Span{}))
	require.NoError(t, gen.Sub(&rcx, NewTypeEnv(), rty.Ref{Kind: rty.Mut, Ty: intIdx(1)}, rty.Uninit{}, fixpoint.TagRet{}, ir.Span{}))
	assert.Empty(t, collectHeads(exportOf(t, tree)))
}

func TestSub_TupleElementwise(t *testing.T) {
	gen, tree, rcx := newGen()

	lhs := rty.Tuple{Elems: []rty.Type{intIdx(1), intIdx(2)}}
	rhs := rty.Tuple{Elems: []rty.Type{intIdx(1), intIdx(3)}}
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, rhs, fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)
	assert.Len(t, collectHeads(exportOf(t, tree)), 1)

	short := rty.Tuple{Elems: []rty.Type{intIdx(1)}}
	err = gen.Sub(&rcx, NewTypeEnv(), lhs, short, fixpoint.TagRet{}, ir.Span{})
	assert.ErrorContains(t, err, "arity")
}

func TestSub_BaseMismatchIsInternal(t *testing.T) {
	gen, _, rcx := newGen()

	boolTrue := rty.IndexedOf(rty.BoolTy{}, rty.BoolLit{Value: true})
	err := gen.Sub(&rcx, NewTypeEnv(), intIdx(1), boolTrue, fixpoint.TagRet{}, ir.Span{})
	assert.ErrorContains(t, err, "not a subtype")
}

func TestSub_TypeParamsByPosition(t *testing.T) {
	gen, _, rcx := newGen()

	require.NoError(t, gen.Sub(&rcx, NewTypeEnv(), rty.Param{Index: 0}, rty.Param{Index: 0}, fixpoint.TagRet{}, ir.Span{}))
	err := gen.Sub(&rcx, NewTypeEnv(), rty.Param{Index: 0}, rty.Param{Index: 1}, fixpoint.TagRet{}, ir.Span{})
	assert.ErrorContains(t, err, "distinct type parameters")
}

func TestSub_ArrayLengthsMustMatch(t *testing.T) {
	gen, _, rcx := newGen()

	lhs := rty.Array{Elem: intIdx(1), Len: 2}
	rhs := rty.Array{Elem: intIdx(1), Len: 3}
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, rhs, fixpoint.TagRet{}, ir.Span{})
	assert.ErrorContains(t, err, "length mismatch")
}

func TestSub_AdtVarianceDirections(t *testing.T) {
	gen, tree, rcx := newGen()
	def := &rty.AdtDef{
		Name:      "Pair",
		Variances: []rty.Variance{rty.Covariant, rty.Contravariant},
	}

	lhs := rty.IndexedOf(rty.AdtTy{Def: def, Args: []rty.Type{intIdx(1), intIdx(4)}})
	rhs := rty.IndexedOf(rty.AdtTy{Def: def, Args: []rty.Type{intIdx(2), intIdx(3)}})
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, rhs, fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)

	heads := collectHeads(exportOf(t, tree))
	require.Len(t, heads, 2)
	// the covariant argument flows left to right, the contravariant one
	// right to left
	assert.True(t, rty.PredEq(rty.ExprPred{Expr: rty.EqOf(rty.IntLit{Value: 1}, rty.IntLit{Value: 2})}, heads[0].Pred))
	assert.True(t, rty.PredEq(rty.ExprPred{Expr: rty.EqOf(rty.IntLit{Value: 3}, rty.IntLit{Value: 4})}, heads[1].Pred))
}

func TestSub_SliceElementsInvariant(t *testing.T) {
	gen, tree, rcx := newGen()

	lhs := rty.IndexedOf(rty.SliceTy{Elem: intIdx(1)})
	rhs := rty.IndexedOf(rty.SliceTy{Elem: intIdx(2)})
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, rhs, fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)
	assert.Len(t, collectHeads(exportOf(t, tree)), 2)
}

func TestSub_PredicateIndicesEntailBothWays(t *testing.T) {
	gen, tree, rcx := newGen()
	def := &rty.AdtDef{
		Name:     "Filtered",
		IdxSorts: []rty.Sort{rty.FuncSort{In: []rty.Sort{rty.IntSort{}}}},
	}
	strict := rty.BindPred([]rty.Sort{rty.IntSort{}}, rty.ExprPred{
		Expr: rty.BinaryExpr{Op: rty.Gt, LHS: rty.BoundVar{Index: 0}, RHS: rty.IntLit{Value: 0}},
	})
	loose := rty.BindPred([]rty.Sort{rty.IntSort{}}, rty.ExprPred{
		Expr: rty.BinaryExpr{Op: rty.Ge, LHS: rty.BoundVar{Index: 0}, RHS: rty.IntLit{Value: 0}},
	})

	lhs := rty.Indexed{Base: rty.AdtTy{Def: def}, Indices: []rty.Index{rty.IdxAbs{Binder: strict}}}
	rhs := rty.Indexed{Base: rty.AdtTy{Def: def}, Indices: []rty.Index{rty.IdxAbs{Binder: loose}}}
	err := gen.Sub(&rcx, NewTypeEnv(), lhs, rhs, fixpoint.TagRet{}, ir.Span{})
	require.NoError(t, err)

	// v > 0 entails v >= 0 and is pruned; the reverse direction survives
	obs := fixpoint.Residue(exportOf(t, tree))
	require.Len(t, obs, 1)
	assert.False(t, obs[0].Deferred)
	ep, ok := obs[0].Pred.(rty.ExprPred)
	require.True(t, ok)
	be, ok := ep.Expr.(rty.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, rty.Gt, be.Op)
}

func TestEVar_UnifyWithinScope(t *testing.T) {
	gen, _, rcx := newGen()
	a := rcx.PushBinding(rty.IntSort{})
	gen.PushEVarCtx(&rcx)
	ev := gen.FreshEVar()

	assert.True(t, gen.UnifyEVar(ev, rty.Var{Name: a}))

	sol, unsolved := gen.PopEVarCtx()
	assert.Empty(t, unsolved)
	got, ok := sol.Get(ev)
	require.True(t, ok)
	assert.True(t, rty.ExprEq(rty.Var{Name: a}, got))
}

func TestEVar_RejectsCandidateOutOfScope(t *testing.T) {
	gen, _, rcx := newGen()
	gen.PushEVarCtx(&rcx)
	ev := gen.FreshEVar()

	assert.False(t, gen.UnifyEVar(ev, rty.Var{Name: 99}))
	_, unsolved := gen.PopEVarCtx()
	assert.Len(t, unsolved, 1)
}

func TestEVar_ScopeIsFrozenAtPush(t *testing.T) {
	gen, _, rcx := newGen()
	gen.PushEVarCtx(&rcx)
	ev := gen.FreshEVar()

	// a binding introduced after the context opened must not leak into a
	// solution: the solution is applied above that binder
	late := rcx.PushBinding(rty.IntSort{})
	assert.False(t, gen.UnifyEVar(ev, rty.Var{Name: late}))
	gen.PopEVarCtx()
}

func TestEVar_SiblingBreadcrumbsKeepPrivateScopes(t *testing.T) {
	gen, _, rcx := newGen()
	a := rcx.PushBinding(rty.IntSort{})

	// first child binds a private variable, solves against it, and is abandoned
	c1 := rcx.Breadcrumb()
	stray := c1.PushBinding(rty.IntSort{})
	gen.PushEVarCtx(&c1)
	ev1 := gen.FreshEVar()
	require.True(t, gen.UnifyEVar(ev1, rty.Var{Name: stray}))
	_, unsolved := gen.PopEVarCtx()
	require.Empty(t, unsolved)

	// the sibling's context never saw the abandoned binding
	c2 := rcx.Breadcrumb()
	gen.PushEVarCtx(&c2)
	ev2 := gen.FreshEVar()
	assert.False(t, gen.UnifyEVar(ev2, rty.Var{Name: stray}))
	assert.True(t, gen.UnifyEVar(ev2, rty.Var{Name: a}))
	_, unsolved = gen.PopEVarCtx()
	assert.Empty(t, unsolved)
}

func TestEVar_ConflictingSolutionsRefused(t *testing.T) {
	gen, _, rcx := newGen()
	gen.PushEVarCtx(&rcx)
	ev := gen.FreshEVar()

	require.True(t, gen.UnifyEVar(ev, rty.IntLit{Value: 1}))
	assert.False(t, gen.UnifyEVar(ev, rty.IntLit{Value: 2}))
	assert.True(t, gen.UnifyEVar(ev, rty.IntLit{Value: 1}), "re-proposing the same solution is fine")
	gen.PopEVarCtx()
}

func TestEVar_OpenVariableCannotAppearInSolution(t *testing.T) {
	gen, _, rcx := newGen()
	gen.PushEVarCtx(&rcx)
	ev := gen.FreshEVar()
	other := gen.FreshEVar()

	assert.False(t, gen.UnifyEVar(ev, rty.BinaryExpr{Op: rty.Add, LHS: other, RHS: rty.IntLit{Value: 1}}))
	gen.PopEVarCtx()
}

func TestEVar_ClosedContextRefusesUnification(t *testing.T) {
	gen, _, rcx := newGen()
	gen.PushEVarCtx(&rcx)
	ev := gen.FreshEVar()
	gen.UnifyEVar(ev, rty.IntLit{Value: 1})
	gen.PopEVarCtx()

	assert.False(t, gen.UnifyEVar(ev, rty.IntLit{Value: 1}))
}

func TestEVar_PopAppliesSolutionToSubtree(t *testing.T) {
	gen, tree, rcx := newGen()
	gen.PushEVarCtx(&rcx)
	ev := gen.FreshEVar()

	rcx.Check(rty.ExprPred{Expr: rty.EqOf(ev, rty.IntLit{Value: 5})}, fixpoint.TagGoto{Target: 2}, ir.Span{})
	require.True(t, gen.UnifyEVar(ev, rty.IntLit{Value: 3}))
	gen.PopEVarCtx()

	heads := collectHeads(exportOf(t, tree))
	require.Len(t, heads, 1)
	want := rty.ExprPred{Expr: rty.EqOf(rty.IntLit{Value: 3}, rty.IntLit{Value: 5})}
	assert.True(t, rty.PredEq(want, heads[0].Pred), "exported %s", heads[0].Pred)
}

func TestEVar_NestedContextsPopInnermostFirst(t *testing.T) {
	gen, _, rcx := newGen()
	gen.PushEVarCtx(&rcx)
	outer := gen.FreshEVar()
	gen.PushEVarCtx(&rcx)
	inner := gen.FreshEVar()

	require.True(t, gen.UnifyEVar(inner, rty.IntLit{Value: 2}))
	require.True(t, gen.UnifyEVar(outer, rty.IntLit{Value: 1}))

	sol, unsolved := gen.PopEVarCtx()
	assert.Empty(t, unsolved)
	_, ok := sol.Get(inner)
	assert.True(t, ok)
	_, ok = sol.Get(outer)
	assert.False(t, ok, "outer variable belongs to the outer frame")

	sol, _ = gen.PopEVarCtx()
	got, ok := sol.Get(outer)
	require.True(t, ok)
	assert.True(t, rty.ExprEq(rty.IntLit{Value: 1}, got))
}
