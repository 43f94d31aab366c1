package rty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// identityFolder delegates every hook, so folding must rebuild an equal term.
type identityFolder struct{}

func (f identityFolder) FoldType(t Type) Type               { return SuperFoldType(f, t) }
func (f identityFolder) FoldExpr(e Expr) Expr               { return SuperFoldExpr(f, e) }
func (f identityFolder) FoldPred(p Pred) Pred               { return SuperFoldPred(f, p) }
func (f identityFolder) FoldBinder(b PredBinder) PredBinder { return SuperFoldBinder(f, b) }

// litFolder bumps every integer literal by one and otherwise delegates.
type litFolder struct{}

func (f litFolder) FoldType(t Type) Type               { return SuperFoldType(f, t) }
func (f litFolder) FoldPred(p Pred) Pred               { return SuperFoldPred(f, p) }
func (f litFolder) FoldBinder(b PredBinder) PredBinder { return SuperFoldBinder(f, b) }

func (f litFolder) FoldExpr(e Expr) Expr {
	if lit, ok := e.(IntLit); ok {
		return IntLit{Value: lit.Value + 1}
	}
	return SuperFoldExpr(f, e)
}

func deepType() Type {
	return Tuple{Elems: []Type{
		IndexedOf(IntTy{}, BinaryExpr{Op: Add, LHS: Var{Name: 1}, RHS: IntLit{Value: 1}}),
		Exists{
			Base: SliceTy{Elem: IndexedOf(IntTy{}, IntLit{Value: 1})},
			Binder: BindPred(
				[]Sort{IntSort{}},
				PredAnd(
					ExprPred{Expr: BinaryExpr{Op: Ge, LHS: BoundVar{Index: 0}, RHS: IntLit{Value: 1}}},
					KVar{ID: 3, Args: []Expr{BoundVar{Index: 0}}, Scope: []Expr{IntLit{Value: 1}}},
				),
			),
		},
		Ref{Kind: Mut, Ty: Constr{
			Pred: ExprPred{Expr: EqOf(Var{Name: 2}, IntLit{Value: 1})},
			Ty:   IndexedOf(BoolTy{}, TrueExpr),
		}},
	}}
}

func TestFold_IdentityRebuildsEqualTerm(t *testing.T) {
	ty := deepType()
	got := identityFolder{}.FoldType(ty)
	assert.True(t, TypeEq(ty, got), "got %s", got)
	assert.Equal(t, ty.Hash(), got.Hash())
}

func TestFold_ReachesEveryExprPosition(t *testing.T) {
	got := litFolder{}.FoldType(deepType())

	expected := Tuple{Elems: []Type{
		IndexedOf(IntTy{}, BinaryExpr{Op: Add, LHS: Var{Name: 1}, RHS: IntLit{Value: 2}}),
		Exists{
			Base: SliceTy{Elem: IndexedOf(IntTy{}, IntLit{Value: 2})},
			Binder: BindPred(
				[]Sort{IntSort{}},
				PredAnd(
					ExprPred{Expr: BinaryExpr{Op: Ge, LHS: BoundVar{Index: 0}, RHS: IntLit{Value: 2}}},
					KVar{ID: 3, Args: []Expr{BoundVar{Index: 0}}, Scope: []Expr{IntLit{Value: 2}}},
				),
			),
		},
		Ref{Kind: Mut, Ty: Constr{
			Pred: ExprPred{Expr: EqOf(Var{Name: 2}, IntLit{Value: 2})},
			Ty:   IndexedOf(BoolTy{}, TrueExpr),
		}},
	}}
	assert.True(t, TypeEq(expected, got), "got %s", got)
}

func TestFold_LeavesLeafTypesAlone(t *testing.T) {
	testCases := []struct {
		name  string
		input Type
	}{
		{name: "uninit", input: Uninit{}},
		{name: "generic param", input: Param{Index: 0, NameHint: "T"}},
		{name: "strong pointer", input: Ptr{Kind: Mut, Path: PathTo(LocLocal(2))}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := litFolder{}.FoldType(tc.input)
			assert.True(t, TypeEq(tc.input, got))
		})
	}
}

func TestFold_PredicateIndices(t *testing.T) {
	// a predicate-position index folds through its binder
	ty := Indexed{
		Base: AdtTy{Def: &AdtDef{Name: "Pred", IdxSorts: []Sort{FuncSort{In: []Sort{IntSort{}}}}}},
		Indices: []Index{IdxAbs{Binder: BindPred(
			[]Sort{IntSort{}},
			ExprPred{Expr: BinaryExpr{Op: Lt, LHS: BoundVar{Index: 0}, RHS: IntLit{Value: 1}}},
		)}},
	}
	got := litFolder{}.FoldType(ty)

	idx := got.(Indexed).Indices[0].(IdxAbs)
	expected := ExprPred{Expr: BinaryExpr{Op: Lt, LHS: BoundVar{Index: 0}, RHS: IntLit{Value: 2}}}
	assert.True(t, PredEq(expected, idx.Binder.Pred))
}

type countingVisitor struct {
	evars int
	holes int
}

func (v *countingVisitor) VisitType(t Type)         { SuperVisitType(v, t) }
func (v *countingVisitor) VisitBinder(b PredBinder) { SuperVisitBinder(v, b) }

func (v *countingVisitor) VisitExpr(e Expr) {
	if _, ok := e.(EVar); ok {
		v.evars++
		return
	}
	SuperVisitExpr(v, e)
}

func (v *countingVisitor) VisitPred(p Pred) {
	if _, ok := p.(Hole); ok {
		v.holes++
		return
	}
	SuperVisitPred(v, p)
}

func TestVisit_ReachesNestedPositions(t *testing.T) {
	ev := EVar{Ctx: 1, ID: 0}
	ty := Tuple{Elems: []Type{
		IndexedOf(IntTy{}, ev),
		ExistsHole(IntTy{}),
		Ref{Kind: Shr, Ty: Constr{
			Pred: ExprPred{Expr: BinaryExpr{Op: Eq, LHS: ev, RHS: ev}},
			Ty:   ExistsHole(BoolTy{}),
		}},
	}}

	v := &countingVisitor{}
	v.VisitType(ty)
	assert.Equal(t, 3, v.evars)
	assert.Equal(t, 2, v.holes)
}
