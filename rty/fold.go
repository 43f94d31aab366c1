package rty

import "fmt"

// Folder rebuilds a term bottom-up. Implementations provide all four hooks
// and delegate the uninteresting ones to the matching SuperFold function,
// which recurses into children and dispatches each back through the folder.
// The grammar is closed: SuperFold panics on a node kind it does not know,
// so a new term kind cannot be silently skipped.
type Folder interface {
	FoldType(Type) Type
	FoldExpr(Expr) Expr
	FoldPred(Pred) Pred
	FoldBinder(PredBinder) PredBinder
}

func SuperFoldType(f Folder, t Type) Type {
	switch t := t.(type) {
	case Indexed:
		idxs := make([]Index, len(t.Indices))
		for i, idx := range t.Indices {
			idxs[i] = superFoldIndex(f, idx)
		}
		return Indexed{Base: superFoldBaseType(f, t.Base), Indices: idxs}
	case Exists:
		return Exists{Base: superFoldBaseType(f, t.Base), Binder: f.FoldBinder(t.Binder)}
	case Ref:
		return Ref{Kind: t.Kind, Ty: f.FoldType(t.Ty)}
	case Ptr:
		return t
	case Tuple:
		elems := make([]Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = f.FoldType(e)
		}
		return Tuple{Elems: elems}
	case Array:
		return Array{Elem: f.FoldType(t.Elem), Len: t.Len}
	case Uninit:
		return t
	case Param:
		return t
	case Constr:
		return Constr{Pred: f.FoldPred(t.Pred), Ty: f.FoldType(t.Ty)}
	}
	panic(fmt.Sprintf("SuperFoldType: unhandled type %T", t))
}

func superFoldBaseType(f Folder, b BaseType) BaseType {
	switch b := b.(type) {
	case IntTy, UintTy, BoolTy, FloatTy, CharTy, StrTy:
		return b
	case SliceTy:
		return SliceTy{Elem: f.FoldType(b.Elem)}
	case AdtTy:
		args := make([]Type, len(b.Args))
		for i, a := range b.Args {
			args[i] = f.FoldType(a)
		}
		return AdtTy{Def: b.Def, Args: args}
	}
	panic(fmt.Sprintf("superFoldBaseType: unhandled base type %T", b))
}

func superFoldIndex(f Folder, idx Index) Index {
	switch idx := idx.(type) {
	case IdxExpr:
		return IdxExpr{Expr: f.FoldExpr(idx.Expr)}
	case IdxAbs:
		return IdxAbs{Binder: f.FoldBinder(idx.Binder)}
	}
	panic(fmt.Sprintf("superFoldIndex: unhandled index %T", idx))
}

func SuperFoldExpr(f Folder, e Expr) Expr {
	switch e := e.(type) {
	case Var, BoundVar, IntLit, BoolLit, StrLit, UnitLit, EVar:
		return e
	case UnaryExpr:
		return UnaryExpr{Op: e.Op, Operand: f.FoldExpr(e.Operand)}
	case BinaryExpr:
		return BinaryExpr{Op: e.Op, LHS: f.FoldExpr(e.LHS), RHS: f.FoldExpr(e.RHS)}
	case TupleExpr:
		elems := make([]Expr, len(e.Elems))
		for i, el := range e.Elems {
			elems[i] = f.FoldExpr(el)
		}
		return TupleExpr{Elems: elems}
	case TupleProj:
		return TupleProj{Tuple: f.FoldExpr(e.Tuple), Index: e.Index}
	case PathProj:
		return PathProj{Base: f.FoldExpr(e.Base), Field: e.Field}
	case IteExpr:
		return IteExpr{Cond: f.FoldExpr(e.Cond), Then: f.FoldExpr(e.Then), Else: f.FoldExpr(e.Else)}
	case AppExpr:
		args := make([]Expr, len(e.Args))
		for i, a := range e.Args {
			args[i] = f.FoldExpr(a)
		}
		return AppExpr{Func: f.FoldExpr(e.Func), Args: args}
	}
	panic(fmt.Sprintf("SuperFoldExpr: unhandled expr %T", e))
}

func SuperFoldPred(f Folder, p Pred) Pred {
	switch p := p.(type) {
	case ExprPred:
		return ExprPred{Expr: f.FoldExpr(p.Expr)}
	case KVar:
		args := make([]Expr, len(p.Args))
		for i, a := range p.Args {
			args[i] = f.FoldExpr(a)
		}
		scope := make([]Expr, len(p.Scope))
		for i, s := range p.Scope {
			scope[i] = f.FoldExpr(s)
		}
		return KVar{ID: p.ID, Args: args, Scope: scope}
	case AndPred:
		preds := make([]Pred, len(p.Preds))
		for i, sub := range p.Preds {
			preds[i] = f.FoldPred(sub)
		}
		return AndPred{Preds: preds}
	case Hole:
		return p
	}
	panic(fmt.Sprintf("SuperFoldPred: unhandled pred %T", p))
}

func SuperFoldBinder(f Folder, b PredBinder) PredBinder {
	return PredBinder{Params: b.Params, Pred: f.FoldPred(b.Pred)}
}

// Visitor traverses a term without rebuilding it; collection happens in the
// visitor's own state. SuperVisit functions drive the recursion the same way
// SuperFold does.
type Visitor interface {
	VisitType(Type)
	VisitExpr(Expr)
	VisitPred(Pred)
	VisitBinder(PredBinder)
}

func SuperVisitType(v Visitor, t Type) {
	switch t := t.(type) {
	case Indexed:
		superVisitBaseType(v, t.Base)
		for _, idx := range t.Indices {
			switch idx := idx.(type) {
			case IdxExpr:
				v.VisitExpr(idx.Expr)
			case IdxAbs:
				v.VisitBinder(idx.Binder)
			}
		}
	case Exists:
		superVisitBaseType(v, t.Base)
		v.VisitBinder(t.Binder)
	case Ref:
		v.VisitType(t.Ty)
	case Ptr, Uninit, Param:
	case Tuple:
		for _, e := range t.Elems {
			v.VisitType(e)
		}
	case Array:
		v.VisitType(t.Elem)
	case Constr:
		v.VisitPred(t.Pred)
		v.VisitType(t.Ty)
	default:
		panic(fmt.Sprintf("SuperVisitType: unhandled type %T", t))
	}
}

func superVisitBaseType(v Visitor, b BaseType) {
	switch b := b.(type) {
	case IntTy, UintTy, BoolTy, FloatTy, CharTy, StrTy:
	case SliceTy:
		v.VisitType(b.Elem)
	case AdtTy:
		for _, a := range b.Args {
			v.VisitType(a)
		}
	default:
		panic(fmt.Sprintf("superVisitBaseType: unhandled base type %T", b))
	}
}

func SuperVisitExpr(v Visitor, e Expr) {
	switch e := e.(type) {
	case Var, BoundVar, IntLit, BoolLit, StrLit, UnitLit, EVar:
	case UnaryExpr:
		v.VisitExpr(e.Operand)
	case BinaryExpr:
		v.VisitExpr(e.LHS)
		v.VisitExpr(e.RHS)
	case TupleExpr:
		for _, el := range e.Elems {
			v.VisitExpr(el)
		}
	case TupleProj:
		v.VisitExpr(e.Tuple)
	case PathProj:
		v.VisitExpr(e.Base)
	case IteExpr:
		v.VisitExpr(e.Cond)
		v.VisitExpr(e.Then)
		v.VisitExpr(e.Else)
	case AppExpr:
		v.VisitExpr(e.Func)
		for _, a := range e.Args {
			v.VisitExpr(a)
		}
	default:
		panic(fmt.Sprintf("SuperVisitExpr: unhandled expr %T", e))
	}
}

func SuperVisitPred(v Visitor, p Pred) {
	switch p := p.(type) {
	case ExprPred:
		v.VisitExpr(p.Expr)
	case KVar:
		for _, a := range p.Args {
			v.VisitExpr(a)
		}
		for _, s := range p.Scope {
			v.VisitExpr(s)
		}
	case AndPred:
		for _, sub := range p.Preds {
			v.VisitPred(sub)
		}
	case Hole:
	default:
		panic(fmt.Sprintf("SuperVisitPred: unhandled pred %T", p))
	}
}

func SuperVisitBinder(v Visitor, b PredBinder) {
	v.VisitPred(b.Pred)
}
