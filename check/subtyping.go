package check

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"

	"github.com/cottand/atoll/atollerr"
	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

// Sub establishes ty1 <: ty2 under the current context, emitting proof
// obligations for the indices and guards involved. Existentials on the left
// are opened as assumptions; on the right their witnesses are found by
// unification. Structural mismatches are internal errors: the base program
// is well typed before refinement checking starts.
func (gen *ConstraintGen) Sub(rcx *RefineCtx, env *TypeEnv, ty1, ty2 rty.Type, tag fixpoint.Tag, span ir.Span) error {
	if ex, ok := ty1.(rty.Exists); ok {
		names := rcx.PushBindings(ex.Binder.Params)
		vars := make([]rty.Expr, len(names))
		for i, n := range names {
			vars[i] = rty.Var{Name: n}
		}
		rcx.Assume(rty.SubstBound(ex.Binder, vars...))
		return gen.Sub(rcx, env, rty.Indexed{Base: ex.Base, Indices: rty.IdxsOf(vars...)}, ty2, tag, span)
	}
	if c, ok := ty1.(rty.Constr); ok {
		rcx.Assume(c.Pred)
		return gen.Sub(rcx, env, c.Ty, ty2, tag, span)
	}
	if c, ok := ty2.(rty.Constr); ok {
		rcx.Check(c.Pred, tag, span)
		return gen.Sub(rcx, env, ty1, c.Ty, tag, span)
	}
	if _, ok := ty2.(rty.Uninit); ok {
		return nil
	}
	if ex, ok := ty2.(rty.Exists); ok {
		gen.PushEVarCtx(rcx)
		evars := make([]rty.Expr, len(ex.Binder.Params))
		for i := range evars {
			evars[i] = gen.FreshEVar()
		}
		// subtype against the witnessed indices first so unification pins
		// them down, then discharge the guard
		err := gen.Sub(rcx, env, ty1, rty.Indexed{Base: ex.Base, Indices: rty.IdxsOf(evars...)}, tag, span)
		if err != nil {
			return err
		}
		rcx.Check(rty.SubstBound(ex.Binder, evars...), tag, span)
		if _, unsolved := gen.PopEVarCtx(); len(unsolved) > 0 {
			return atollerr.New(atollerr.NewInference{Spanned: span, Unsolved: unsolved})
		}
		return nil
	}

	switch ty1 := ty1.(type) {
	case rty.Indexed:
		ty2, ok := ty2.(rty.Indexed)
		if !ok {
			break
		}
		if err := gen.subBase(rcx, env, ty1.Base, ty2.Base, tag, span); err != nil {
			return err
		}
		return gen.subIndices(rcx, ty1.Indices, ty2.Indices, tag, span)
	case rty.Ref:
		ty2, ok := ty2.(rty.Ref)
		if !ok {
			break
		}
		if ty1.Kind != ty2.Kind {
			break
		}
		if ty1.Kind == rty.Mut {
			// mutable references are invariant in their referent
			if err := gen.Sub(rcx, env, ty1.Ty, ty2.Ty, tag, span); err != nil {
				return err
			}
			return gen.Sub(rcx, env, ty2.Ty, ty1.Ty, tag, span)
		}
		return gen.Sub(rcx, env, ty1.Ty, ty2.Ty, tag, span)
	case rty.Ptr:
		switch ty2 := ty2.(type) {
		case rty.Ptr:
			if ty1.Kind != ty2.Kind {
				break
			}
			if !ty1.Path.Eq(ty2.Path) {
				return errors.Errorf("strong pointers to different paths: %s vs %s", ty1.Path, ty2.Path)
			}
			return nil
		case rty.Ref:
			if ty1.Kind != rty.Mut || ty2.Kind != rty.Mut {
				break
			}
			// giving up the strong pointer: prove the current content fits
			// the referent type, then hold the location to it
			content, err := env.LookupPath(ty1.Path)
			if err != nil {
				return err
			}
			if err := gen.Sub(rcx, env, content, ty2.Ty, tag, span); err != nil {
				return err
			}
			if err := env.writeAtPathForced(ty1.Path, ty2.Ty); err != nil {
				return err
			}
			env.Block(ty1.Path.Loc)
			gen.blockedInCall = append(gen.blockedInCall, ty1.Path.Loc)
			return nil
		}
	case rty.Tuple:
		ty2, ok := ty2.(rty.Tuple)
		if !ok {
			break
		}
		if len(ty1.Elems) != len(ty2.Elems) {
			return errors.Errorf("tuple arity mismatch: %s vs %s", ty1, ty2)
		}
		for i := range ty1.Elems {
			if err := gen.Sub(rcx, env, ty1.Elems[i], ty2.Elems[i], tag, span); err != nil {
				return err
			}
		}
		return nil
	case rty.Array:
		ty2, ok := ty2.(rty.Array)
		if !ok {
			break
		}
		if ty1.Len != ty2.Len {
			return errors.Errorf("array length mismatch: %s vs %s", ty1, ty2)
		}
		return gen.Sub(rcx, env, ty1.Elem, ty2.Elem, tag, span)
	case rty.Param:
		ty2, ok := ty2.(rty.Param)
		if !ok {
			break
		}
		if ty1.Index != ty2.Index {
			return errors.Errorf("distinct type parameters: %s vs %s", ty1, ty2)
		}
		return nil
	}
	logger.Debug("structural mismatch", "detail", spew.Sdump(ty1, ty2))
	return errors.Errorf("no subtyping between %s and %s", ty1, ty2)
}

func (gen *ConstraintGen) subIndices(rcx *RefineCtx, idx1, idx2 []rty.Index, tag fixpoint.Tag, span ir.Span) error {
	if len(idx1) != len(idx2) {
		return errors.Errorf("index arity mismatch: %d vs %d", len(idx1), len(idx2))
	}
	for i := range idx1 {
		switch i1 := idx1[i].(type) {
		case rty.IdxExpr:
			i2, ok := idx2[i].(rty.IdxExpr)
			if !ok {
				return errors.Errorf("index sort mismatch at %d: %s vs %s", i, idx1[i], idx2[i])
			}
			gen.subIdxExpr(rcx, i1.Expr, i2.Expr, tag, span)
		case rty.IdxAbs:
			i2, ok := idx2[i].(rty.IdxAbs)
			if !ok {
				return errors.Errorf("index sort mismatch at %d: %s vs %s", i, idx1[i], idx2[i])
			}
			// predicate-position indices are invariant: each must entail
			// the other at every instantiation
			gen.subBinder(rcx, i1.Binder, i2.Binder, tag, span)
			gen.subBinder(rcx, i2.Binder, i1.Binder, tag, span)
		}
	}
	return nil
}

func (gen *ConstraintGen) subIdxExpr(rcx *RefineCtx, e1, e2 rty.Expr, tag fixpoint.Tag, span ir.Span) {
	if ev, ok := e2.(rty.EVar); ok && gen.UnifyEVar(ev, e1) {
		return
	}
	if ev, ok := e1.(rty.EVar); ok && gen.UnifyEVar(ev, e2) {
		return
	}
	if rty.ExprEq(e1, e2) {
		return
	}
	rcx.Check(rty.ExprPred{Expr: rty.EqOf(e1, e2)}, tag, span)
}

func (gen *ConstraintGen) subBinder(rcx *RefineCtx, b1, b2 rty.PredBinder, tag fixpoint.Tag, span ir.Span) {
	crumb := rcx.Breadcrumb()
	names := crumb.PushBindings(b1.Params)
	vars := make([]rty.Expr, len(names))
	for i, n := range names {
		vars[i] = rty.Var{Name: n}
	}
	crumb.Assume(rty.SubstBound(b1, vars...))
	crumb.Check(rty.SubstBound(b2, vars...), tag, span)
	crumb.Promote()
}

func (gen *ConstraintGen) subBase(rcx *RefineCtx, env *TypeEnv, b1, b2 rty.BaseType, tag fixpoint.Tag, span ir.Span) error {
	if b1.Hash() == b2.Hash() {
		return nil
	}
	switch b1 := b1.(type) {
	case rty.SliceTy:
		if b2, ok := b2.(rty.SliceTy); ok {
			// slices are mutable containers, so elements are invariant
			if err := gen.Sub(rcx, env, b1.Elem, b2.Elem, tag, span); err != nil {
				return err
			}
			return gen.Sub(rcx, env, b2.Elem, b1.Elem, tag, span)
		}
	case rty.AdtTy:
		if b2, ok := b2.(rty.AdtTy); ok && b1.Def.Name == b2.Def.Name {
			if len(b1.Args) != len(b2.Args) {
				return errors.Errorf("generic arity mismatch on %s", b1.Def.Name)
			}
			for i := range b1.Args {
				variance := rty.Covariant
				if i < len(b1.Def.Variances) {
					variance = b1.Def.Variances[i]
				}
				switch variance {
				case rty.Covariant:
					if err := gen.Sub(rcx, env, b1.Args[i], b2.Args[i], tag, span); err != nil {
						return err
					}
				case rty.Contravariant:
					if err := gen.Sub(rcx, env, b2.Args[i], b1.Args[i], tag, span); err != nil {
						return err
					}
				case rty.Invariant:
					if err := gen.Sub(rcx, env, b1.Args[i], b2.Args[i], tag, span); err != nil {
						return err
					}
					if err := gen.Sub(rcx, env, b2.Args[i], b1.Args[i], tag, span); err != nil {
						return err
					}
				case rty.Bivariant:
				}
			}
			return nil
		}
	}
	return errors.Errorf("base type mismatch: %s is not a subtype of %s", b1, b2)
}
