package check

import (
	"github.com/pkg/errors"

	"github.com/cottand/atoll/atollerr"
	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

// CheckFnCall checks one call site against a polymorphic signature and
// returns the instantiated return type. Refinement parameters are solved by
// unification or handed to the solver as fresh unknowns according to their
// declared mode; type-level holes in the generic arguments become fresh
// unknowns over the caller's scope.
func (gen *ConstraintGen) CheckFnCall(rcx *RefineCtx, env *TypeEnv, sig rty.PolySig, genericArgs []rty.Type, actuals []rty.Type, tag fixpoint.Tag, span ir.Span) (rty.Type, error) {
	if len(actuals) != len(sig.Sig.Args) {
		return nil, errors.Errorf("call arity mismatch: %d actuals for %d formals", len(actuals), len(sig.Sig.Args))
	}
	scope := rcx.Scope()
	gen.blockedInCall = nil

	generics := make([]rty.Type, len(genericArgs))
	for i, arg := range genericArgs {
		generics[i] = rty.ReplaceHoles(arg, func(params []rty.Sort) rty.Pred {
			return gen.kvars.Fresh(params, scope)
		})
	}

	gen.PushEVarCtx(rcx)

	sub := rty.NewSubst()
	kfold := kparamFolder{insts: map[rty.Name]rty.KVar{}}
	for _, p := range sig.Params {
		if _, ok := p.Sort.(rty.LocSort); ok {
			// pinned below by the strong pointer passed for it
			continue
		}
		switch p.Mode {
		case rty.ByEVar:
			sub.BindExpr(p.Name, gen.FreshEVar())
		case rty.ByKVar:
			if fs, ok := p.Sort.(rty.FuncSort); ok {
				kfold.insts[p.Name] = gen.kvars.Fresh(fs.In, scope)
				continue
			}
			// a ground-sorted unknown becomes a context binding whose only
			// constraint is a fresh unknown predicate
			name := rcx.PushBinding(p.Sort)
			v := rty.Var{Name: name}
			sub.BindExpr(p.Name, v)
			kv := gen.kvars.Fresh([]rty.Sort{p.Sort}, scope)
			rcx.Assume(rty.SubstBound(rty.BindPred([]rty.Sort{p.Sort}, kv), v))
		}
	}

	// loc-sorted params are pinned by the strong pointers passed for them
	for i, formal := range sig.Sig.Args {
		ptr, ok := formal.(rty.Ptr)
		if !ok || ptr.Path.Loc.Kind != rty.FreeKind {
			continue
		}
		actual, ok := actuals[i].(rty.Ptr)
		if !ok {
			return nil, errors.Errorf("formal %d expects a strong pointer, got %s", i, actuals[i])
		}
		sub.BindPath(ptr.Path.Loc.Name, actual.Path)
	}

	inst := instantiator{sub: sub, kfold: kfold, generics: generics}

	for _, req := range sig.Sig.Requires {
		switch req := inst.constraint(req).(type) {
		case rty.PredConstraint:
			rcx.Check(req.Pred, tag, span)
		case rty.TypeConstraint:
			have, err := env.LookupPath(req.Path)
			if err != nil {
				return nil, err
			}
			if err := gen.Sub(rcx, env, have, req.Ty, tag, span); err != nil {
				return nil, err
			}
		}
	}

	for i, formal := range sig.Sig.Args {
		if err := gen.Sub(rcx, env, actuals[i], inst.typ(formal), tag, span); err != nil {
			return nil, err
		}
	}

	sol, unsolved := gen.PopEVarCtx()
	if len(unsolved) > 0 {
		return nil, atollerr.New(atollerr.NewInference{Spanned: span, Unsolved: unsolved})
	}
	env.SubstEVars(sol)

	ret := rty.SubstEVarsType(inst.typ(sig.Sig.Ret), sol)

	// ensures clauses take effect on return: heap entries are strongly
	// updated and borrows taken for the call are released
	for _, ens := range sig.Sig.Ensures {
		switch ens := inst.constraint(ens).(type) {
		case rty.PredConstraint:
			rcx.Assume(rty.SubstEVarsPred(ens.Pred, sol))
		case rty.TypeConstraint:
			env.Unblock(ens.Path.Loc)
			if err := env.WriteAtPath(ens.Path, rty.SubstEVarsType(ens.Ty, sol)); err != nil {
				return nil, err
			}
		}
	}
	for _, loc := range gen.blockedInCall {
		env.Unblock(loc)
	}
	gen.blockedInCall = nil

	return ret, nil
}

// CheckConstructor checks an aggregate build against the declaration's first
// variant signature. Construction is a pure call: no heap side conditions.
func (gen *ConstraintGen) CheckConstructor(rcx *RefineCtx, env *TypeEnv, adt *rty.AdtDef, genericArgs []rty.Type, actuals []rty.Type, span ir.Span) (rty.Type, error) {
	if len(adt.Variants) == 0 {
		return nil, errors.Errorf("%s has no constructible variant", adt.Name)
	}
	return gen.CheckFnCall(rcx, env, adt.Variants[0], genericArgs, actuals, fixpoint.TagFold{}, span)
}

// instantiator rewrites declared signature terms into call-site terms: the
// refinement-parameter substitution, then unknown-predicate instantiation
// for predicate-sorted parameters, then generic argument replacement.
type instantiator struct {
	sub      *rty.Subst
	kfold    kparamFolder
	generics []rty.Type
}

func (in instantiator) typ(t rty.Type) rty.Type {
	t = rty.SubstFreeType(t, in.sub)
	t = in.kfold.FoldType(t)
	if len(in.generics) > 0 {
		t = rty.ReplaceGenerics(t, in.generics)
	}
	return t
}

func (in instantiator) pred(p rty.Pred) rty.Pred {
	return in.kfold.FoldPred(rty.SubstFreePred(p, in.sub))
}

func (in instantiator) constraint(c rty.Constraint) rty.Constraint {
	switch c := c.(type) {
	case rty.PredConstraint:
		return rty.PredConstraint{Pred: in.pred(c.Pred)}
	case rty.TypeConstraint:
		return rty.TypeConstraint{Path: in.sub.ApplyToPath(c.Path), Ty: in.typ(c.Ty)}
	}
	panic(errors.Errorf("unhandled constraint %T", c))
}

// kparamFolder replaces applications of predicate-sorted refinement
// parameters with their unknown-predicate instantiation.
type kparamFolder struct {
	insts map[rty.Name]rty.KVar
}

func (f kparamFolder) FoldType(t rty.Type) rty.Type { return rty.SuperFoldType(f, t) }
func (f kparamFolder) FoldExpr(e rty.Expr) rty.Expr { return rty.SuperFoldExpr(f, e) }

func (f kparamFolder) FoldBinder(b rty.PredBinder) rty.PredBinder {
	return rty.SuperFoldBinder(f, b)
}

func (f kparamFolder) FoldPred(p rty.Pred) rty.Pred {
	if ep, ok := p.(rty.ExprPred); ok {
		if app, ok := ep.Expr.(rty.AppExpr); ok {
			if v, ok := app.Func.(rty.Var); ok {
				if kv, ok := f.insts[v.Name]; ok {
					args := make([]rty.Expr, len(app.Args))
					for i, a := range app.Args {
						args[i] = f.FoldExpr(a)
					}
					return rty.KVar{ID: kv.ID, Args: args, Scope: kv.Scope}
				}
			}
		}
	}
	return rty.SuperFoldPred(f, p)
}
