package check

import (
	"github.com/pkg/errors"

	"github.com/cottand/atoll/atollerr"
	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

// Shape is a refinement-erased environment: every index is forgotten behind
// a hole existential. The inference pass stores one per join point and
// widens it until the CFG reaches a fixpoint.
type Shape struct {
	env *TypeEnv
}

// IntoShape widens every binding of env to its hole form.
func (env *TypeEnv) IntoShape() Shape {
	next := NewTypeEnv()
	for loc, b := range env.All() {
		next.bindings = next.bindings.Set(loc, Binding{Ty: rty.WithHoles(b.Ty), Blocked: b.Blocked})
	}
	return Shape{env: next}
}

// Enter hands the inference pass a working copy of the shape.
func (s Shape) Enter() *TypeEnv {
	return s.env.Clone()
}

// Join widens the shape with an arriving environment and reports change.
func (s Shape) Join(env *TypeEnv) (bool, error) {
	arriving := env.IntoShape()
	return s.env.Join(arriving.env)
}

// BlockEnv is the closed invariant of one join point during the checking
// pass. Each hole of the underlying shape became a named index parameter
// guarded by a fresh unknown predicate; every jump to the block must prove
// its environment fits some instantiation of the parameters.
type BlockEnv struct {
	params []blockParam
	guards []rty.Pred
	env    *TypeEnv
}

type blockParam struct {
	name rty.Name
	sort rty.Sort
}

// IntoBlockEnv names every hole of the shape and guards it with a fresh
// unknown predicate over the scope visible at the block's immediate
// dominator.
func (s Shape) IntoBlockEnv(fresher *rty.Fresher, kvars *KVarGen, scope Scope) (*BlockEnv, error) {
	be := &BlockEnv{env: NewTypeEnv()}
	g := &generalizer{be: be, fresher: fresher, kvars: kvars, scope: scope}
	for loc, b := range s.env.All() {
		ty, err := g.generalize(b.Ty)
		if err != nil {
			return nil, errors.Wrapf(err, "generalizing %s", loc)
		}
		be.env.bindings = be.env.bindings.Set(loc, Binding{Ty: ty, Blocked: b.Blocked})
	}
	return be, nil
}

type generalizer struct {
	be      *BlockEnv
	fresher *rty.Fresher
	kvars   *KVarGen
	scope   Scope
}

func (g *generalizer) generalize(ty rty.Type) (rty.Type, error) {
	switch ty := ty.(type) {
	case rty.Exists:
		base, err := g.generalizeBase(ty.Base)
		if err != nil {
			return nil, err
		}
		sorts := ty.Binder.Params
		names := g.fresher.FreshN(len(sorts))
		vars := make([]rty.Expr, len(names))
		for i, n := range names {
			vars[i] = rty.Var{Name: n}
			g.be.params = append(g.be.params, blockParam{name: n, sort: sorts[i]})
		}
		kv := g.kvars.Fresh(sorts, g.scope)
		g.be.guards = append(g.be.guards, rty.SubstBound(rty.BindPred(sorts, kv), vars...))
		return rty.Indexed{Base: base, Indices: rty.IdxsOf(vars...)}, nil
	case rty.Indexed:
		base, err := g.generalizeBase(ty.Base)
		if err != nil {
			return nil, err
		}
		return rty.Indexed{Base: base, Indices: ty.Indices}, nil
	case rty.Ref:
		inner, err := g.generalize(ty.Ty)
		if err != nil {
			return nil, err
		}
		return rty.Ref{Kind: ty.Kind, Ty: inner}, nil
	case rty.Tuple:
		elems := make([]rty.Type, len(ty.Elems))
		for i, elem := range ty.Elems {
			gen, err := g.generalize(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = gen
		}
		return rty.Tuple{Elems: elems}, nil
	case rty.Array:
		elem, err := g.generalize(ty.Elem)
		if err != nil {
			return nil, err
		}
		return rty.Array{Elem: elem, Len: ty.Len}, nil
	case rty.Ptr, rty.Uninit, rty.Param:
		return ty, nil
	default:
		return nil, errors.Errorf("cannot generalize %s", ty)
	}
}

func (g *generalizer) generalizeBase(base rty.BaseType) (rty.BaseType, error) {
	switch base := base.(type) {
	case rty.SliceTy:
		elem, err := g.generalize(base.Elem)
		if err != nil {
			return nil, err
		}
		return rty.SliceTy{Elem: elem}, nil
	case rty.AdtTy:
		args := make([]rty.Type, len(base.Args))
		for i, arg := range base.Args {
			gen, err := g.generalize(arg)
			if err != nil {
				return nil, err
			}
			args[i] = gen
		}
		return rty.AdtTy{Def: base.Def, Args: args}, nil
	default:
		return base, nil
	}
}

// Enter opens the block environment for checking its body: parameters become
// context bindings, guards become assumptions.
func (be *BlockEnv) Enter(rcx *RefineCtx) *TypeEnv {
	sub := rty.NewSubst()
	for _, p := range be.params {
		fresh := rcx.PushBinding(p.sort)
		sub.BindExpr(p.name, rty.Var{Name: fresh})
	}
	for _, guard := range be.guards {
		rcx.Assume(rty.SubstFreePred(guard, sub))
	}
	env := NewTypeEnv()
	for loc, b := range be.env.All() {
		env.bindings = env.bindings.Set(loc, Binding{Ty: rty.SubstFreeType(b.Ty, sub), Blocked: b.Blocked})
	}
	return env
}

// instantiate replaces every parameter with a fresh existential variable in
// an open unification context, yielding the guards to discharge and the
// environment an arrival must subsume.
func (be *BlockEnv) instantiate(gen *ConstraintGen) (*TypeEnv, []rty.Pred) {
	sub := rty.NewSubst()
	for _, p := range be.params {
		sub.BindExpr(p.name, gen.FreshEVar())
	}
	guards := make([]rty.Pred, len(be.guards))
	for i, guard := range be.guards {
		guards[i] = rty.SubstFreePred(guard, sub)
	}
	env := NewTypeEnv()
	for loc, b := range be.env.All() {
		env.bindings = env.bindings.Set(loc, Binding{Ty: rty.SubstFreeType(b.Ty, sub), Blocked: b.Blocked})
	}
	return env, guards
}

// CheckGoto proves that an environment arriving over a CFG edge fits the
// target block's invariant for some choice of its index parameters. The
// choice is found by unification; a parameter no index pins down is an
// inference failure.
func (gen *ConstraintGen) CheckGoto(rcx *RefineCtx, env *TypeEnv, be *BlockEnv, span ir.Span, target ir.BlockID) error {
	gen.blockedInCall = nil
	crumb := rcx.Breadcrumb()
	gen.PushEVarCtx(&crumb)
	want, guards := be.instantiate(gen)
	tag := fixpoint.TagGoto{Target: int(target)}
	for _, guard := range guards {
		crumb.Check(guard, tag, span)
	}
	for loc, wb := range want.All() {
		hb, ok := env.Get(loc)
		if !ok {
			if isUninit(wb.Ty) {
				continue
			}
			return errors.Errorf("location %s missing on edge to bb%d", loc, target)
		}
		if err := gen.Sub(&crumb, env, hb.Ty, wb.Ty, tag, span); err != nil {
			return err
		}
	}
	_, unsolved := gen.PopEVarCtx()
	if len(unsolved) > 0 {
		return atollerr.New(atollerr.NewInference{Spanned: span, Unsolved: unsolved})
	}
	crumb.Promote()
	return nil
}
