package check

import (
	"github.com/cottand/atoll/rty"
	"github.com/cottand/atoll/util"
)

// ConstraintGen drives subtyping and call checking for one procedure,
// threading the unification state those operations share.
type ConstraintGen struct {
	genv  *GlobalEnv
	tree  *ConstraintTree
	kvars *KVarGen
	evars *rty.EVarGen

	frames util.Stack[*evarFrame]

	// locations blocked while checking the current call, to unblock once
	// its ensures clauses have been applied
	blockedInCall []rty.Loc
}

// evarFrame is one open inference context. Solutions may only mention
// variables that were in scope when the context opened; the subtree rooted
// at the opening position is rewritten with the solution on pop.
type evarFrame struct {
	ctx   rty.EVarCtxID
	scope Scope
	at    *node
	order []rty.EVar
	sol   map[rty.EVar]rty.Expr
}

func NewConstraintGen(genv *GlobalEnv, tree *ConstraintTree, kvars *KVarGen) *ConstraintGen {
	return &ConstraintGen{
		genv:  genv,
		tree:  tree,
		kvars: kvars,
		evars: rty.NewEVarGen(),
	}
}

// PushEVarCtx opens an inference context at the cursor's position.
func (gen *ConstraintGen) PushEVarCtx(rcx *RefineCtx) rty.EVarCtxID {
	frame := &evarFrame{
		ctx:   gen.evars.NewCtx(),
		scope: rcx.Scope(),
		at:    rcx.ptr,
		sol:   map[rty.EVar]rty.Expr{},
	}
	gen.frames.Push(frame)
	return frame.ctx
}

// FreshEVar mints a variable in the innermost open context.
func (gen *ConstraintGen) FreshEVar() rty.EVar {
	frame, ok := gen.frames.Peek()
	if !ok {
		panic("FreshEVar outside any inference context")
	}
	ev := gen.evars.Fresh(frame.ctx)
	frame.order = append(frame.order, ev)
	return ev
}

// UnifyEVar proposes a solution. It reports false when the variable's
// context is closed, the candidate escapes the context's scope, mentions a
// still-open variable, or conflicts with an earlier solution; the caller
// then falls back to an equality obligation.
func (gen *ConstraintGen) UnifyEVar(ev rty.EVar, e rty.Expr) bool {
	frame := gen.frameOf(ev.Ctx)
	if frame == nil {
		return false
	}
	if prev, ok := frame.sol[ev]; ok {
		return rty.ExprEq(prev, e)
	}
	if !frame.scope.ContainsAll(rty.FreeVarsOfExpr(e)) {
		return false
	}
	for _, other := range rty.FreeEVarsOfExpr(e) {
		if gen.frameOf(other.Ctx) != nil {
			return false
		}
	}
	frame.sol[ev] = e
	return true
}

func (gen *ConstraintGen) frameOf(ctx rty.EVarCtxID) *evarFrame {
	for _, frame := range gen.frames.All() {
		if frame.ctx == ctx {
			return frame
		}
	}
	return nil
}

// PopEVarCtx closes the innermost context, rewrites everything recorded
// under its opening position with the solution, and returns it along with
// the variables left unsolved.
func (gen *ConstraintGen) PopEVarCtx() (rty.EVarSol, []rty.EVar) {
	frame, ok := gen.frames.Pop()
	if !ok {
		panic("PopEVarCtx without a matching push")
	}
	var unsolved []rty.EVar
	for _, ev := range frame.order {
		if _, ok := frame.sol[ev]; !ok {
			unsolved = append(unsolved, ev)
		}
	}
	sol := rty.NewEVarSol(frame.sol)
	applyEVarSol(frame.at, sol)
	return sol, unsolved
}
