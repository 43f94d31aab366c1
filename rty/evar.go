package rty

import "fmt"

// EVarCtxID identifies one inference context: the span of a single
// instantiation (a call site, or one indexed-vs-existential subtyping step).
// Every existential variable belongs to exactly one context and is solved, or
// reported unsolved, when that context is popped.
type EVarCtxID uint32

// EVar stands for a concrete expression to be determined by unification while
// checking, unlike a KVar which is deferred to the external solver.
type EVar struct {
	Ctx EVarCtxID
	ID  uint32
}

func (ev EVar) String() string { return fmt.Sprintf("?%d.%d", uint32(ev.Ctx), ev.ID) }
func (ev EVar) Hash() uint64 {
	return newHash(tagEVar).with(uint64(ev.Ctx)).with(uint64(ev.ID)).sum()
}
func (EVar) exprNode() {}

var _ Expr = EVar{}

// EVarGen allocates inference contexts and the variables inside them.
// A generator is owned by one checking session; ids are deterministic in
// allocation order.
type EVarGen struct {
	ctxCount uint32
	counts   map[EVarCtxID]uint32
}

func NewEVarGen() *EVarGen {
	return &EVarGen{counts: map[EVarCtxID]uint32{}}
}

func (g *EVarGen) NewCtx() EVarCtxID {
	id := EVarCtxID(g.ctxCount)
	g.ctxCount++
	return id
}

func (g *EVarGen) Fresh(ctx EVarCtxID) EVar {
	ev := EVar{Ctx: ctx, ID: g.counts[ctx]}
	g.counts[ctx]++
	return ev
}

// EVarSol is the solution of one popped inference context.
type EVarSol struct {
	sol map[EVar]Expr
}

func NewEVarSol(sol map[EVar]Expr) EVarSol {
	return EVarSol{sol: sol}
}

func (s EVarSol) Get(ev EVar) (Expr, bool) {
	e, ok := s.sol[ev]
	return e, ok
}

func (s EVarSol) IsEmpty() bool { return len(s.sol) == 0 }
