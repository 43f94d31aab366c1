package check

import (
	"github.com/pkg/errors"

	"github.com/cottand/atoll/ir"
)

// phase is what distinguishes the two passes over a body: how a join block
// is entered, and what an edge arriving at one must do.
type phase interface {
	name() string
	enterBlock(ck *Checker, rcx *RefineCtx, bb ir.BlockID) (*TypeEnv, error)
	arriveAtJoin(ck *Checker, rcx *RefineCtx, env *TypeEnv, from ir.Span, target ir.BlockID) (bool, error)
}

// inferencePhase widens a shape per join point until the CFG stabilizes. Its
// constraint tree is thrown away; only the shapes survive into the second
// pass.
type inferencePhase struct {
	shapes map[ir.BlockID]*Shape
}

func newInferencePhase() *inferencePhase {
	return &inferencePhase{shapes: map[ir.BlockID]*Shape{}}
}

func (p *inferencePhase) name() string { return "infer" }

func (p *inferencePhase) enterBlock(ck *Checker, rcx *RefineCtx, bb ir.BlockID) (*TypeEnv, error) {
	shape, ok := p.shapes[bb]
	if !ok {
		return nil, errors.Errorf("no shape recorded for bb%d", bb)
	}
	// re-entry starts the subtree over; the inference tree is never exported
	rcx.Clear()
	env := shape.Enter()
	// open the holes so statement checking sees indexed types
	if _, err := env.UnpackAll(rcx, false); err != nil {
		return nil, err
	}
	return env, nil
}

func (p *inferencePhase) arriveAtJoin(ck *Checker, rcx *RefineCtx, env *TypeEnv, from ir.Span, target ir.BlockID) (bool, error) {
	shape, ok := p.shapes[target]
	if !ok {
		s := env.IntoShape()
		p.shapes[target] = &s
		return true, nil
	}
	return shape.Join(env)
}

// checkingPhase re-walks the CFG against the inferred shapes, naming every
// hole and proving each edge into a join fits the block's invariant.
type checkingPhase struct {
	shapes map[ir.BlockID]*Shape
	bbEnvs map[ir.BlockID]*BlockEnv
}

func newCheckingPhase(shapes map[ir.BlockID]*Shape) *checkingPhase {
	return &checkingPhase{shapes: shapes, bbEnvs: map[ir.BlockID]*BlockEnv{}}
}

func (p *checkingPhase) name() string { return "check" }

func (p *checkingPhase) enterBlock(ck *Checker, rcx *RefineCtx, bb ir.BlockID) (*TypeEnv, error) {
	be, ok := p.bbEnvs[bb]
	if !ok {
		return nil, errors.Errorf("no block environment for bb%d", bb)
	}
	return be.Enter(rcx), nil
}

func (p *checkingPhase) arriveAtJoin(ck *Checker, rcx *RefineCtx, env *TypeEnv, from ir.Span, target ir.BlockID) (bool, error) {
	be, ok := p.bbEnvs[target]
	first := false
	if !ok {
		shape, ok := p.shapes[target]
		if !ok {
			return false, errors.Errorf("no inferred shape for bb%d", target)
		}
		scope, err := ck.dominatorScope(target)
		if err != nil {
			return false, err
		}
		be, err = shape.IntoBlockEnv(ck.tree.fresher, ck.kvars, scope)
		if err != nil {
			return false, err
		}
		p.bbEnvs[target] = be
		first = true
	}
	if err := ck.gen.CheckGoto(rcx, env, be, from, target); err != nil {
		return false, err
	}
	return first, nil
}
