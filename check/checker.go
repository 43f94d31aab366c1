package check

import (
	"math"

	"github.com/hashicorp/go-set/v3"
	"github.com/pkg/errors"

	"github.com/cottand/atoll/atollerr"
	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
	"github.com/cottand/atoll/util"
)

// Opts configure one checking session.
type Opts struct {
	// CheckOverflow emits range obligations for every signed arithmetic
	// result instead of treating integers as unbounded.
	CheckOverflow bool
}

// Result is the outcome for one procedure: the residual constraint destined
// for the external solver, plus every error the traversal itself found.
type Result struct {
	Def    rty.DefID
	Query  fixpoint.Query
	Errors *atollerr.Errors
}

// Run checks one procedure body against its declared signature. The body is
// traversed twice: an inference pass that discovers the shape of every join
// point, then a checking pass that names the shapes' unknowns and emits the
// real obligations. Only the second tree is exported.
func Run(genv *GlobalEnv, def rty.DefID, body *ir.Body, opts Opts) (Result, error) {
	sig, ok := genv.FnSig(def)
	if !ok {
		return Result{}, errors.Errorf("no signature registered for %s", def)
	}
	logger.Debug("checking procedure", "fn", string(def), "blocks", len(body.Blocks))
	res := Result{Def: def}

	infer := newInferencePhase()
	if _, recovered, err := runPass(genv, def, body, sig, opts, infer); err != nil {
		return Result{}, errors.Wrapf(err, "inferring %s", def)
	} else if recovered != nil {
		res.Errors = res.Errors.With(recovered)
		return res, nil
	}

	ck, recovered, err := runPass(genv, def, body, sig, opts, newCheckingPhase(infer.shapes))
	if err != nil {
		return Result{}, errors.Wrapf(err, "checking %s", def)
	}
	if recovered != nil {
		res.Errors = res.Errors.With(recovered)
		return res, nil
	}

	con, err := ck.tree.Export()
	if err != nil {
		return Result{}, errors.Wrapf(err, "exporting constraint for %s", def)
	}
	res.Query = fixpoint.Query{KVars: ck.kvars.Decls(), Constraint: con}

	// obligations the local simplifier can neither discharge nor defer to
	// the solver are reported right away
	for _, ob := range fixpoint.Residue(res.Query.Constraint) {
		if ob.Deferred {
			continue
		}
		res.Errors = res.Errors.With(atollerr.New(atollerr.NewVerification{
			Spanned: ob.Span,
			Pred:    ob.Pred,
			Tag:     ob.Tag,
		}))
	}
	return res, nil
}

// runPass traverses the body once under the given phase. Errors that condemn
// only this procedure (unsolved inference, use of uninitialized values) come
// back as recovered; anything else aborts the caller.
func runPass(genv *GlobalEnv, def rty.DefID, body *ir.Body, sig rty.PolySig, opts Opts, ph phase) (*Checker, atollerr.AtollError, error) {
	tree := NewConstraintTree(&rty.Fresher{})
	kvars := NewKVarGen()
	ck := &Checker{
		genv:      genv,
		def:       def,
		body:      body,
		opts:      opts,
		domTree:   ir.NewDomTree(body),
		phase:     ph,
		tree:      tree,
		kvars:     kvars,
		gen:       NewConstraintGen(genv, tree, kvars),
		queued:    set.New[ir.BlockID](4),
		snapshots: map[ir.BlockID]Snapshot{},
	}
	if err := ck.run(sig); err != nil {
		var aerr atollerr.AtollError
		if errors.As(err, &aerr) {
			switch aerr.Code() {
			case atollerr.Inference, atollerr.UninitUse:
				logger.Debug("pass gave up on procedure",
					"fn", string(def), "phase", ph.name(), "err", aerr.Error())
				return ck, aerr, nil
			}
		}
		return ck, nil, err
	}
	return ck, nil, nil
}

// Checker walks one body under one phase. Non-join successors are followed
// depth-first so branch conditions stay in the context; join blocks are
// queued and re-entered from the context snapshot of their immediate
// dominator.
type Checker struct {
	genv    *GlobalEnv
	def     rty.DefID
	body    *ir.Body
	opts    Opts
	domTree *ir.DomTree
	phase   phase

	tree  *ConstraintTree
	kvars *KVarGen
	gen   *ConstraintGen

	queue     []ir.BlockID
	queued    *set.Set[ir.BlockID]
	snapshots map[ir.BlockID]Snapshot

	retTy     rty.Type
	ensures   []rty.Constraint
	foldbacks []util.Pair[rty.Path, rty.Type]
}

func (ck *Checker) run(sig rty.PolySig) error {
	rcx := ck.tree.Root()
	env := NewTypeEnv()
	if err := ck.bindSignature(&rcx, env, sig); err != nil {
		return err
	}
	if err := ck.checkBlock(rcx, env, ck.body.Entry()); err != nil {
		return err
	}
	for len(ck.queue) > 0 {
		bb := ck.queue[0]
		ck.queue = ck.queue[1:]
		ck.queued.Remove(bb)
		snap, err := ck.dominatorSnapshot(bb)
		if err != nil {
			return err
		}
		brcx := ck.tree.At(snap)
		benv, err := ck.phase.enterBlock(ck, &brcx, bb)
		if err != nil {
			return err
		}
		if err := ck.checkBlock(brcx, benv, bb); err != nil {
			return err
		}
	}
	return nil
}

// bindSignature opens the declared signature at the procedure entry:
// refinement parameters become context bindings, requires clauses become
// assumptions and heap entries, and argument locals take their declared
// types. Mutable-reference arguments unfold into strong pointers; the
// returned types must be proven again at every return.
func (ck *Checker) bindSignature(rcx *RefineCtx, env *TypeEnv, sig rty.PolySig) error {
	sub := rty.NewSubst()
	for _, p := range sig.Params {
		if _, ok := p.Sort.(rty.LocSort); ok {
			sub.BindPath(p.Name, rty.PathTo(rty.LocFree(rcx.FreshName())))
			continue
		}
		name := rcx.PushBinding(p.Sort)
		sub.BindExpr(p.Name, rty.Var{Name: name})
	}
	for _, req := range sig.Sig.Requires {
		switch req := rty.SubstFreeConstraint(req, sub).(type) {
		case rty.PredConstraint:
			rcx.Assume(req.Pred)
		case rty.TypeConstraint:
			if len(req.Path.Fields) > 0 {
				return errors.Errorf("requires clause at projected path %s", req.Path)
			}
			env.Define(req.Path.Loc, req.Ty)
		}
	}

	args := ck.body.Args()
	if len(args) != len(sig.Sig.Args) {
		return errors.Errorf("body has %d args, signature has %d", len(args), len(sig.Sig.Args))
	}
	for i, argTy := range sig.Sig.Args {
		env.Define(rty.LocLocal(int(args[i])), rty.SubstFreeType(argTy, sub))
	}
	env.Define(rty.LocLocal(int(ir.ReturnLocal)), rty.Uninit{})
	for _, l := range ck.body.VarLocals() {
		env.Define(rty.LocLocal(int(l)), rty.Uninit{})
	}

	foldbacks, err := env.UnpackAll(rcx, true)
	if err != nil {
		return err
	}
	ck.foldbacks = foldbacks
	ck.retTy = rty.SubstFreeType(sig.Sig.Ret, sub)
	ck.ensures = make([]rty.Constraint, len(sig.Sig.Ensures))
	for i, ens := range sig.Sig.Ensures {
		ck.ensures[i] = rty.SubstFreeConstraint(ens, sub)
	}
	return nil
}

func (ck *Checker) checkBlock(rcx RefineCtx, env *TypeEnv, bb ir.BlockID) error {
	ck.snapshots[bb] = rcx.Snapshot()
	logger.Debug("block", "fn", string(ck.def), "phase", ck.phase.name(), "bb", int(bb))
	block := ck.body.Blocks[bb]
	for _, stmt := range block.Statements {
		if err := ck.checkStatement(&rcx, env, stmt); err != nil {
			return err
		}
	}
	return ck.checkTerminator(&rcx, env, block.Terminator)
}

func (ck *Checker) gotoTarget(rcx RefineCtx, env *TypeEnv, from ir.Span, target ir.BlockID) error {
	if ck.domTree.IsJoinPoint(target) {
		enter, err := ck.phase.arriveAtJoin(ck, &rcx, env, from, target)
		if err != nil {
			return err
		}
		if enter && !ck.queued.Contains(target) {
			ck.queued.Insert(target)
			ck.queue = append(ck.queue, target)
		}
		return nil
	}
	// a single predecessor: keep walking with the branch context intact
	return ck.checkBlock(rcx, env, target)
}

func (ck *Checker) dominatorSnapshot(bb ir.BlockID) (Snapshot, error) {
	idom := ck.domTree.ImmediateDominator(bb)
	if idom == ir.NoBlock {
		return Snapshot{}, errors.Errorf("join bb%d has no dominator", bb)
	}
	snap, ok := ck.snapshots[idom]
	if !ok {
		return Snapshot{}, errors.Errorf("bb%d queued before its dominator bb%d", bb, idom)
	}
	return snap, nil
}

func (ck *Checker) dominatorScope(bb ir.BlockID) (Scope, error) {
	snap, err := ck.dominatorSnapshot(bb)
	if err != nil {
		return Scope{}, err
	}
	return snap.Scope(), nil
}

func (ck *Checker) checkStatement(rcx *RefineCtx, env *TypeEnv, stmt ir.Statement) error {
	switch stmt := stmt.(type) {
	case *ir.Assign:
		ty, err := ck.checkRvalue(rcx, env, stmt.Rvalue, stmt.Pos())
		if err != nil {
			return err
		}
		return ck.assign(rcx, env, stmt.Place, ty, stmt.Pos())
	case *ir.Nop:
		return nil
	}
	return errors.Errorf("unhandled statement %T", stmt)
}

// assign writes strongly when the place resolves to a stable location, and
// weakly through mutable references otherwise: the written value must then
// fit the referent's declared type, which does not change.
func (ck *Checker) assign(rcx *RefineCtx, env *TypeEnv, place ir.Place, ty rty.Type, span ir.Span) error {
	path, err := env.resolvePlace(place)
	if err != nil {
		if !errors.Is(err, errRefDeref) {
			return err
		}
		target, lerr := env.Lookup(place)
		if lerr != nil {
			return wrapHeapErr(lerr, span)
		}
		return ck.gen.Sub(rcx, env, ty, target, fixpoint.TagAssign{}, span)
	}
	if err := env.WriteAtPath(path, ty); err != nil {
		return err
	}
	return env.Unpack(rcx, path.Loc)
}

func (ck *Checker) checkRvalue(rcx *RefineCtx, env *TypeEnv, rv ir.Rvalue, span ir.Span) (rty.Type, error) {
	switch rv := rv.(type) {
	case *ir.Use:
		return ck.checkOperand(rcx, env, rv.Operand, span)
	case *ir.BinaryOp:
		return ck.checkBinaryOp(rcx, env, rv, span)
	case *ir.UnaryOp:
		ty, err := ck.checkOperand(rcx, env, rv.Operand, span)
		if err != nil {
			return nil, err
		}
		base, e, ok := scalarIndex(ty)
		if !ok {
			return nil, errors.Errorf("unary %v on non-scalar %s", rv.Op, ty)
		}
		switch rv.Op {
		case ir.Not:
			return rty.IndexedOf(base, rty.NotOf(e)), nil
		case ir.Neg:
			return rty.IndexedOf(base, rty.UnaryExpr{Op: rty.Neg, Operand: e}), nil
		}
		return nil, errors.Errorf("unhandled unary op %v", rv.Op)
	case *ir.MutRef:
		path, _, err := env.Borrow(rty.Mut, rv.Place)
		if err != nil {
			return nil, wrapHeapErr(err, span)
		}
		return rty.Ptr{Kind: rty.Mut, Path: path}, nil
	case *ir.ShrRef:
		_, ty, err := env.Borrow(rty.Shr, rv.Place)
		if err != nil {
			return nil, wrapHeapErr(err, span)
		}
		return rty.Ref{Kind: rty.Shr, Ty: ty}, nil
	case *ir.Aggregate:
		adt, ok := ck.genv.Adt(rv.Adt)
		if !ok {
			return nil, errors.Errorf("no declaration registered for %s", rv.Adt)
		}
		actuals, err := ck.checkOperands(rcx, env, rv.Args, span)
		if err != nil {
			return nil, err
		}
		return ck.gen.CheckConstructor(rcx, env, adt, rv.GenericArgs, actuals, span)
	}
	return nil, errors.Errorf("unhandled rvalue %T", rv)
}

func (ck *Checker) checkBinaryOp(rcx *RefineCtx, env *TypeEnv, rv *ir.BinaryOp, span ir.Span) (rty.Type, error) {
	lhs, err := ck.checkOperand(rcx, env, rv.LHS, span)
	if err != nil {
		return nil, err
	}
	rhs, err := ck.checkOperand(rcx, env, rv.RHS, span)
	if err != nil {
		return nil, err
	}
	base, e1, ok := scalarIndex(lhs)
	if !ok {
		return nil, errors.Errorf("binary %v on non-scalar %s", rv.Op, lhs)
	}
	_, e2, ok := scalarIndex(rhs)
	if !ok {
		return nil, errors.Errorf("binary %v on non-scalar %s", rv.Op, rhs)
	}

	if op, ok := cmpOp(rv.Op); ok {
		return rty.IndexedOf(rty.BoolTy{}, rty.BinaryExpr{Op: op, LHS: e1, RHS: e2}), nil
	}
	switch rv.Op {
	case ir.Div:
		rcx.Check(rty.ExprPred{Expr: rty.NeOf(e2, rty.IntLit{Value: 0})}, fixpoint.TagDiv{}, span)
	case ir.Rem:
		rcx.Check(rty.ExprPred{Expr: rty.NeOf(e2, rty.IntLit{Value: 0})}, fixpoint.TagRem{}, span)
	}
	op, ok := arithOp(rv.Op)
	if !ok {
		return nil, errors.Errorf("unhandled binary op %v", rv.Op)
	}
	e := rty.BinaryExpr{Op: op, LHS: e1, RHS: e2}
	if ck.opts.CheckOverflow && isSignedInt(base) && isOverflowing(rv.Op) {
		inRange := rty.AndOf(
			rty.BinaryExpr{Op: rty.Ge, LHS: e, RHS: rty.IntLit{Value: math.MinInt64}},
			rty.BinaryExpr{Op: rty.Le, LHS: e, RHS: rty.IntLit{Value: math.MaxInt64}},
		)
		rcx.Check(rty.ExprPred{Expr: inRange}, fixpoint.TagOverflow{}, span)
	}
	return rty.IndexedOf(base, e), nil
}

func (ck *Checker) checkOperand(rcx *RefineCtx, env *TypeEnv, op ir.Operand, span ir.Span) (rty.Type, error) {
	switch op := op.(type) {
	case *ir.Copy:
		ty, err := env.Lookup(op.Place)
		return ty, wrapHeapErr(err, span)
	case *ir.Move:
		ty, err := env.MovePlace(op.Place)
		return ty, wrapHeapErr(err, span)
	case *ir.Const:
		return constantType(op.Constant), nil
	}
	return nil, errors.Errorf("unhandled operand %T", op)
}

func (ck *Checker) checkOperands(rcx *RefineCtx, env *TypeEnv, ops []ir.Operand, span ir.Span) ([]rty.Type, error) {
	tys := make([]rty.Type, len(ops))
	for i, op := range ops {
		ty, err := ck.checkOperand(rcx, env, op, span)
		if err != nil {
			return nil, err
		}
		tys[i] = ty
	}
	return tys, nil
}

func (ck *Checker) checkTerminator(rcx *RefineCtx, env *TypeEnv, term ir.Terminator) error {
	switch term := term.(type) {
	case *ir.Goto:
		return ck.gotoTarget(*rcx, env, term.Pos(), term.Target)
	case *ir.SwitchInt:
		return ck.checkSwitch(rcx, env, term)
	case *ir.Call:
		return ck.checkCall(rcx, env, term)
	case *ir.Assert:
		ty, err := ck.checkOperand(rcx, env, term.Cond, term.Pos())
		if err != nil {
			return err
		}
		_, cond, ok := scalarIndex(ty)
		if !ok {
			return errors.Errorf("assert on non-scalar %s", ty)
		}
		if !term.Expected {
			cond = rty.NotOf(cond)
		}
		rcx.Check(rty.ExprPred{Expr: cond}, fixpoint.TagAssert{Msg: term.Msg}, term.Pos())
		rcx.Assume(rty.ExprPred{Expr: cond})
		return ck.gotoTarget(*rcx, env, term.Pos(), term.Target)
	case *ir.Drop:
		if _, err := env.MovePlace(term.Place); err != nil {
			var uninit uninitReadError
			if !errors.As(err, &uninit) {
				return err
			}
			// dropping an already-moved value is a no-op
		}
		return ck.gotoTarget(*rcx, env, term.Pos(), term.Target)
	case *ir.Return:
		return ck.checkReturn(rcx, env, term.Pos())
	}
	return errors.Errorf("unhandled terminator %T", term)
}

func (ck *Checker) checkSwitch(rcx *RefineCtx, env *TypeEnv, term *ir.SwitchInt) error {
	ty, err := ck.checkOperand(rcx, env, term.Discr, term.Pos())
	if err != nil {
		return err
	}
	base, discr, ok := scalarIndex(ty)
	if !ok {
		return errors.Errorf("switch on non-scalar %s", ty)
	}
	_, isBool := base.(rty.BoolTy)

	caseCond := func(v int64) rty.Expr {
		if isBool {
			if v == 0 {
				return rty.NotOf(discr)
			}
			return discr
		}
		return rty.EqOf(discr, rty.IntLit{Value: v})
	}
	var negations []rty.Expr
	for _, c := range term.Cases {
		crumb := rcx.Breadcrumb()
		crumb.Assume(rty.ExprPred{Expr: caseCond(c.Value)})
		if err := ck.gotoTarget(crumb, env.Clone(), term.Pos(), c.Target); err != nil {
			return err
		}
		crumb.Promote()
		negations = append(negations, rty.NotOf(caseCond(c.Value)))
	}
	if term.Otherwise != ir.NoBlock {
		crumb := rcx.Breadcrumb()
		for _, n := range negations {
			crumb.Assume(rty.ExprPred{Expr: n})
		}
		if err := ck.gotoTarget(crumb, env.Clone(), term.Pos(), term.Otherwise); err != nil {
			return err
		}
		crumb.Promote()
	}
	return nil
}

func (ck *Checker) checkCall(rcx *RefineCtx, env *TypeEnv, term *ir.Call) error {
	sig, ok := ck.genv.FnSig(term.Func)
	if !ok {
		return errors.Errorf("no signature registered for %s", term.Func)
	}
	actuals, err := ck.checkOperands(rcx, env, term.Args, term.Pos())
	if err != nil {
		return err
	}
	ret, err := ck.gen.CheckFnCall(rcx, env, sig, term.GenericArgs, actuals, fixpoint.TagCall{}, term.Pos())
	if err != nil {
		return err
	}
	if err := ck.assign(rcx, env, term.Destination, ret, term.Pos()); err != nil {
		return err
	}
	if term.Target == ir.NoBlock {
		// the call never returns; this path ends here
		return nil
	}
	return ck.gotoTarget(*rcx, env, term.Pos(), term.Target)
}

func (ck *Checker) checkReturn(rcx *RefineCtx, env *TypeEnv, span ir.Span) error {
	ty, err := env.Lookup(ir.PlaceOf(ir.ReturnLocal))
	if err != nil {
		return wrapHeapErr(err, span)
	}
	if err := ck.gen.Sub(rcx, env, ty, ck.retTy, fixpoint.TagRet{}, span); err != nil {
		return err
	}
	// unfolded borrows fold back: each must satisfy its declared referent
	// type again
	for _, fb := range ck.foldbacks {
		content, err := env.LookupPath(fb.Fst)
		if err != nil {
			return err
		}
		if isUninit(content) {
			return atollerr.New(atollerr.NewUninitUse{Spanned: span, Place: fb.Fst.String()})
		}
		if err := ck.gen.Sub(rcx, env, content, fb.Snd, fixpoint.TagFold{}, span); err != nil {
			return err
		}
	}
	for _, ens := range ck.ensures {
		switch ens := ens.(type) {
		case rty.PredConstraint:
			rcx.Check(ens.Pred, fixpoint.TagRet{}, span)
		case rty.TypeConstraint:
			content, err := env.LookupPath(ens.Path)
			if err != nil {
				return err
			}
			tag := fixpoint.TagRetAt{Path: ens.Path}
			if err := ck.gen.Sub(rcx, env, content, ens.Ty, tag, span); err != nil {
				return err
			}
		}
	}
	return nil
}

func wrapHeapErr(err error, span ir.Span) error {
	if err == nil {
		return nil
	}
	var uninit uninitReadError
	if errors.As(err, &uninit) {
		return atollerr.New(atollerr.NewUninitUse{Spanned: span, Place: uninit.place.String()})
	}
	return err
}

func scalarIndex(ty rty.Type) (rty.BaseType, rty.Expr, bool) {
	idx, ok := ty.(rty.Indexed)
	if !ok || len(idx.Indices) != 1 {
		return nil, nil, false
	}
	ie, ok := idx.Indices[0].(rty.IdxExpr)
	if !ok {
		return nil, nil, false
	}
	return idx.Base, ie.Expr, true
}

func constantType(c ir.Constant) rty.Type {
	switch c := c.(type) {
	case ir.IntConst:
		return rty.IndexedOf(rty.IntTy{}, rty.IntLit{Value: c.Value})
	case ir.UintConst:
		return rty.IndexedOf(rty.UintTy{}, rty.IntLit{Value: int64(c.Value)})
	case ir.BoolConst:
		return rty.IndexedOf(rty.BoolTy{}, rty.BoolLit{Value: c.Value})
	case ir.StrConst:
		return rty.IndexedOf(rty.StrTy{})
	case ir.UnitConst:
		return rty.UnitTy()
	}
	panic(errors.Errorf("unhandled constant %T", c))
}

func cmpOp(op ir.BinOp) (rty.BinOp, bool) {
	switch op {
	case ir.Eq:
		return rty.Eq, true
	case ir.Ne:
		return rty.Ne, true
	case ir.Lt:
		return rty.Lt, true
	case ir.Le:
		return rty.Le, true
	case ir.Gt:
		return rty.Gt, true
	case ir.Ge:
		return rty.Ge, true
	}
	return 0, false
}

func arithOp(op ir.BinOp) (rty.BinOp, bool) {
	switch op {
	case ir.Add:
		return rty.Add, true
	case ir.Sub:
		return rty.Sub, true
	case ir.Mul:
		return rty.Mul, true
	case ir.Div:
		return rty.Div, true
	case ir.Rem:
		return rty.Mod, true
	}
	return 0, false
}

func isSignedInt(base rty.BaseType) bool {
	_, ok := base.(rty.IntTy)
	return ok
}

func isOverflowing(op ir.BinOp) bool {
	return op == ir.Add || op == ir.Sub || op == ir.Mul
}
