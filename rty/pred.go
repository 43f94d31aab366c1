package rty

import (
	"fmt"
	"strings"
)

// Pred is what may guard a type: a boolean expression, an unknown predicate,
// a conjunction, or a hole still waiting to be generalized away.
type Pred interface {
	fmt.Stringer
	Hash() uint64
	predNode()
}

type ExprPred struct {
	Expr Expr
}

// KVID identifies an unknown predicate across one checking session.
type KVID uint32

func (k KVID) String() string { return fmt.Sprintf("$k%d", uint32(k)) }

// KVar is a placeholder for the predicate the external fixpoint solver will
// compute: applied to its own argument expressions, with every variable of
// the scope it was created under captured alongside.
type KVar struct {
	ID    KVID
	Args  []Expr
	Scope []Expr
}

type AndPred struct {
	Preds []Pred
}

// Hole marks a predicate that inference has not yet filled in. Shapes are
// full of holes; the checking pass replaces each with a fresh KVar before any
// obligation mentions it.
type Hole struct{}

func (ExprPred) predNode() {}
func (KVar) predNode()     {}
func (AndPred) predNode()  {}
func (Hole) predNode()     {}

var (
	_ Pred = ExprPred{}
	_ Pred = KVar{}
	_ Pred = AndPred{}
	_ Pred = Hole{}
)

func (p ExprPred) String() string { return p.Expr.String() }

func (p KVar) String() string {
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		args[i] = a.String()
	}
	if len(p.Scope) == 0 {
		return fmt.Sprintf("%s(%s)", p.ID, strings.Join(args, ", "))
	}
	scope := make([]string, len(p.Scope))
	for i, s := range p.Scope {
		scope[i] = s.String()
	}
	return fmt.Sprintf("%s(%s)[%s]", p.ID, strings.Join(args, ", "), strings.Join(scope, ", "))
}

func (p AndPred) String() string {
	parts := make([]string, len(p.Preds))
	for i, sub := range p.Preds {
		parts[i] = sub.String()
	}
	return strings.Join(parts, " && ")
}

func (Hole) String() string { return "*" }

func (p ExprPred) Hash() uint64 { return newHash(tagExprPred).with(p.Expr.Hash()).sum() }

func (p KVar) Hash() uint64 {
	h := newHash(tagKVar).with(uint64(p.ID))
	for _, a := range p.Args {
		h = h.with(a.Hash())
	}
	for _, s := range p.Scope {
		h = h.with(s.Hash())
	}
	return h.sum()
}

func (p AndPred) Hash() uint64 {
	h := newHash(tagAndPred)
	for _, sub := range p.Preds {
		h = h.with(sub.Hash())
	}
	return h.sum()
}

func (Hole) Hash() uint64 { return hashLeaf(tagHole) }

// PredTrue is the trivial guard.
var PredTrue Pred = ExprPred{Expr: TrueExpr}

func PredEq(a, b Pred) bool {
	return a.Hash() == b.Hash()
}

// IsTrue reports a syntactically trivial predicate, before any solving.
func IsTrue(p Pred) bool {
	switch p := p.(type) {
	case ExprPred:
		lit, ok := p.Expr.(BoolLit)
		return ok && lit.Value
	case AndPred:
		for _, sub := range p.Preds {
			if !IsTrue(sub) {
				return false
			}
		}
		return true
	}
	return false
}

// PredAnd flattens a conjunction, dropping trivially true conjuncts.
func PredAnd(preds ...Pred) Pred {
	var kept []Pred
	for _, p := range preds {
		if IsTrue(p) {
			continue
		}
		if and, ok := p.(AndPred); ok {
			kept = append(kept, and.Preds...)
			continue
		}
		kept = append(kept, p)
	}
	switch len(kept) {
	case 0:
		return PredTrue
	case 1:
		return kept[0]
	}
	return AndPred{Preds: kept}
}

// PredBinder binds one fresh index variable per sort over a predicate; the
// predicate refers to them as BoundVar by position.
type PredBinder struct {
	Params []Sort
	Pred   Pred
}

func BindPred(params []Sort, pred Pred) PredBinder {
	return PredBinder{Params: params, Pred: pred}
}

// HoleBinder is the all-holes binder used when widening to a shape.
func HoleBinder(params []Sort) PredBinder {
	return PredBinder{Params: params, Pred: Hole{}}
}

func (b PredBinder) String() string {
	params := make([]string, len(b.Params))
	for i, s := range b.Params {
		params[i] = s.String()
	}
	return fmt.Sprintf("for<%s> %s", strings.Join(params, ", "), b.Pred)
}

func (b PredBinder) Hash() uint64 {
	h := newHash(tagPredBinder)
	for _, s := range b.Params {
		h = h.with(s.Hash())
	}
	return h.with(b.Pred.Hash()).sum()
}
