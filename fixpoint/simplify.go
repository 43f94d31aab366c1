package fixpoint

import (
	"math"

	"github.com/hashicorp/go-set/v3"

	"github.com/cottand/atoll/rty"
)

// Simplify prunes every head the enclosing guards already entail by a cheap
// local argument: syntactic equality after negation normalization, constant
// arithmetic, and single-variable integer bounds. What survives is exactly
// the work the external solver is for; Simplify never prunes an unknown
// predicate.
func Simplify(c Constraint) Constraint {
	return simplifyUnder(c, newAssumptions())
}

func simplifyUnder(c Constraint, a assumptions) Constraint {
	switch c := c.(type) {
	case Conj:
		parts := make([]Constraint, 0, len(c.Parts))
		for _, part := range c.Parts {
			s := simplifyUnder(part, a)
			if isTrivial(s) {
				continue
			}
			if conj, ok := s.(Conj); ok {
				parts = append(parts, conj.Parts...)
				continue
			}
			parts = append(parts, s)
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return Conj{Parts: parts}

	case ForAll:
		body := simplifyUnder(c.Body, a)
		if isTrivial(body) {
			return TrueC
		}
		return ForAll{Name: c.Name, Sort: c.Sort, Body: body}

	case Guard:
		if rty.IsTrue(c.Pred) {
			return simplifyUnder(c.Body, a)
		}
		body := simplifyUnder(c.Body, a.extended(c.Pred))
		if isTrivial(body) {
			return TrueC
		}
		return Guard{Pred: c.Pred, Body: body}

	case Head:
		return simplifyHead(c, a)
	}
	return c
}

func simplifyHead(h Head, a assumptions) Constraint {
	switch p := h.Pred.(type) {
	case rty.AndPred:
		parts := make([]Constraint, 0, len(p.Preds))
		for _, sub := range p.Preds {
			s := simplifyHead(Head{Pred: sub, Tag: h.Tag, Span: h.Span}, a)
			if isTrivial(s) {
				continue
			}
			parts = append(parts, s)
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return Conj{Parts: parts}
	case rty.ExprPred:
		if and, ok := p.Expr.(rty.BinaryExpr); ok && and.Op == rty.And {
			return simplifyHead(Head{
				Pred: rty.AndPred{Preds: []rty.Pred{
					rty.ExprPred{Expr: and.LHS},
					rty.ExprPred{Expr: and.RHS},
				}},
				Tag:  h.Tag,
				Span: h.Span,
			}, a)
		}
		if a.provable(p.Expr) {
			return TrueC
		}
	}
	return h
}

func isTrivial(c Constraint) bool {
	conj, ok := c.(Conj)
	return ok && len(conj.Parts) == 0
}

// Residue simplifies and flattens the constraint into the obligations that
// remain: deferred ones mention an unknown predicate somewhere on their path
// and are the solver's to discharge, the rest are findings.
func Residue(c Constraint) []Obligation {
	var out []Obligation
	collectResidue(Simplify(c), false, &out)
	return out
}

func collectResidue(c Constraint, underKVar bool, out *[]Obligation) {
	switch c := c.(type) {
	case Conj:
		for _, part := range c.Parts {
			collectResidue(part, underKVar, out)
		}
	case ForAll:
		collectResidue(c.Body, underKVar, out)
	case Guard:
		collectResidue(c.Body, underKVar || predHasKVar(c.Pred), out)
	case Head:
		*out = append(*out, Obligation{
			Pred:     c.Pred,
			Tag:      c.Tag,
			Span:     c.Span,
			Deferred: underKVar || predHasKVar(c.Pred),
		})
	}
}

func predHasKVar(p rty.Pred) bool {
	switch p := p.(type) {
	case rty.KVar:
		return true
	case rty.AndPred:
		for _, sub := range p.Preds {
			if predHasKVar(sub) {
				return true
			}
		}
	}
	return false
}

// assumptions is the path condition seen on the way down, in a form cheap to
// consult: hashes of normalized conjuncts plus integer bounds per variable.
type assumptions struct {
	preds  *set.Set[uint64]
	bounds map[rty.Name]interval
}

func newAssumptions() assumptions {
	return assumptions{preds: set.New[uint64](8), bounds: map[rty.Name]interval{}}
}

func (a assumptions) extended(p rty.Pred) assumptions {
	ext := assumptions{preds: a.preds.Copy(), bounds: make(map[rty.Name]interval, len(a.bounds))}
	for n, iv := range a.bounds {
		ext.bounds[n] = iv
	}
	for _, conj := range conjunctExprs(p) {
		norm := normalize(conj)
		ext.preds.Insert(norm.Hash())
		ext.learnBound(norm)
	}
	return ext
}

// conjunctExprs splits a predicate into its boolean conjuncts, skipping
// unknown predicates and holes.
func conjunctExprs(p rty.Pred) []rty.Expr {
	switch p := p.(type) {
	case rty.ExprPred:
		return splitAnd(p.Expr)
	case rty.AndPred:
		var out []rty.Expr
		for _, sub := range p.Preds {
			out = append(out, conjunctExprs(sub)...)
		}
		return out
	}
	return nil
}

func splitAnd(e rty.Expr) []rty.Expr {
	if bin, ok := e.(rty.BinaryExpr); ok && bin.Op == rty.And {
		return append(splitAnd(bin.LHS), splitAnd(bin.RHS)...)
	}
	return []rty.Expr{e}
}

func (a assumptions) learnBound(e rty.Expr) {
	bin, ok := e.(rty.BinaryExpr)
	if !ok {
		return
	}
	op := bin.Op
	v, okL := bin.LHS.(rty.Var)
	lit, okR := bin.RHS.(rty.IntLit)
	if !okL || !okR {
		// mirror c op v into v op' c
		lit, okL = bin.LHS.(rty.IntLit)
		v, okR = bin.RHS.(rty.Var)
		if !okL || !okR {
			return
		}
		switch op {
		case rty.Gt:
			op = rty.Lt
		case rty.Ge:
			op = rty.Le
		case rty.Lt:
			op = rty.Gt
		case rty.Le:
			op = rty.Ge
		}
	}
	iv, seen := a.bounds[v.Name]
	if !seen {
		iv = topInterval
	}
	c := lit.Value
	switch op {
	case rty.Eq:
		iv = iv.meet(pointInterval(c))
	case rty.Gt:
		if c < math.MaxInt64 {
			iv = iv.meet(interval{lo: c + 1, hiUnb: true})
		}
	case rty.Ge:
		iv = iv.meet(interval{lo: c, hiUnb: true})
	case rty.Lt:
		if c > math.MinInt64 {
			iv = iv.meet(interval{hi: c - 1, loUnb: true})
		}
	case rty.Le:
		iv = iv.meet(interval{hi: c, loUnb: true})
	default:
		return
	}
	a.bounds[v.Name] = iv
}

// provable reports whether the path condition entails e by local reasoning.
func (a assumptions) provable(e rty.Expr) bool {
	e = normalize(e)
	if a.preds.Contains(e.Hash()) {
		return true
	}
	switch e := e.(type) {
	case rty.BoolLit:
		return e.Value
	case rty.BinaryExpr:
		switch e.Op {
		case rty.And:
			return a.provable(e.LHS) && a.provable(e.RHS)
		case rty.Or:
			return a.provable(e.LHS) || a.provable(e.RHS)
		case rty.Imp:
			return a.provable(e.RHS)
		case rty.Eq, rty.Iff, rty.Le, rty.Ge:
			if rty.ExprEq(e.LHS, e.RHS) {
				return true
			}
		}
		return a.provableCmp(e)
	}
	return false
}

func (a assumptions) provableCmp(e rty.BinaryExpr) bool {
	l, r := a.eval(e.LHS), a.eval(e.RHS)
	switch e.Op {
	case rty.Eq:
		return l.isPoint() && r.isPoint() && l.lo == r.lo
	case rty.Ne:
		return l.disjoint(r)
	case rty.Gt:
		return !l.loUnb && !r.hiUnb && l.lo > r.hi
	case rty.Ge:
		return !l.loUnb && !r.hiUnb && l.lo >= r.hi
	case rty.Lt:
		return !l.hiUnb && !r.loUnb && l.hi < r.lo
	case rty.Le:
		return !l.hiUnb && !r.loUnb && l.hi <= r.lo
	}
	return false
}

// normalize pushes negations through comparisons so that equivalent facts
// hash equally: !(a == b) and a != b are the same conjunct.
func normalize(e rty.Expr) rty.Expr {
	switch e := e.(type) {
	case rty.UnaryExpr:
		if e.Op != rty.Not {
			return e
		}
		switch inner := normalize(e.Operand).(type) {
		case rty.BoolLit:
			return rty.BoolLit{Value: !inner.Value}
		case rty.UnaryExpr:
			if inner.Op == rty.Not {
				return inner.Operand
			}
		case rty.BinaryExpr:
			if flipped, ok := negateCmp(inner.Op); ok {
				return rty.BinaryExpr{Op: flipped, LHS: inner.LHS, RHS: inner.RHS}
			}
		}
		return rty.UnaryExpr{Op: rty.Not, Operand: normalize(e.Operand)}
	case rty.BinaryExpr:
		return rty.BinaryExpr{Op: e.Op, LHS: normalize(e.LHS), RHS: normalize(e.RHS)}
	}
	return e
}

func negateCmp(op rty.BinOp) (rty.BinOp, bool) {
	switch op {
	case rty.Eq:
		return rty.Ne, true
	case rty.Ne:
		return rty.Eq, true
	case rty.Gt:
		return rty.Le, true
	case rty.Ge:
		return rty.Lt, true
	case rty.Lt:
		return rty.Ge, true
	case rty.Le:
		return rty.Gt, true
	}
	return op, false
}

// interval is a possibly unbounded range of int64 values.
type interval struct {
	lo, hi       int64
	loUnb, hiUnb bool
}

var topInterval = interval{loUnb: true, hiUnb: true}

func pointInterval(c int64) interval { return interval{lo: c, hi: c} }

func (iv interval) isPoint() bool { return !iv.loUnb && !iv.hiUnb && iv.lo == iv.hi }

func (iv interval) meet(other interval) interval {
	out := iv
	if !other.loUnb && (out.loUnb || other.lo > out.lo) {
		out.lo, out.loUnb = other.lo, false
	}
	if !other.hiUnb && (out.hiUnb || other.hi < out.hi) {
		out.hi, out.hiUnb = other.hi, false
	}
	return out
}

func (iv interval) disjoint(other interval) bool {
	if !iv.hiUnb && !other.loUnb && iv.hi < other.lo {
		return true
	}
	if !other.hiUnb && !iv.loUnb && other.hi < iv.lo {
		return true
	}
	return false
}

func (a assumptions) eval(e rty.Expr) interval {
	switch e := e.(type) {
	case rty.IntLit:
		return pointInterval(e.Value)
	case rty.Var:
		if iv, ok := a.bounds[e.Name]; ok {
			return iv
		}
	case rty.UnaryExpr:
		if e.Op == rty.Neg {
			return a.eval(e.Operand).negate()
		}
	case rty.BinaryExpr:
		l, r := a.eval(e.LHS), a.eval(e.RHS)
		switch e.Op {
		case rty.Add:
			return l.add(r)
		case rty.Sub:
			return l.add(r.negate())
		case rty.Mul:
			return l.mul(r)
		}
	}
	return topInterval
}

func (iv interval) negate() interval {
	out := interval{loUnb: iv.hiUnb, hiUnb: iv.loUnb}
	if !iv.hiUnb {
		if iv.hi == math.MinInt64 {
			out.loUnb = true
		} else {
			out.lo = -iv.hi
		}
	}
	if !iv.loUnb {
		if iv.lo == math.MinInt64 {
			out.hiUnb = true
		} else {
			out.hi = -iv.lo
		}
	}
	return out
}

func (iv interval) add(other interval) interval {
	out := interval{loUnb: iv.loUnb || other.loUnb, hiUnb: iv.hiUnb || other.hiUnb}
	if !out.loUnb {
		lo, ok := addChecked(iv.lo, other.lo)
		if !ok {
			out.loUnb = true
		}
		out.lo = lo
	}
	if !out.hiUnb {
		hi, ok := addChecked(iv.hi, other.hi)
		if !ok {
			out.hiUnb = true
		}
		out.hi = hi
	}
	return out
}

func (iv interval) mul(other interval) interval {
	// only the fully bounded case; anything else gives up
	if iv.loUnb || iv.hiUnb || other.loUnb || other.hiUnb {
		return topInterval
	}
	products := [4][2]int64{
		{iv.lo, other.lo}, {iv.lo, other.hi},
		{iv.hi, other.lo}, {iv.hi, other.hi},
	}
	out := interval{lo: math.MaxInt64, hi: math.MinInt64}
	for _, p := range products {
		v, ok := mulChecked(p[0], p[1])
		if !ok {
			return topInterval
		}
		out.lo = min(out.lo, v)
		out.hi = max(out.hi, v)
	}
	return out
}

func addChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func mulChecked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	prod := a * b
	if prod/b != a {
		return 0, false
	}
	return prod, true
}
