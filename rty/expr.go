package rty

import (
	"fmt"
	"strings"
)

// Name identifies a free refinement variable. Names are only ever handed out
// by a Fresher so that allocation order is deterministic within a procedure.
type Name uint32

func (n Name) String() string { return fmt.Sprintf("a%d", uint32(n)) }

// Fresher hands out fresh names. One instance per checking session; pass it
// by pointer into everything that needs to allocate.
type Fresher struct {
	count uint32
}

func (f *Fresher) Fresh() Name {
	n := Name(f.count)
	f.count++
	return n
}

func (f *Fresher) FreshN(n int) []Name {
	names := make([]Name, n)
	for i := range names {
		names[i] = f.Fresh()
	}
	return names
}

// Expr is the refinement expression algebra. Values are immutable; build new
// ones by composition.
type Expr interface {
	fmt.Stringer
	Hash() uint64
	exprNode()
}

// Var is a free variable bound somewhere in the enclosing symbolic context.
type Var struct {
	Name Name
}

// BoundVar refers to a parameter of the innermost enclosing binder by
// position. Folds that open or shift binders track nesting depth themselves.
type BoundVar struct {
	Index int
}

type IntLit struct {
	Value int64
}

type BoolLit struct {
	Value bool
}

type StrLit struct {
	Value string
}

type UnitLit struct{}

type UnaryExpr struct {
	Op      UnOp
	Operand Expr
}

type BinaryExpr struct {
	Op       BinOp
	LHS, RHS Expr
}

type TupleExpr struct {
	Elems []Expr
}

// TupleProj projects the n-th element of a tuple-sorted expression.
type TupleProj struct {
	Tuple Expr
	Index int
}

// PathProj projects a named field of a nominal value's index.
type PathProj struct {
	Base  Expr
	Field int
}

type IteExpr struct {
	Cond, Then, Else Expr
}

// AppExpr applies a refinement function. The function position is a variable:
// either a free uninterpreted function or a bound refinement-predicate
// parameter awaiting instantiation at a call site.
type AppExpr struct {
	Func Expr
	Args []Expr
}

func (Var) exprNode()        {}
func (BoundVar) exprNode()   {}
func (IntLit) exprNode()     {}
func (BoolLit) exprNode()    {}
func (StrLit) exprNode()     {}
func (UnitLit) exprNode()    {}
func (UnaryExpr) exprNode()  {}
func (BinaryExpr) exprNode() {}
func (TupleExpr) exprNode()  {}
func (TupleProj) exprNode()  {}
func (PathProj) exprNode()   {}
func (IteExpr) exprNode()    {}
func (AppExpr) exprNode()    {}

var (
	_ Expr = Var{}
	_ Expr = BoundVar{}
	_ Expr = IntLit{}
	_ Expr = BoolLit{}
	_ Expr = StrLit{}
	_ Expr = UnitLit{}
	_ Expr = UnaryExpr{}
	_ Expr = BinaryExpr{}
	_ Expr = TupleExpr{}
	_ Expr = TupleProj{}
	_ Expr = PathProj{}
	_ Expr = IteExpr{}
	_ Expr = AppExpr{}
)

type BinOp int

const (
	Iff BinOp = iota
	Imp
	Or
	And
	Eq
	Ne
	Gt
	Ge
	Lt
	Le
	Add
	Sub
	Mul
	Div
	Mod
)

func (op BinOp) String() string {
	switch op {
	case Iff:
		return "<=>"
	case Imp:
		return "=>"
	case Or:
		return "||"
	case And:
		return "&&"
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Gt:
		return ">"
	case Ge:
		return ">="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	}
	return fmt.Sprintf("BinOp(%d)", int(op))
}

type UnOp int

const (
	Not UnOp = iota
	Neg
)

func (op UnOp) String() string {
	if op == Not {
		return "!"
	}
	return "-"
}

func (e Var) String() string      { return e.Name.String() }
func (e BoundVar) String() string { return fmt.Sprintf("^%d", e.Index) }
func (e IntLit) String() string   { return fmt.Sprintf("%d", e.Value) }
func (e BoolLit) String() string  { return fmt.Sprintf("%t", e.Value) }
func (e StrLit) String() string   { return fmt.Sprintf("%q", e.Value) }
func (UnitLit) String() string    { return "()" }

func (e UnaryExpr) String() string {
	return fmt.Sprintf("%s%s", e.Op, parens(e.Operand))
}

func (e BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", parens(e.LHS), e.Op, parens(e.RHS))
}

func (e TupleExpr) String() string {
	elems := make([]string, len(e.Elems))
	for i, el := range e.Elems {
		elems[i] = el.String()
	}
	return "(" + strings.Join(elems, ", ") + ")"
}

func (e TupleProj) String() string { return fmt.Sprintf("%s.%d", parens(e.Tuple), e.Index) }
func (e PathProj) String() string  { return fmt.Sprintf("%s.%d", parens(e.Base), e.Field) }

func (e IteExpr) String() string {
	return fmt.Sprintf("if %s then %s else %s", e.Cond, e.Then, e.Else)
}

func (e AppExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", parens(e.Func), strings.Join(args, ", "))
}

func parens(e Expr) string {
	switch e.(type) {
	case BinaryExpr, IteExpr:
		return "(" + e.String() + ")"
	default:
		return e.String()
	}
}

func (e Var) Hash() uint64      { return newHash(tagVar).with(uint64(e.Name)).sum() }
func (e BoundVar) Hash() uint64 { return newHash(tagBoundVar).with(uint64(e.Index)).sum() }
func (e IntLit) Hash() uint64   { return newHash(tagIntLit).with(uint64(e.Value)).sum() }

func (e BoolLit) Hash() uint64 {
	v := uint64(0)
	if e.Value {
		v = 1
	}
	return newHash(tagBoolLit).with(v).sum()
}

func (e StrLit) Hash() uint64 {
	h := newHash(tagStrLit)
	for _, b := range []byte(e.Value) {
		h = h.with(uint64(b))
	}
	return h.sum()
}

func (UnitLit) Hash() uint64 { return hashLeaf(tagUnitLit) }

func (e UnaryExpr) Hash() uint64 {
	return newHash(tagUnary).with(uint64(e.Op)).with(e.Operand.Hash()).sum()
}

func (e BinaryExpr) Hash() uint64 {
	return newHash(tagBinary).with(uint64(e.Op)).with(e.LHS.Hash()).with(e.RHS.Hash()).sum()
}

func (e TupleExpr) Hash() uint64 {
	h := newHash(tagTupleExpr)
	for _, el := range e.Elems {
		h = h.with(el.Hash())
	}
	return h.sum()
}

func (e TupleProj) Hash() uint64 {
	return newHash(tagTupleProj).with(e.Tuple.Hash()).with(uint64(e.Index)).sum()
}

func (e PathProj) Hash() uint64 {
	return newHash(tagPathProj).with(e.Base.Hash()).with(uint64(e.Field)).sum()
}

func (e IteExpr) Hash() uint64 {
	return newHash(tagIte).with(e.Cond.Hash()).with(e.Then.Hash()).with(e.Else.Hash()).sum()
}

func (e AppExpr) Hash() uint64 {
	h := newHash(tagAppExpr).with(e.Func.Hash())
	for _, a := range e.Args {
		h = h.with(a.Hash())
	}
	return h.sum()
}

// ExprEq compares expressions by structural hash.
func ExprEq(a, b Expr) bool {
	return a.Hash() == b.Hash()
}

// Combinators used all over obligation building.

func EqOf(l, r Expr) Expr  { return BinaryExpr{Op: Eq, LHS: l, RHS: r} }
func NeOf(l, r Expr) Expr  { return BinaryExpr{Op: Ne, LHS: l, RHS: r} }
func NotOf(e Expr) Expr    { return UnaryExpr{Op: Not, Operand: e} }
func AndOf(l, r Expr) Expr { return BinaryExpr{Op: And, LHS: l, RHS: r} }

var TrueExpr Expr = BoolLit{Value: true}
