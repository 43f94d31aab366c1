package ir

import (
	"fmt"
	"strings"

	"github.com/cottand/atoll/rty"
)

// BlockID indexes into Body.Blocks. The entry block is always block 0.
type BlockID int

// NoBlock marks a missing continuation, e.g. a call that never returns.
const NoBlock BlockID = -1

// Local is a slot in a procedure frame. Slot 0 is the return place, slots
// 1..ArgCount hold the arguments, the rest are temporaries and user locals.
type Local int

const ReturnLocal Local = 0

// Body is one procedure's control-flow graph, consumed from the surrounding
// compiler already typed and in execution order.
type Body struct {
	Blocks   []BasicBlock
	Locals   []LocalDecl
	ArgCount int
	Span
}

type LocalDecl struct {
	Name string
	Span
}

type BasicBlock struct {
	Statements []Statement
	Terminator Terminator
}

func (b *Body) Entry() BlockID { return 0 }

func (b *Body) Args() []Local {
	args := make([]Local, b.ArgCount)
	for i := range args {
		args[i] = Local(i + 1)
	}
	return args
}

// VarLocals are the locals that are neither the return place nor arguments.
func (b *Body) VarLocals() []Local {
	var locals []Local
	for i := b.ArgCount + 1; i < len(b.Locals); i++ {
		locals = append(locals, Local(i))
	}
	return locals
}

func (b *Body) Successors(id BlockID) []BlockID {
	var succs []BlockID
	switch t := b.Blocks[id].Terminator.(type) {
	case *Goto:
		succs = append(succs, t.Target)
	case *SwitchInt:
		for _, c := range t.Cases {
			succs = append(succs, c.Target)
		}
		succs = append(succs, t.Otherwise)
	case *Call:
		if t.Target != NoBlock {
			succs = append(succs, t.Target)
		}
	case *Assert:
		succs = append(succs, t.Target)
	case *Drop:
		succs = append(succs, t.Target)
	case *Return:
	}
	return succs
}

// Predecessors computes the reverse edge lists for every block.
func (b *Body) Predecessors() [][]BlockID {
	preds := make([][]BlockID, len(b.Blocks))
	for id := range b.Blocks {
		for _, succ := range b.Successors(BlockID(id)) {
			preds[succ] = append(preds[succ], BlockID(id))
		}
	}
	return preds
}

// Place is a local plus a projection path into it.
type Place struct {
	Local      Local
	Projection []PlaceElem
}

func PlaceOf(l Local, elems ...PlaceElem) Place {
	return Place{Local: l, Projection: elems}
}

func (p Place) String() string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "_%d", p.Local)
	for _, elem := range p.Projection {
		switch e := elem.(type) {
		case Deref:
			sb.WriteString(".*")
		case Field:
			fmt.Fprintf(sb, ".%d", int(e))
		}
	}
	return sb.String()
}

type PlaceElem interface {
	placeElem()
}

type Deref struct{}

// Field projects the n-th component of a tuple or aggregate.
type Field int

func (Deref) placeElem() {}
func (Field) placeElem() {}

var (
	_ PlaceElem = Deref{}
	_ PlaceElem = Field(0)
)

// Statements

type Statement interface {
	Spanned
	stmtNode()
}

type Assign struct {
	Span
	Place  Place
	Rvalue Rvalue
}

type Nop struct {
	Span
}

func (*Assign) stmtNode() {}
func (*Nop) stmtNode()    {}

var (
	_ Statement = (*Assign)(nil)
	_ Statement = (*Nop)(nil)
)

// Rvalues

type Rvalue interface {
	rvalueNode()
}

type Use struct {
	Operand Operand
}

type BinaryOp struct {
	Op       BinOp
	LHS, RHS Operand
}

type UnaryOp struct {
	Op      UnOp
	Operand Operand
}

// MutRef takes a unique borrow of a place.
type MutRef struct {
	Place Place
}

// ShrRef takes a shared borrow of a place.
type ShrRef struct {
	Place Place
}

// Aggregate builds a nominal value from its fields, e.g. a struct literal.
type Aggregate struct {
	Adt         rty.DefID
	GenericArgs []rty.Type
	Args        []Operand
}

func (*Use) rvalueNode()       {}
func (*BinaryOp) rvalueNode()  {}
func (*UnaryOp) rvalueNode()   {}
func (*MutRef) rvalueNode()    {}
func (*ShrRef) rvalueNode()    {}
func (*Aggregate) rvalueNode() {}

var (
	_ Rvalue = (*Use)(nil)
	_ Rvalue = (*BinaryOp)(nil)
	_ Rvalue = (*UnaryOp)(nil)
	_ Rvalue = (*MutRef)(nil)
	_ Rvalue = (*ShrRef)(nil)
	_ Rvalue = (*Aggregate)(nil)
)

type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Rem
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
)

func (op BinOp) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Rem:
		return "%"
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	}
	return fmt.Sprintf("BinOp(%d)", int(op))
}

type UnOp int

const (
	Not UnOp = iota
	Neg
)

// Operands

type Operand interface {
	operandNode()
}

// Copy reads a place without consuming it.
type Copy struct {
	Place Place
}

// Move reads a place and leaves it uninitialized.
type Move struct {
	Place Place
}

type Const struct {
	Constant Constant
}

func (*Copy) operandNode()  {}
func (*Move) operandNode()  {}
func (*Const) operandNode() {}

var (
	_ Operand = (*Copy)(nil)
	_ Operand = (*Move)(nil)
	_ Operand = (*Const)(nil)
)

// Constants

type Constant interface {
	constNode()
}

type IntConst struct{ Value int64 }
type UintConst struct{ Value uint64 }
type BoolConst struct{ Value bool }
type StrConst struct{ Value string }
type UnitConst struct{}

func (IntConst) constNode()  {}
func (UintConst) constNode() {}
func (BoolConst) constNode() {}
func (StrConst) constNode()  {}
func (UnitConst) constNode() {}

// Terminators

type Terminator interface {
	Spanned
	termNode()
}

type Goto struct {
	Span
	Target BlockID
}

type SwitchCase struct {
	Value  int64
	Target BlockID
}

type SwitchInt struct {
	Span
	Discr     Operand
	Cases     []SwitchCase
	Otherwise BlockID
}

type Call struct {
	Span
	Func        rty.DefID
	GenericArgs []rty.Type
	Args        []Operand
	Destination Place
	Target      BlockID
}

type Assert struct {
	Span
	Cond     Operand
	Expected bool
	Msg      string
	Target   BlockID
}

type Drop struct {
	Span
	Place  Place
	Target BlockID
}

type Return struct {
	Span
}

func (*Goto) termNode()      {}
func (*SwitchInt) termNode() {}
func (*Call) termNode()      {}
func (*Assert) termNode()    {}
func (*Drop) termNode()      {}
func (*Return) termNode()    {}

var (
	_ Terminator = (*Goto)(nil)
	_ Terminator = (*SwitchInt)(nil)
	_ Terminator = (*Call)(nil)
	_ Terminator = (*Assert)(nil)
	_ Terminator = (*Drop)(nil)
	_ Terminator = (*Return)(nil)
)
