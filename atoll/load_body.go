package atoll

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

type bodyJSON struct {
	ArgCount int         `json:"arg_count"`
	Locals   []localJSON `json:"locals,omitempty"`
	Blocks   []blockJSON `json:"blocks"`
	Span     *spanJSON   `json:"span,omitempty"`
}

type localJSON struct {
	Name string    `json:"name,omitempty"`
	Span *spanJSON `json:"span,omitempty"`
}

type spanJSON struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

type blockJSON struct {
	Stmts []stmtJSON      `json:"stmts,omitempty"`
	Term  json.RawMessage `json:"term"`
}

type stmtJSON struct {
	Kind   string          `json:"kind,omitempty"`
	Place  *placeJSON      `json:"place,omitempty"`
	Rvalue json.RawMessage `json:"rvalue,omitempty"`
	Span   *spanJSON       `json:"span,omitempty"`
}

type placeJSON struct {
	Local int               `json:"local"`
	Proj  []json.RawMessage `json:"proj,omitempty"`
}

type termJSON struct {
	Kind      string            `json:"kind"`
	Target    *int              `json:"target,omitempty"`
	Discr     json.RawMessage   `json:"discr,omitempty"`
	Cases     []caseJSON        `json:"cases,omitempty"`
	Otherwise *int              `json:"otherwise,omitempty"`
	Func      string            `json:"func,omitempty"`
	Generics  []json.RawMessage `json:"generics,omitempty"`
	Args      []json.RawMessage `json:"args,omitempty"`
	Dest      *placeJSON        `json:"dest,omitempty"`
	Cond      json.RawMessage   `json:"cond,omitempty"`
	Expected  *bool             `json:"expected,omitempty"`
	Msg       string            `json:"msg,omitempty"`
	Place     *placeJSON        `json:"place,omitempty"`
	Span      *spanJSON         `json:"span,omitempty"`
}

type caseJSON struct {
	Value  int64 `json:"value"`
	Target int   `json:"target"`
}

type rvalueJSON struct {
	Kind     string            `json:"kind"`
	Op       string            `json:"op,omitempty"`
	Operand  json.RawMessage   `json:"operand,omitempty"`
	LHS      json.RawMessage   `json:"lhs,omitempty"`
	RHS      json.RawMessage   `json:"rhs,omitempty"`
	Place    *placeJSON        `json:"place,omitempty"`
	Adt      string            `json:"adt,omitempty"`
	Generics []json.RawMessage `json:"generics,omitempty"`
	Args     []json.RawMessage `json:"args,omitempty"`
}

type operandJSON struct {
	Copy  *placeJSON      `json:"copy,omitempty"`
	Move  *placeJSON      `json:"move,omitempty"`
	Const json.RawMessage `json:"const,omitempty"`
}

func (s *sigScope) decodeBody(b *bodyJSON) (*ir.Body, error) {
	body := &ir.Body{ArgCount: b.ArgCount, Span: decodeSpan(b.Span)}
	for _, l := range b.Locals {
		body.Locals = append(body.Locals, ir.LocalDecl{Name: l.Name, Span: decodeSpan(l.Span)})
	}
	if len(body.Locals) < b.ArgCount+1 {
		return nil, errors.Errorf("%d locals cannot hold %d arguments and a return place",
			len(body.Locals), b.ArgCount)
	}
	for id, block := range b.Blocks {
		decoded, err := s.decodeBlock(block, len(b.Blocks))
		if err != nil {
			return nil, errors.Wrapf(err, "block %d", id)
		}
		body.Blocks = append(body.Blocks, decoded)
	}
	if len(body.Blocks) == 0 {
		return nil, errors.New("a body needs at least an entry block")
	}
	return body, nil
}

func (s *sigScope) decodeBlock(b blockJSON, nblocks int) (ir.BasicBlock, error) {
	var block ir.BasicBlock
	for i, stmt := range b.Stmts {
		decoded, err := s.decodeStmt(stmt)
		if err != nil {
			return ir.BasicBlock{}, errors.Wrapf(err, "statement %d", i)
		}
		block.Statements = append(block.Statements, decoded)
	}
	term, err := s.decodeTerm(b.Term, nblocks)
	if err != nil {
		return ir.BasicBlock{}, err
	}
	block.Terminator = term
	return block, nil
}

func (s *sigScope) decodeStmt(stmt stmtJSON) (ir.Statement, error) {
	span := decodeSpan(stmt.Span)
	switch stmt.Kind {
	case "nop":
		return &ir.Nop{Span: span}, nil
	case "", "assign":
		if stmt.Place == nil {
			return nil, errors.New("assignment needs a place")
		}
		place, err := decodePlace(*stmt.Place)
		if err != nil {
			return nil, err
		}
		rvalue, err := s.decodeRvalue(stmt.Rvalue)
		if err != nil {
			return nil, err
		}
		return &ir.Assign{Span: span, Place: place, Rvalue: rvalue}, nil
	}
	return nil, errors.Errorf("unknown statement kind %q", stmt.Kind)
}

func (s *sigScope) decodeRvalue(raw json.RawMessage) (ir.Rvalue, error) {
	// objects with a kind are proper rvalues, anything else is operand shorthand
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Kind == "" {
		operand, err := decodeOperandRaw(raw)
		if err != nil {
			return nil, err
		}
		return &ir.Use{Operand: operand}, nil
	}
	var rv rvalueJSON
	if err := json.Unmarshal(raw, &rv); err != nil {
		return nil, err
	}
	switch rv.Kind {
	case "use":
		operand, err := decodeOperandRaw(rv.Operand)
		if err != nil {
			return nil, err
		}
		return &ir.Use{Operand: operand}, nil
	case "binop":
		op, ok := irBinOps[rv.Op]
		if !ok {
			return nil, errors.Errorf("unknown operator %q", rv.Op)
		}
		lhs, err := decodeOperandRaw(rv.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := decodeOperandRaw(rv.RHS)
		if err != nil {
			return nil, err
		}
		return &ir.BinaryOp{Op: op, LHS: lhs, RHS: rhs}, nil
	case "unop":
		op, ok := irUnOps[rv.Op]
		if !ok {
			return nil, errors.Errorf("unknown unary operator %q", rv.Op)
		}
		operand, err := decodeOperandRaw(rv.Operand)
		if err != nil {
			return nil, err
		}
		return &ir.UnaryOp{Op: op, Operand: operand}, nil
	case "mut_ref":
		if rv.Place == nil {
			return nil, errors.New("borrow needs a place")
		}
		place, err := decodePlace(*rv.Place)
		if err != nil {
			return nil, err
		}
		return &ir.MutRef{Place: place}, nil
	case "shr_ref":
		if rv.Place == nil {
			return nil, errors.New("borrow needs a place")
		}
		place, err := decodePlace(*rv.Place)
		if err != nil {
			return nil, err
		}
		return &ir.ShrRef{Place: place}, nil
	case "aggregate":
		generics, err := s.decodeTypes(rv.Generics)
		if err != nil {
			return nil, err
		}
		args, err := decodeOperands(rv.Args)
		if err != nil {
			return nil, err
		}
		return &ir.Aggregate{Adt: rty.DefID(rv.Adt), GenericArgs: generics, Args: args}, nil
	}
	return nil, errors.Errorf("unrecognized rvalue %s", compact(raw))
}

func (s *sigScope) decodeTerm(raw json.RawMessage, nblocks int) (ir.Terminator, error) {
	var t termJSON
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	span := decodeSpan(t.Span)
	target := func(id *int) (ir.BlockID, error) {
		if id == nil {
			return ir.NoBlock, nil
		}
		if *id < 0 || *id >= nblocks {
			return ir.NoBlock, errors.Errorf("jump to block %d out of %d", *id, nblocks)
		}
		return ir.BlockID(*id), nil
	}
	switch t.Kind {
	case "goto":
		to, err := target(t.Target)
		if err != nil {
			return nil, err
		}
		if to == ir.NoBlock {
			return nil, errors.New("goto needs a target")
		}
		return &ir.Goto{Span: span, Target: to}, nil
	case "switch":
		discr, err := decodeOperandRaw(t.Discr)
		if err != nil {
			return nil, err
		}
		var cases []ir.SwitchCase
		for _, c := range t.Cases {
			to, err := target(&c.Target)
			if err != nil {
				return nil, err
			}
			cases = append(cases, ir.SwitchCase{Value: c.Value, Target: to})
		}
		otherwise, err := target(t.Otherwise)
		if err != nil {
			return nil, err
		}
		if len(cases) == 0 && otherwise == ir.NoBlock {
			return nil, errors.New("switch needs at least one successor")
		}
		return &ir.SwitchInt{Span: span, Discr: discr, Cases: cases, Otherwise: otherwise}, nil
	case "call":
		generics, err := s.decodeTypes(t.Generics)
		if err != nil {
			return nil, err
		}
		args, err := decodeOperands(t.Args)
		if err != nil {
			return nil, err
		}
		if t.Dest == nil {
			return nil, errors.New("call needs a destination")
		}
		dest, err := decodePlace(*t.Dest)
		if err != nil {
			return nil, err
		}
		to, err := target(t.Target)
		if err != nil {
			return nil, err
		}
		return &ir.Call{
			Span:        span,
			Func:        rty.DefID(t.Func),
			GenericArgs: generics,
			Args:        args,
			Destination: dest,
			Target:      to,
		}, nil
	case "assert":
		cond, err := decodeOperandRaw(t.Cond)
		if err != nil {
			return nil, err
		}
		expected := true
		if t.Expected != nil {
			expected = *t.Expected
		}
		to, err := target(t.Target)
		if err != nil {
			return nil, err
		}
		if to == ir.NoBlock {
			return nil, errors.New("assert needs a target")
		}
		return &ir.Assert{Span: span, Cond: cond, Expected: expected, Msg: t.Msg, Target: to}, nil
	case "drop":
		if t.Place == nil {
			return nil, errors.New("drop needs a place")
		}
		place, err := decodePlace(*t.Place)
		if err != nil {
			return nil, err
		}
		to, err := target(t.Target)
		if err != nil {
			return nil, err
		}
		if to == ir.NoBlock {
			return nil, errors.New("drop needs a target")
		}
		return &ir.Drop{Span: span, Place: place, Target: to}, nil
	case "return":
		return &ir.Return{Span: span}, nil
	}
	return nil, errors.Errorf("unknown terminator kind %q", t.Kind)
}

func (s *sigScope) decodeTypes(raws []json.RawMessage) ([]rty.Type, error) {
	var types []rty.Type
	for _, raw := range raws {
		ty, err := s.decodeType(raw)
		if err != nil {
			return nil, err
		}
		types = append(types, ty)
	}
	return types, nil
}

func decodeOperands(raws []json.RawMessage) ([]ir.Operand, error) {
	var operands []ir.Operand
	for _, raw := range raws {
		operand, err := decodeOperandRaw(raw)
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}
	return operands, nil
}

func decodeOperandRaw(raw json.RawMessage) (ir.Operand, error) {
	if raw == nil {
		return nil, errors.New("missing operand")
	}
	var op operandJSON
	if err := json.Unmarshal(raw, &op); err != nil {
		// a bare literal is a constant operand
		c, cerr := decodeConst(raw)
		if cerr != nil {
			return nil, err
		}
		return &ir.Const{Constant: c}, nil
	}
	return decodeOperand(op)
}

func decodeOperand(op operandJSON) (ir.Operand, error) {
	switch {
	case op.Copy != nil:
		place, err := decodePlace(*op.Copy)
		if err != nil {
			return nil, err
		}
		return &ir.Copy{Place: place}, nil
	case op.Move != nil:
		place, err := decodePlace(*op.Move)
		if err != nil {
			return nil, err
		}
		return &ir.Move{Place: place}, nil
	case op.Const != nil:
		c, err := decodeConst(op.Const)
		if err != nil {
			return nil, err
		}
		return &ir.Const{Constant: c}, nil
	}
	return nil, errors.New("operand needs copy, move, or const")
}

func decodeConst(raw json.RawMessage) (ir.Constant, error) {
	var i int64
	if err := json.Unmarshal(raw, &i); err == nil {
		return ir.IntConst{Value: i}, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return ir.BoolConst{Value: b}, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return ir.StrConst{Value: str}, nil
	}
	var obj struct {
		Uint *uint64 `json:"uint,omitempty"`
		Unit bool    `json:"unit,omitempty"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Uint != nil {
		return ir.UintConst{Value: *obj.Uint}, nil
	}
	if obj.Unit {
		return ir.UnitConst{}, nil
	}
	return nil, errors.Errorf("unrecognized constant %s", compact(raw))
}

func decodePlace(p placeJSON) (ir.Place, error) {
	if p.Local < 0 {
		return ir.Place{}, errors.Errorf("negative local %d", p.Local)
	}
	place := ir.Place{Local: ir.Local(p.Local)}
	for _, raw := range p.Proj {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "deref" {
				return ir.Place{}, errors.Errorf("unknown projection %q", s)
			}
			place.Projection = append(place.Projection, ir.Deref{})
			continue
		}
		var field int
		if err := json.Unmarshal(raw, &field); err != nil {
			return ir.Place{}, errors.Errorf("unrecognized projection %s", compact(raw))
		}
		place.Projection = append(place.Projection, ir.Field(field))
	}
	return place, nil
}

func decodeSpan(s *spanJSON) ir.Span {
	if s == nil {
		return ir.Span{}
	}
	return ir.Span{File: s.File, Line: s.Line, Col: s.Col}
}

var irBinOps = map[string]ir.BinOp{
	"+":  ir.Add,
	"-":  ir.Sub,
	"*":  ir.Mul,
	"/":  ir.Div,
	"%":  ir.Rem,
	"==": ir.Eq,
	"!=": ir.Ne,
	"<":  ir.Lt,
	"<=": ir.Le,
	">":  ir.Gt,
	">=": ir.Ge,
}

var irUnOps = map[string]ir.UnOp{
	"!": ir.Not,
	"-": ir.Neg,
}
