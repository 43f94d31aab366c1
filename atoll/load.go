package atoll

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/cottand/atoll/rty"
)

// loader turns the compiler's exported JSON into declarations and bodies.
// Every symbol name in the export is resolved here to a canonical name or a
// bound-variable index; checking never sees a string.
type loader struct {
	prog    *Program
	fresher *rty.Fresher
}

func newLoader(prog *Program) *loader {
	return &loader{prog: prog, fresher: &rty.Fresher{}}
}

type fileJSON struct {
	Name string    `json:"name,omitempty"`
	Adts []adtJSON `json:"adts,omitempty"`
	Fns  []fnJSON  `json:"fns,omitempty"`
}

type adtJSON struct {
	Name      string            `json:"name"`
	IdxSorts  []json.RawMessage `json:"idx_sorts,omitempty"`
	Variances []string          `json:"variances,omitempty"`
	Variants  []polySigJSON     `json:"variants,omitempty"`
}

type fnJSON struct {
	Name string      `json:"name"`
	Sig  polySigJSON `json:"sig"`
	Body *bodyJSON   `json:"body,omitempty"`
}

type polySigJSON struct {
	Params   []refineParamJSON `json:"params,omitempty"`
	Requires []constraintJSON  `json:"requires,omitempty"`
	Args     []json.RawMessage `json:"args,omitempty"`
	Ret      json.RawMessage   `json:"ret,omitempty"`
	Ensures  []constraintJSON  `json:"ensures,omitempty"`
}

type refineParamJSON struct {
	Name string          `json:"name"`
	Sort json.RawMessage `json:"sort"`
	Mode string          `json:"mode,omitempty"`
}

type constraintJSON struct {
	Pred json.RawMessage `json:"pred,omitempty"`
	Path *pathJSON       `json:"path,omitempty"`
	Ty   json.RawMessage `json:"ty,omitempty"`
}

type pathJSON struct {
	Loc    string `json:"loc,omitempty"`
	Local  *int   `json:"local,omitempty"`
	Fields []int  `json:"fields,omitempty"`
}

type binderJSON struct {
	Params []binderParamJSON `json:"params"`
	Pred   json.RawMessage   `json:"pred,omitempty"`
}

type binderParamJSON struct {
	Name string          `json:"name"`
	Sort json.RawMessage `json:"sort"`
}

func (ld *loader) addFile(name string, data []byte) error {
	var file fileJSON
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Name != "" && ld.prog.name == "atollProgramNameless" {
		ld.prog.name = file.Name
	}

	// pre-register declarations so types can mention them recursively
	for _, adt := range file.Adts {
		if _, ok := ld.prog.genv.Adt(rty.DefID(adt.Name)); ok {
			return errors.Errorf("duplicate declaration %s", adt.Name)
		}
		ld.prog.genv.RegisterAdt(&rty.AdtDef{Name: rty.DefID(adt.Name)})
	}
	for _, adt := range file.Adts {
		if err := ld.fillAdt(adt); err != nil {
			return errors.Wrapf(err, "declaration %s", adt.Name)
		}
	}

	for _, fn := range file.Fns {
		sig, err := ld.decodeSig(fn.Sig)
		if err != nil {
			return errors.Wrapf(err, "signature of %s", fn.Name)
		}
		ld.prog.genv.RegisterFn(rty.DefID(fn.Name), sig)
	}
	for _, fn := range file.Fns {
		if fn.Body == nil {
			continue
		}
		// body-level types and exprs resolve names against the signature
		scope := ld.newScope()
		if _, err := scope.declareParams(fn.Sig.Params); err != nil {
			return errors.Wrapf(err, "signature of %s", fn.Name)
		}
		body, err := scope.decodeBody(fn.Body)
		if err != nil {
			return errors.Wrapf(err, "body of %s", fn.Name)
		}
		ld.prog.procs = append(ld.prog.procs, Procedure{Def: rty.DefID(fn.Name), Body: body})
	}
	return nil
}

func (ld *loader) fillAdt(adt adtJSON) error {
	def, _ := ld.prog.genv.Adt(rty.DefID(adt.Name))
	for _, raw := range adt.IdxSorts {
		sort, err := decodeSort(raw)
		if err != nil {
			return err
		}
		def.IdxSorts = append(def.IdxSorts, sort)
	}
	for _, v := range adt.Variances {
		variance, err := decodeVariance(v)
		if err != nil {
			return err
		}
		def.Variances = append(def.Variances, variance)
	}
	for i, variant := range adt.Variants {
		sig, err := ld.decodeSig(variant)
		if err != nil {
			return errors.Wrapf(err, "variant %d", i)
		}
		def.Variants = append(def.Variants, sig)
	}
	return nil
}

func (ld *loader) decodeSig(sig polySigJSON) (rty.PolySig, error) {
	scope := ld.newScope()
	params, err := scope.declareParams(sig.Params)
	if err != nil {
		return rty.PolySig{}, err
	}
	out := rty.PolySig{Params: params}
	for _, req := range sig.Requires {
		c, err := scope.decodeConstraint(req)
		if err != nil {
			return rty.PolySig{}, err
		}
		out.Sig.Requires = append(out.Sig.Requires, c)
	}
	for _, raw := range sig.Args {
		ty, err := scope.decodeType(raw)
		if err != nil {
			return rty.PolySig{}, err
		}
		out.Sig.Args = append(out.Sig.Args, ty)
	}
	if sig.Ret == nil {
		out.Sig.Ret = rty.UnitTy()
	} else {
		ty, err := scope.decodeType(sig.Ret)
		if err != nil {
			return rty.PolySig{}, err
		}
		out.Sig.Ret = ty
	}
	for _, ens := range sig.Ensures {
		c, err := scope.decodeConstraint(ens)
		if err != nil {
			return rty.PolySig{}, err
		}
		out.Sig.Ensures = append(out.Sig.Ensures, c)
	}
	return out, nil
}

// sigScope resolves names while decoding one signature and its body: the
// signature's refinement parameters are free variables, the innermost
// binder's parameters are bound variables by position.
type sigScope struct {
	ld     *loader
	free   map[string]rty.Name
	binder []string
}

func (ld *loader) newScope() *sigScope {
	return &sigScope{ld: ld, free: map[string]rty.Name{}}
}

func (s *sigScope) declareParams(params []refineParamJSON) ([]rty.RefineParam, error) {
	var out []rty.RefineParam
	for _, p := range params {
		sort, err := decodeSort(p.Sort)
		if err != nil {
			return nil, err
		}
		mode := rty.ByEVar
		switch p.Mode {
		case "", "evar":
		case "kvar":
			mode = rty.ByKVar
		default:
			return nil, errors.Errorf("unknown inference mode %q", p.Mode)
		}
		if _, ok := s.free[p.Name]; ok {
			return nil, errors.Errorf("duplicate refinement parameter %q", p.Name)
		}
		name := s.ld.fresher.Fresh()
		s.free[p.Name] = name
		out = append(out, rty.RefineParam{Name: name, Sort: sort, Mode: mode})
	}
	return out, nil
}

func (s *sigScope) resolve(name string) (rty.Expr, error) {
	for i, n := range s.binder {
		if n == name {
			return rty.BoundVar{Index: i}, nil
		}
	}
	if n, ok := s.free[name]; ok {
		return rty.Var{Name: n}, nil
	}
	return nil, errors.Errorf("unbound name %q", name)
}

func (s *sigScope) decodePath(p *pathJSON) (rty.Path, error) {
	var loc rty.Loc
	switch {
	case p.Loc != "":
		n, ok := s.free[p.Loc]
		if !ok {
			return rty.Path{}, errors.Errorf("unbound location %q", p.Loc)
		}
		loc = rty.LocFree(n)
	case p.Local != nil:
		loc = rty.LocLocal(*p.Local)
	default:
		return rty.Path{}, errors.New("path needs a loc or a local root")
	}
	return rty.Path{Loc: loc, Fields: p.Fields}, nil
}

func (s *sigScope) decodeConstraint(c constraintJSON) (rty.Constraint, error) {
	if c.Path != nil {
		path, err := s.decodePath(c.Path)
		if err != nil {
			return nil, err
		}
		ty, err := s.decodeType(c.Ty)
		if err != nil {
			return nil, err
		}
		return rty.TypeConstraint{Path: path, Ty: ty}, nil
	}
	pred, err := s.decodePred(c.Pred)
	if err != nil {
		return nil, err
	}
	return rty.PredConstraint{Pred: pred}, nil
}

type typeObjJSON struct {
	Kind    string            `json:"kind"`
	Base    json.RawMessage   `json:"base,omitempty"`
	Indices []json.RawMessage `json:"indices,omitempty"`
	Binder  *binderJSON       `json:"binder,omitempty"`
	Mut     bool              `json:"mut,omitempty"`
	Ty      json.RawMessage   `json:"ty,omitempty"`
	Path    *pathJSON         `json:"path,omitempty"`
	Elems   []json.RawMessage `json:"elems,omitempty"`
	Elem    json.RawMessage   `json:"elem,omitempty"`
	Len     int               `json:"len,omitempty"`
	Index   int               `json:"index,omitempty"`
	Name    string            `json:"name,omitempty"`
	Pred    json.RawMessage   `json:"pred,omitempty"`
}

func (s *sigScope) decodeType(raw json.RawMessage) (rty.Type, error) {
	// a bare base stands for its trivially refined form
	base, baseErr := s.decodeBase(raw)
	if baseErr == nil {
		return unrefined(base), nil
	}
	var obj typeObjJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		// not a type object either; the base error names the problem
		return nil, baseErr
	}
	switch obj.Kind {
	case "indexed":
		base, err := s.decodeBase(obj.Base)
		if err != nil {
			return nil, err
		}
		indices := make([]rty.Index, len(obj.Indices))
		for i, rawIdx := range obj.Indices {
			idx, err := s.decodeIndex(rawIdx)
			if err != nil {
				return nil, err
			}
			indices[i] = idx
		}
		return rty.Indexed{Base: base, Indices: indices}, nil
	case "exists":
		base, err := s.decodeBase(obj.Base)
		if err != nil {
			return nil, err
		}
		if obj.Binder == nil {
			return rty.ExistsHole(base), nil
		}
		binder, err := s.decodeBinder(*obj.Binder)
		if err != nil {
			return nil, err
		}
		return rty.Exists{Base: base, Binder: binder}, nil
	case "base":
		base, err := s.decodeBase(obj.Base)
		if err != nil {
			return nil, err
		}
		return unrefined(base), nil
	case "hole":
		base, err := s.decodeBase(obj.Base)
		if err != nil {
			return nil, err
		}
		return rty.ExistsHole(base), nil
	case "ref":
		inner, err := s.decodeType(obj.Ty)
		if err != nil {
			return nil, err
		}
		return rty.Ref{Kind: refKind(obj.Mut), Ty: inner}, nil
	case "ptr":
		if obj.Path == nil {
			return nil, errors.New("ptr type needs a path")
		}
		path, err := s.decodePath(obj.Path)
		if err != nil {
			return nil, err
		}
		return rty.Ptr{Kind: refKind(obj.Mut), Path: path}, nil
	case "tuple":
		elems := make([]rty.Type, len(obj.Elems))
		for i, rawElem := range obj.Elems {
			elem, err := s.decodeType(rawElem)
			if err != nil {
				return nil, err
			}
			elems[i] = elem
		}
		return rty.Tuple{Elems: elems}, nil
	case "array":
		elem, err := s.decodeType(obj.Elem)
		if err != nil {
			return nil, err
		}
		return rty.Array{Elem: elem, Len: obj.Len}, nil
	case "uninit":
		return rty.Uninit{}, nil
	case "param":
		return rty.Param{Index: obj.Index, NameHint: obj.Name}, nil
	case "constr":
		pred, err := s.decodePred(obj.Pred)
		if err != nil {
			return nil, err
		}
		inner, err := s.decodeType(obj.Ty)
		if err != nil {
			return nil, err
		}
		return rty.Constr{Pred: pred, Ty: inner}, nil
	}
	return nil, errors.Errorf("unrecognized type %s", compact(raw))
}

type baseObjJSON struct {
	Slice json.RawMessage   `json:"slice,omitempty"`
	Adt   string            `json:"adt,omitempty"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

func (s *sigScope) decodeBase(raw json.RawMessage) (rty.BaseType, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch name {
		case "int":
			return rty.IntTy{}, nil
		case "uint":
			return rty.UintTy{}, nil
		case "bool":
			return rty.BoolTy{}, nil
		case "float":
			return rty.FloatTy{}, nil
		case "char":
			return rty.CharTy{}, nil
		case "str":
			return rty.StrTy{}, nil
		}
		return nil, errors.Errorf("unknown base type %q", name)
	}
	var obj baseObjJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Slice != nil {
		elem, err := s.decodeType(obj.Slice)
		if err != nil {
			return nil, err
		}
		return rty.SliceTy{Elem: elem}, nil
	}
	if obj.Adt != "" {
		def, ok := s.ld.prog.genv.Adt(rty.DefID(obj.Adt))
		if !ok {
			return nil, errors.Errorf("undeclared type %s", obj.Adt)
		}
		args := make([]rty.Type, len(obj.Args))
		for i, rawArg := range obj.Args {
			arg, err := s.decodeType(rawArg)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		return rty.AdtTy{Def: def, Args: args}, nil
	}
	return nil, errors.Errorf("unrecognized base type %s", compact(raw))
}

func (s *sigScope) decodeIndex(raw json.RawMessage) (rty.Index, error) {
	var obj struct {
		Abs *binderJSON `json:"abs,omitempty"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Abs != nil {
		binder, err := s.decodeBinder(*obj.Abs)
		if err != nil {
			return nil, err
		}
		return rty.IdxAbs{Binder: binder}, nil
	}
	e, err := s.decodeExpr(raw)
	if err != nil {
		return nil, err
	}
	return rty.Idx(e), nil
}

func (s *sigScope) decodeBinder(b binderJSON) (rty.PredBinder, error) {
	sorts := make([]rty.Sort, len(b.Params))
	names := make([]string, len(b.Params))
	for i, p := range b.Params {
		sort, err := decodeSort(p.Sort)
		if err != nil {
			return rty.PredBinder{}, err
		}
		sorts[i] = sort
		names[i] = p.Name
	}
	// only the innermost binder's params are addressable inside it
	saved := s.binder
	s.binder = names
	defer func() { s.binder = saved }()

	if b.Pred == nil {
		return rty.HoleBinder(sorts), nil
	}
	pred, err := s.decodePred(b.Pred)
	if err != nil {
		return rty.PredBinder{}, err
	}
	return rty.BindPred(sorts, pred), nil
}

func (s *sigScope) decodePred(raw json.RawMessage) (rty.Pred, error) {
	var obj struct {
		And  []json.RawMessage `json:"and,omitempty"`
		Hole bool              `json:"hole,omitempty"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Hole {
			return rty.Hole{}, nil
		}
		if obj.And != nil {
			preds := make([]rty.Pred, len(obj.And))
			for i, rawPred := range obj.And {
				p, err := s.decodePred(rawPred)
				if err != nil {
					return nil, err
				}
				preds[i] = p
			}
			return rty.PredAnd(preds...), nil
		}
	}
	e, err := s.decodeExpr(raw)
	if err != nil {
		return nil, err
	}
	return rty.ExprPred{Expr: e}, nil
}

type exprObjJSON struct {
	Var   string            `json:"var,omitempty"`
	Int   *int64            `json:"int,omitempty"`
	Bool  *bool             `json:"bool,omitempty"`
	Str   *string           `json:"str,omitempty"`
	Unit  bool              `json:"unit,omitempty"`
	Op    string            `json:"op,omitempty"`
	LHS   json.RawMessage   `json:"lhs,omitempty"`
	RHS   json.RawMessage   `json:"rhs,omitempty"`
	Arg   json.RawMessage   `json:"arg,omitempty"`
	Tuple []json.RawMessage `json:"tuple,omitempty"`
	Proj  json.RawMessage   `json:"proj,omitempty"`
	Field json.RawMessage   `json:"field,omitempty"`
	Index int               `json:"index,omitempty"`
	Cond  json.RawMessage   `json:"cond,omitempty"`
	Then  json.RawMessage   `json:"then,omitempty"`
	Else  json.RawMessage   `json:"else,omitempty"`
	App   string            `json:"app,omitempty"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

func (s *sigScope) decodeExpr(raw json.RawMessage) (rty.Expr, error) {
	// bare literals and names keep fixture files readable
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return s.resolve(name)
	}
	var i int64
	if err := json.Unmarshal(raw, &i); err == nil {
		return rty.IntLit{Value: i}, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return rty.BoolLit{Value: b}, nil
	}

	var obj exprObjJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	switch {
	case obj.Op != "" && obj.Arg != nil:
		op, ok := unOps[obj.Op]
		if !ok {
			return nil, errors.Errorf("unknown unary operator %q", obj.Op)
		}
		operand, err := s.decodeExpr(obj.Arg)
		if err != nil {
			return nil, err
		}
		return rty.UnaryExpr{Op: op, Operand: operand}, nil
	case obj.Op != "":
		op, ok := binOps[obj.Op]
		if !ok {
			return nil, errors.Errorf("unknown operator %q", obj.Op)
		}
		lhs, err := s.decodeExpr(obj.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := s.decodeExpr(obj.RHS)
		if err != nil {
			return nil, err
		}
		return rty.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}, nil
	case obj.Var != "":
		return s.resolve(obj.Var)
	case obj.Int != nil:
		return rty.IntLit{Value: *obj.Int}, nil
	case obj.Bool != nil:
		return rty.BoolLit{Value: *obj.Bool}, nil
	case obj.Str != nil:
		return rty.StrLit{Value: *obj.Str}, nil
	case obj.Unit:
		return rty.UnitLit{}, nil
	case obj.Tuple != nil:
		elems := make([]rty.Expr, len(obj.Tuple))
		for i, rawElem := range obj.Tuple {
			e, err := s.decodeExpr(rawElem)
			if err != nil {
				return nil, err
			}
			elems[i] = e
		}
		return rty.TupleExpr{Elems: elems}, nil
	case obj.Proj != nil:
		tuple, err := s.decodeExpr(obj.Proj)
		if err != nil {
			return nil, err
		}
		return rty.TupleProj{Tuple: tuple, Index: obj.Index}, nil
	case obj.Field != nil:
		base, err := s.decodeExpr(obj.Field)
		if err != nil {
			return nil, err
		}
		return rty.PathProj{Base: base, Field: obj.Index}, nil
	case obj.Cond != nil:
		cond, err := s.decodeExpr(obj.Cond)
		if err != nil {
			return nil, err
		}
		then, err := s.decodeExpr(obj.Then)
		if err != nil {
			return nil, err
		}
		els, err := s.decodeExpr(obj.Else)
		if err != nil {
			return nil, err
		}
		return rty.IteExpr{Cond: cond, Then: then, Else: els}, nil
	case obj.App != "":
		fn, err := s.resolve(obj.App)
		if err != nil {
			return nil, err
		}
		args := make([]rty.Expr, len(obj.Args))
		for i, rawArg := range obj.Args {
			a, err := s.decodeExpr(rawArg)
			if err != nil {
				return nil, err
			}
			args[i] = a
		}
		return rty.AppExpr{Func: fn, Args: args}, nil
	}
	return nil, errors.Errorf("unrecognized expression %s", compact(raw))
}

var binOps = map[string]rty.BinOp{
	"iff": rty.Iff,
	"=>":  rty.Imp,
	"||":  rty.Or,
	"&&":  rty.And,
	"==":  rty.Eq,
	"!=":  rty.Ne,
	">":   rty.Gt,
	">=":  rty.Ge,
	"<":   rty.Lt,
	"<=":  rty.Le,
	"+":   rty.Add,
	"-":   rty.Sub,
	"*":   rty.Mul,
	"/":   rty.Div,
	"%":   rty.Mod,
}

var unOps = map[string]rty.UnOp{
	"!": rty.Not,
	"-": rty.Neg,
}

func decodeSort(raw json.RawMessage) (rty.Sort, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch name {
		case "int":
			return rty.IntSort{}, nil
		case "bool":
			return rty.BoolSort{}, nil
		case "loc":
			return rty.LocSort{}, nil
		}
		return nil, errors.Errorf("unknown sort %q", name)
	}
	var obj struct {
		Func  []json.RawMessage `json:"func,omitempty"`
		Tuple []json.RawMessage `json:"tuple,omitempty"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Func != nil {
		in, err := decodeSorts(obj.Func)
		if err != nil {
			return nil, err
		}
		return rty.FuncSort{In: in}, nil
	}
	if obj.Tuple != nil {
		elems, err := decodeSorts(obj.Tuple)
		if err != nil {
			return nil, err
		}
		return rty.TupleSort{Elems: elems}, nil
	}
	return nil, errors.Errorf("unrecognized sort %s", compact(raw))
}

func decodeSorts(raws []json.RawMessage) ([]rty.Sort, error) {
	sorts := make([]rty.Sort, len(raws))
	for i, raw := range raws {
		sort, err := decodeSort(raw)
		if err != nil {
			return nil, err
		}
		sorts[i] = sort
	}
	return sorts, nil
}

func decodeVariance(v string) (rty.Variance, error) {
	switch v {
	case "co":
		return rty.Covariant, nil
	case "in":
		return rty.Invariant, nil
	case "contra":
		return rty.Contravariant, nil
	case "bi":
		return rty.Bivariant, nil
	}
	return 0, errors.Errorf("unknown variance %q", v)
}

// unrefined is the trivially refined form of a base: existential with a true
// guard over its index sorts, or a bare indexed type when it has none.
func unrefined(base rty.BaseType) rty.Type {
	sorts := base.Sorts()
	if len(sorts) == 0 {
		return rty.Indexed{Base: base}
	}
	return rty.Exists{Base: base, Binder: rty.BindPred(sorts, rty.PredTrue)}
}

func refKind(mut bool) rty.RefKind {
	if mut {
		return rty.Mut
	}
	return rty.Shr
}

func compact(raw json.RawMessage) string {
	if len(raw) > 60 {
		return string(raw[:60]) + "..."
	}
	return string(raw)
}
