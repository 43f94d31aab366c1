package rty

import (
	"fmt"
	"strings"
)

// Type is the refinement-type union. Like every term in this package a Type
// is immutable: all operations build new values.
type Type interface {
	fmt.Stringer
	Hash() uint64
	tyNode()
}

// Indexed is a base type refined by concrete index arguments, one per sort of
// the base type.
type Indexed struct {
	Base    BaseType
	Indices []Index
}

// Exists binds the base type's indices existentially under a guard.
type Exists struct {
	Base   BaseType
	Binder PredBinder
}

type RefKind int

const (
	Shr RefKind = iota
	Mut
)

func (k RefKind) String() string {
	if k == Mut {
		return "mut"
	}
	return "shr"
}

// Ref is a reference whose referent is tracked only by type.
type Ref struct {
	Kind RefKind
	Ty   Type
}

// Ptr is a strong pointer to a known abstract path; the heap tracks the
// referent's type, so none is stored here.
type Ptr struct {
	Kind RefKind
	Path Path
}

type Tuple struct {
	Elems []Type
}

type Array struct {
	Elem Type
	Len  int
}

// Uninit is the type of a moved-out or never-written location.
type Uninit struct{}

// Param is a generic type parameter by position, pending instantiation.
type Param struct {
	Index    int
	NameHint string
}

// Constr attaches a guard predicate to a type: assumed when the type sits on
// the left of subtyping, checked when it sits on the right.
type Constr struct {
	Pred Pred
	Ty   Type
}

func (Indexed) tyNode() {}
func (Exists) tyNode()  {}
func (Ref) tyNode()     {}
func (Ptr) tyNode()     {}
func (Tuple) tyNode()   {}
func (Array) tyNode()   {}
func (Uninit) tyNode()  {}
func (Param) tyNode()   {}
func (Constr) tyNode()  {}

var (
	_ Type = Indexed{}
	_ Type = Exists{}
	_ Type = Ref{}
	_ Type = Ptr{}
	_ Type = Tuple{}
	_ Type = Array{}
	_ Type = Uninit{}
	_ Type = Param{}
	_ Type = Constr{}
)

func (t Indexed) String() string {
	if len(t.Indices) == 0 {
		return t.Base.String()
	}
	idxs := make([]string, len(t.Indices))
	for i, idx := range t.Indices {
		idxs[i] = idx.String()
	}
	return fmt.Sprintf("%s[%s]", t.Base, strings.Join(idxs, ", "))
}

func (t Exists) String() string {
	return fmt.Sprintf("{%s : %s}", t.Base, t.Binder.Pred)
}

func (t Ref) String() string {
	if t.Kind == Mut {
		return "&mut " + t.Ty.String()
	}
	return "&" + t.Ty.String()
}

func (t Ptr) String() string { return fmt.Sprintf("ptr(%s, %s)", t.Kind, t.Path) }

func (t Tuple) String() string {
	elems := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		elems[i] = e.String()
	}
	return "(" + strings.Join(elems, ", ") + ")"
}

func (t Array) String() string { return fmt.Sprintf("[%s; %d]", t.Elem, t.Len) }
func (Uninit) String() string  { return "uninit" }

func (t Param) String() string {
	if t.NameHint != "" {
		return t.NameHint
	}
	return fmt.Sprintf("T%d", t.Index)
}

func (t Constr) String() string { return fmt.Sprintf("{%s | %s}", t.Ty, t.Pred) }

func (t Indexed) Hash() uint64 {
	h := newHash(tagIndexed).with(t.Base.Hash())
	for _, idx := range t.Indices {
		h = h.with(idx.Hash())
	}
	return h.sum()
}

func (t Exists) Hash() uint64 {
	return newHash(tagExists).with(t.Base.Hash()).with(t.Binder.Hash()).sum()
}

func (t Ref) Hash() uint64 { return newHash(tagRef).with(uint64(t.Kind)).with(t.Ty.Hash()).sum() }
func (t Ptr) Hash() uint64 { return newHash(tagPtr).with(uint64(t.Kind)).with(t.Path.Hash()).sum() }

func (t Tuple) Hash() uint64 {
	h := newHash(tagTuple)
	for _, e := range t.Elems {
		h = h.with(e.Hash())
	}
	return h.sum()
}

func (t Array) Hash() uint64 {
	return newHash(tagArray).with(t.Elem.Hash()).with(uint64(t.Len)).sum()
}

func (Uninit) Hash() uint64  { return hashLeaf(tagUninit) }
func (t Param) Hash() uint64 { return newHash(tagParam).with(uint64(t.Index)).sum() }

func (t Constr) Hash() uint64 {
	return newHash(tagConstr).with(t.Pred.Hash()).with(t.Ty.Hash()).sum()
}

func TypeEq(a, b Type) bool {
	return a.Hash() == b.Hash()
}

// Index is one refinement argument of an indexed type: a plain expression, or
// a predicate abstraction for higher-sorted parameters.
type Index interface {
	fmt.Stringer
	Hash() uint64
	idxNode()
}

type IdxExpr struct {
	Expr Expr
}

type IdxAbs struct {
	Binder PredBinder
}

func (IdxExpr) idxNode() {}
func (IdxAbs) idxNode()  {}

var (
	_ Index = IdxExpr{}
	_ Index = IdxAbs{}
)

func (i IdxExpr) String() string { return i.Expr.String() }
func (i IdxAbs) String() string  { return i.Binder.String() }

func (i IdxExpr) Hash() uint64 { return newHash(tagIdxExpr).with(i.Expr.Hash()).sum() }
func (i IdxAbs) Hash() uint64  { return newHash(tagIdxAbs).with(i.Binder.Hash()).sum() }

func Idx(e Expr) Index { return IdxExpr{Expr: e} }

func IdxsOf(exprs ...Expr) []Index {
	idxs := make([]Index, len(exprs))
	for i, e := range exprs {
		idxs[i] = IdxExpr{Expr: e}
	}
	return idxs
}

// BaseType is the unrefined skeleton a refinement attaches to.
type BaseType interface {
	fmt.Stringer
	Hash() uint64
	// Sorts lists the sorts of the indices refining this base type.
	Sorts() []Sort
	btyNode()
}

type IntTy struct{}
type UintTy struct{}
type BoolTy struct{}
type FloatTy struct{}
type CharTy struct{}
type StrTy struct{}

type SliceTy struct {
	Elem Type
}

// AdtTy is a nominal declaration applied to generic arguments.
type AdtTy struct {
	Def  *AdtDef
	Args []Type
}

func (IntTy) btyNode()   {}
func (UintTy) btyNode()  {}
func (BoolTy) btyNode()  {}
func (FloatTy) btyNode() {}
func (CharTy) btyNode()  {}
func (StrTy) btyNode()   {}
func (SliceTy) btyNode() {}
func (AdtTy) btyNode()   {}

var (
	_ BaseType = IntTy{}
	_ BaseType = UintTy{}
	_ BaseType = BoolTy{}
	_ BaseType = FloatTy{}
	_ BaseType = CharTy{}
	_ BaseType = StrTy{}
	_ BaseType = SliceTy{}
	_ BaseType = AdtTy{}
)

func (IntTy) String() string   { return "int" }
func (UintTy) String() string  { return "uint" }
func (BoolTy) String() string  { return "bool" }
func (FloatTy) String() string { return "float" }
func (CharTy) String() string  { return "char" }
func (StrTy) String() string   { return "str" }

func (b SliceTy) String() string { return "[" + b.Elem.String() + "]" }

func (b AdtTy) String() string {
	if len(b.Args) == 0 {
		return string(b.Def.Name)
	}
	args := make([]string, len(b.Args))
	for i, a := range b.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s<%s>", b.Def.Name, strings.Join(args, ", "))
}

func (IntTy) Sorts() []Sort   { return []Sort{IntSort{}} }
func (UintTy) Sorts() []Sort  { return []Sort{IntSort{}} }
func (BoolTy) Sorts() []Sort  { return []Sort{BoolSort{}} }
func (FloatTy) Sorts() []Sort { return nil }
func (CharTy) Sorts() []Sort  { return nil }
func (StrTy) Sorts() []Sort   { return nil }
func (SliceTy) Sorts() []Sort { return nil }
func (b AdtTy) Sorts() []Sort { return b.Def.IdxSorts }

func (IntTy) Hash() uint64   { return hashLeaf(tagIntTy) }
func (UintTy) Hash() uint64  { return hashLeaf(tagUintTy) }
func (BoolTy) Hash() uint64  { return hashLeaf(tagBoolTy) }
func (FloatTy) Hash() uint64 { return hashLeaf(tagFloatTy) }
func (CharTy) Hash() uint64  { return hashLeaf(tagCharTy) }
func (StrTy) Hash() uint64   { return hashLeaf(tagStrTy) }

func (b SliceTy) Hash() uint64 { return newHash(tagSliceTy).with(b.Elem.Hash()).sum() }

func (b AdtTy) Hash() uint64 {
	h := newHash(tagAdtTy)
	for _, c := range []byte(b.Def.Name) {
		h = h.with(uint64(c))
	}
	for _, a := range b.Args {
		h = h.with(a.Hash())
	}
	return h.sum()
}

// Variance of a generic argument position, as declared for the nominal type.
type Variance int

const (
	Covariant Variance = iota
	Invariant
	Contravariant
	Bivariant
)

func (v Variance) String() string {
	switch v {
	case Covariant:
		return "covariant"
	case Invariant:
		return "invariant"
	case Contravariant:
		return "contravariant"
	case Bivariant:
		return "bivariant"
	}
	return fmt.Sprintf("Variance(%d)", int(v))
}

// AdtDef is a nominal type declaration. Definitions are immutable and shared;
// every AdtTy for the same declaration points at the same AdtDef.
type AdtDef struct {
	Name      DefID
	IdxSorts  []Sort
	Variances []Variance
	// Variants carry one constructor signature each: field types as
	// arguments, the indexed adt as return type.
	Variants []PolySig
}

// Convenience constructors used by the checker and all over the tests.

func IndexedOf(base BaseType, indices ...Expr) Type {
	return Indexed{Base: base, Indices: IdxsOf(indices...)}
}

// ExistsOf wraps base in an existential whose binder params follow the base
// type's sorts.
func ExistsOf(base BaseType, pred Pred) Type {
	return Exists{Base: base, Binder: BindPred(base.Sorts(), pred)}
}

// ExistsHole is the widened form of any indexed type over base.
func ExistsHole(base BaseType) Type {
	return Exists{Base: base, Binder: HoleBinder(base.Sorts())}
}

func UnitTy() Type { return Tuple{} }
