package rty

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"
)

// Subst maps free names to their replacements. Loc entries rewrite strong
// pointer paths whose root is a free location; a name may appear in either
// map, never both.
type Subst struct {
	Exprs map[Name]Expr
	Paths map[Name]Path
}

func NewSubst() *Subst {
	return &Subst{Exprs: map[Name]Expr{}, Paths: map[Name]Path{}}
}

func (s *Subst) BindExpr(n Name, e Expr) { s.Exprs[n] = e }
func (s *Subst) BindPath(n Name, p Path) { s.Paths[n] = p }

// ApplyToPath rewrites the path root if it is a substituted free location;
// projections of the substituted path come first.
func (s *Subst) ApplyToPath(p Path) Path {
	if p.Loc.Kind != FreeKind {
		return p
	}
	repl, ok := s.Paths[p.Loc.Name]
	if !ok {
		return p
	}
	fields := make([]int, 0, len(repl.Fields)+len(p.Fields))
	fields = append(fields, repl.Fields...)
	fields = append(fields, p.Fields...)
	return Path{Loc: repl.Loc, Fields: fields}
}

type substFolder struct {
	sub *Subst
}

func (f substFolder) FoldType(t Type) Type {
	if ptr, ok := t.(Ptr); ok {
		return Ptr{Kind: ptr.Kind, Path: f.sub.ApplyToPath(ptr.Path)}
	}
	return SuperFoldType(f, t)
}

func (f substFolder) FoldExpr(e Expr) Expr {
	if v, ok := e.(Var); ok {
		if repl, ok := f.sub.Exprs[v.Name]; ok {
			return repl
		}
	}
	return SuperFoldExpr(f, e)
}

func (f substFolder) FoldPred(p Pred) Pred               { return SuperFoldPred(f, p) }
func (f substFolder) FoldBinder(b PredBinder) PredBinder { return SuperFoldBinder(f, b) }

func SubstFreeType(t Type, sub *Subst) Type { return substFolder{sub}.FoldType(t) }
func SubstFreeExpr(e Expr, sub *Subst) Expr { return substFolder{sub}.FoldExpr(e) }
func SubstFreePred(p Pred, sub *Subst) Pred { return substFolder{sub}.FoldPred(p) }

func SubstFreeConstraint(c Constraint, sub *Subst) Constraint {
	switch c := c.(type) {
	case PredConstraint:
		return PredConstraint{Pred: SubstFreePred(c.Pred, sub)}
	case TypeConstraint:
		return TypeConstraint{Path: sub.ApplyToPath(c.Path), Ty: SubstFreeType(c.Ty, sub)}
	}
	panic(fmt.Sprintf("SubstFreeConstraint: unhandled constraint %T", c))
}

type evarFolder struct {
	sol EVarSol
}

func (f evarFolder) FoldType(t Type) Type               { return SuperFoldType(f, t) }
func (f evarFolder) FoldPred(p Pred) Pred               { return SuperFoldPred(f, p) }
func (f evarFolder) FoldBinder(b PredBinder) PredBinder { return SuperFoldBinder(f, b) }

func (f evarFolder) FoldExpr(e Expr) Expr {
	if ev, ok := e.(EVar); ok {
		if repl, ok := f.sol.Get(ev); ok {
			// solutions may themselves mention earlier evars
			return f.FoldExpr(repl)
		}
	}
	return SuperFoldExpr(f, e)
}

func SubstEVarsType(t Type, sol EVarSol) Type {
	if sol.IsEmpty() {
		return t
	}
	return evarFolder{sol}.FoldType(t)
}

func SubstEVarsExpr(e Expr, sol EVarSol) Expr {
	if sol.IsEmpty() {
		return e
	}
	return evarFolder{sol}.FoldExpr(e)
}

func SubstEVarsPred(p Pred, sol EVarSol) Pred {
	if sol.IsEmpty() {
		return p
	}
	return evarFolder{sol}.FoldPred(p)
}

func SubstEVarsConstraint(c Constraint, sol EVarSol) Constraint {
	switch c := c.(type) {
	case PredConstraint:
		return PredConstraint{Pred: SubstEVarsPred(c.Pred, sol)}
	case TypeConstraint:
		return TypeConstraint{Path: c.Path, Ty: SubstEVarsType(c.Ty, sol)}
	}
	panic(fmt.Sprintf("SubstEVarsConstraint: unhandled constraint %T", c))
}

// SubstBound opens a binder, replacing each bound variable with the matching
// argument expression. Guards hold no nested binders, so positions can never
// be captured.
func SubstBound(b PredBinder, args ...Expr) Pred {
	if len(args) != len(b.Params) {
		panic(fmt.Sprintf("SubstBound: %d args for %d binder params", len(args), len(b.Params)))
	}
	return boundFolder{args: args}.FoldPred(b.Pred)
}

type boundFolder struct {
	args []Expr
}

func (f boundFolder) FoldType(t Type) Type { return SuperFoldType(f, t) }
func (f boundFolder) FoldPred(p Pred) Pred { return SuperFoldPred(f, p) }

func (f boundFolder) FoldExpr(e Expr) Expr {
	if bv, ok := e.(BoundVar); ok {
		if bv.Index < 0 || bv.Index >= len(f.args) {
			panic(fmt.Sprintf("SubstBound: bound var %d out of range", bv.Index))
		}
		return f.args[bv.Index]
	}
	return SuperFoldExpr(f, e)
}

func (f boundFolder) FoldBinder(b PredBinder) PredBinder {
	// a binder reached from here belongs to a nested type, whose bound
	// variables are its own
	return b
}

// ReplaceHoles rebuilds t with every hole predicate replaced by mk applied to
// the sorts of the binder the hole sits under.
func ReplaceHoles(t Type, mk func(params []Sort) Pred) Type {
	f := &holeFolder{mk: mk}
	return f.FoldType(t)
}

type holeFolder struct {
	mk     func([]Sort) Pred
	params []Sort
}

func (f *holeFolder) FoldType(t Type) Type { return SuperFoldType(f, t) }
func (f *holeFolder) FoldExpr(e Expr) Expr { return SuperFoldExpr(f, e) }

func (f *holeFolder) FoldPred(p Pred) Pred {
	if _, ok := p.(Hole); ok {
		return f.mk(f.params)
	}
	return SuperFoldPred(f, p)
}

func (f *holeFolder) FoldBinder(b PredBinder) PredBinder {
	saved := f.params
	f.params = b.Params
	folded := SuperFoldBinder(f, b)
	f.params = saved
	return folded
}

// WithHoles forgets every refinement, widening indexed types to existentials
// guarded by holes and dropping constraint guards. The result is a shape.
func WithHoles(t Type) Type {
	return withHolesFolder{}.FoldType(t)
}

type withHolesFolder struct{}

func (f withHolesFolder) FoldType(t Type) Type {
	switch t := t.(type) {
	case Indexed:
		return Exists{Base: superFoldBaseType(f, t.Base), Binder: HoleBinder(t.Base.Sorts())}
	case Exists:
		return Exists{Base: superFoldBaseType(f, t.Base), Binder: HoleBinder(t.Base.Sorts())}
	case Constr:
		return f.FoldType(t.Ty)
	}
	return SuperFoldType(f, t)
}

func (f withHolesFolder) FoldExpr(e Expr) Expr               { return SuperFoldExpr(f, e) }
func (f withHolesFolder) FoldPred(p Pred) Pred               { return SuperFoldPred(f, p) }
func (f withHolesFolder) FoldBinder(b PredBinder) PredBinder { return SuperFoldBinder(f, b) }

// ReplaceGenerics substitutes generic type parameters by position.
func ReplaceGenerics(t Type, args []Type) Type {
	return genericsFolder{args: args}.FoldType(t)
}

type genericsFolder struct {
	args []Type
}

func (f genericsFolder) FoldType(t Type) Type {
	if p, ok := t.(Param); ok {
		if p.Index < 0 || p.Index >= len(f.args) {
			panic(fmt.Sprintf("ReplaceGenerics: param %d out of range", p.Index))
		}
		return f.args[p.Index]
	}
	return SuperFoldType(f, t)
}

func (f genericsFolder) FoldExpr(e Expr) Expr               { return SuperFoldExpr(f, e) }
func (f genericsFolder) FoldPred(p Pred) Pred               { return SuperFoldPred(f, p) }
func (f genericsFolder) FoldBinder(b PredBinder) PredBinder { return SuperFoldBinder(f, b) }

// Free variable collection.

type freeVarVisitor struct {
	vars *set.Set[Name]
}

func (v freeVarVisitor) VisitType(t Type) { SuperVisitType(v, t) }
func (v freeVarVisitor) VisitPred(p Pred) { SuperVisitPred(v, p) }

func (v freeVarVisitor) VisitExpr(e Expr) {
	if fv, ok := e.(Var); ok {
		v.vars.Insert(fv.Name)
		return
	}
	SuperVisitExpr(v, e)
}

func (v freeVarVisitor) VisitBinder(b PredBinder) { SuperVisitBinder(v, b) }

func FreeVarsOfType(t Type) *set.Set[Name] {
	vars := set.New[Name](4)
	v := freeVarVisitor{vars: vars}
	v.VisitType(t)
	// strong pointers reference their path root as a free location
	collectPtrLocs(t, vars)
	return vars
}

func FreeVarsOfExpr(e Expr) *set.Set[Name] {
	vars := set.New[Name](4)
	freeVarVisitor{vars: vars}.VisitExpr(e)
	return vars
}

func FreeVarsOfPred(p Pred) *set.Set[Name] {
	vars := set.New[Name](4)
	freeVarVisitor{vars: vars}.VisitPred(p)
	return vars
}

type ptrLocVisitor struct {
	vars *set.Set[Name]
}

func (v ptrLocVisitor) VisitType(t Type) {
	if ptr, ok := t.(Ptr); ok {
		if ptr.Path.Loc.Kind == FreeKind {
			v.vars.Insert(ptr.Path.Loc.Name)
		}
		return
	}
	SuperVisitType(v, t)
}

func (v ptrLocVisitor) VisitExpr(Expr)         {}
func (v ptrLocVisitor) VisitPred(Pred)         {}
func (v ptrLocVisitor) VisitBinder(PredBinder) {}

func collectPtrLocs(t Type, vars *set.Set[Name]) {
	ptrLocVisitor{vars: vars}.VisitType(t)
}

type evarVisitor struct {
	evars []EVar
}

func (v *evarVisitor) VisitType(t Type)         { SuperVisitType(v, t) }
func (v *evarVisitor) VisitPred(p Pred)         { SuperVisitPred(v, p) }
func (v *evarVisitor) VisitBinder(b PredBinder) { SuperVisitBinder(v, b) }

func (v *evarVisitor) VisitExpr(e Expr) {
	if ev, ok := e.(EVar); ok {
		v.evars = append(v.evars, ev)
		return
	}
	SuperVisitExpr(v, e)
}

// FreeEVarsOfExpr lists the existential variables occurring in e.
func FreeEVarsOfExpr(e Expr) []EVar {
	v := &evarVisitor{}
	v.VisitExpr(e)
	return v.evars
}

// HasHoles reports whether any hole predicate remains in t. Obligations must
// never mention one.
func HasHoles(t Type) bool {
	v := &holeVisitor{}
	v.VisitType(t)
	return v.found
}

func PredHasHoles(p Pred) bool {
	v := &holeVisitor{}
	v.VisitPred(p)
	return v.found
}

type holeVisitor struct {
	found bool
}

func (v *holeVisitor) VisitType(t Type) { SuperVisitType(v, t) }
func (v *holeVisitor) VisitExpr(e Expr) { SuperVisitExpr(v, e) }

func (v *holeVisitor) VisitPred(p Pred) {
	if _, ok := p.(Hole); ok {
		v.found = true
		return
	}
	SuperVisitPred(v, p)
}

func (v *holeVisitor) VisitBinder(b PredBinder) { SuperVisitBinder(v, b) }
