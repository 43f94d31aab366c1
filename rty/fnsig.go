package rty

import (
	"fmt"
	"strings"
)

// InferMode says how a refinement parameter is determined when its function
// is called: by unification against the actuals, or by handing the external
// solver a fresh unknown predicate.
type InferMode int

const (
	ByEVar InferMode = iota
	ByKVar
)

func (m InferMode) String() string {
	if m == ByKVar {
		return "kvar"
	}
	return "evar"
}

// RefineParam is one bound refinement parameter of a polymorphic signature.
// Params are bound by canonical Name, never by position: instantiation is a
// substitution that must cover every param name, so the canonical names can
// never leak into a checking environment.
type RefineParam struct {
	Name Name
	Sort Sort
	Mode InferMode
}

// PolySig binds refinement parameters over a function signature; it is the
// declared form, instantiated fresh at every call site.
type PolySig struct {
	Params []RefineParam
	Sig    FnSig
}

// FnSig is a signature body: free occurrences of the enclosing PolySig's
// param names may appear anywhere in it, including requires/ensures paths
// (params of sort loc).
type FnSig struct {
	Requires []Constraint
	Args     []Type
	Ret      Type
	Ensures  []Constraint
}

// Constraint is a signature-level side condition: a pure predicate, or a
// typed heap entry keyed by abstract path.
type Constraint interface {
	fmt.Stringer
	constraintNode()
}

type PredConstraint struct {
	Pred Pred
}

type TypeConstraint struct {
	Path Path
	Ty   Type
}

func (PredConstraint) constraintNode() {}
func (TypeConstraint) constraintNode() {}

var (
	_ Constraint = PredConstraint{}
	_ Constraint = TypeConstraint{}
)

func (c PredConstraint) String() string { return c.Pred.String() }
func (c TypeConstraint) String() string { return fmt.Sprintf("%s: %s", c.Path, c.Ty) }

func (s PolySig) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = fmt.Sprintf("%s: %s (%s)", p.Name, p.Sort, p.Mode)
	}
	if len(params) == 0 {
		return s.Sig.String()
	}
	return fmt.Sprintf("for<%s> %s", strings.Join(params, ", "), s.Sig)
}

func (s FnSig) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}
	sb := &strings.Builder{}
	if len(s.Requires) > 0 {
		reqs := make([]string, len(s.Requires))
		for i, r := range s.Requires {
			reqs[i] = r.String()
		}
		fmt.Fprintf(sb, "[%s] ", strings.Join(reqs, ", "))
	}
	fmt.Fprintf(sb, "fn(%s) -> %s", strings.Join(args, ", "), s.Ret)
	if len(s.Ensures) > 0 {
		ens := make([]string, len(s.Ensures))
		for i, e := range s.Ensures {
			ens[i] = e.String()
		}
		fmt.Fprintf(sb, "; ensures %s", strings.Join(ens, ", "))
	}
	return sb.String()
}
