package fixpoint

import (
	"fmt"
	"strings"

	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

// Constraint is the implication tree exported for one procedure. Heads are
// the obligations; ForAll and Guard nodes reconstruct the scope and path
// condition each head lives under.
type Constraint interface {
	constraintNode()
	write(sb *strings.Builder, indent int)
}

type (
	ForAll struct {
		Name rty.Name
		Sort rty.Sort
		Body Constraint
	}
	Guard struct {
		Pred rty.Pred
		Body Constraint
	}
	Conj struct {
		Parts []Constraint
	}
	Head struct {
		Pred rty.Pred
		Tag  Tag
		Span ir.Span
	}
)

func (ForAll) constraintNode() {}
func (Guard) constraintNode()  {}
func (Conj) constraintNode()   {}
func (Head) constraintNode()   {}

var (
	_ Constraint = ForAll{}
	_ Constraint = Guard{}
	_ Constraint = Conj{}
	_ Constraint = Head{}
)

// TrueC is the trivially satisfied constraint.
var TrueC Constraint = Conj{}

func indentInto(sb *strings.Builder, indent int) {
	for range indent {
		sb.WriteString("  ")
	}
}

func (c ForAll) write(sb *strings.Builder, indent int) {
	indentInto(sb, indent)
	fmt.Fprintf(sb, "forall %s: %s .\n", c.Name, c.Sort)
	c.Body.write(sb, indent+1)
}

func (c Guard) write(sb *strings.Builder, indent int) {
	indentInto(sb, indent)
	fmt.Fprintf(sb, "%s =>\n", c.Pred)
	c.Body.write(sb, indent+1)
}

func (c Conj) write(sb *strings.Builder, indent int) {
	if len(c.Parts) == 0 {
		indentInto(sb, indent)
		sb.WriteString("true\n")
		return
	}
	for _, part := range c.Parts {
		part.write(sb, indent)
	}
}

func (c Head) write(sb *strings.Builder, indent int) {
	indentInto(sb, indent)
	fmt.Fprintf(sb, "|- %s  (%s", c.Pred, c.Tag)
	if c.Span != (ir.Span{}) {
		fmt.Fprintf(sb, " at %s", c.Span)
	}
	sb.WriteString(")\n")
}

func String(c Constraint) string {
	sb := &strings.Builder{}
	c.write(sb, 0)
	return sb.String()
}

// KVarDecl declares one unknown predicate for the solver: the sorts of its
// own arguments followed by the sorts of the scope it captured.
type KVarDecl struct {
	ID         rty.KVID
	ArgSorts   []rty.Sort
	ScopeSorts []rty.Sort
}

func (d KVarDecl) String() string {
	args := make([]string, 0, len(d.ArgSorts)+len(d.ScopeSorts))
	for _, s := range d.ArgSorts {
		args = append(args, s.String())
	}
	for _, s := range d.ScopeSorts {
		args = append(args, s.String())
	}
	return fmt.Sprintf("$k%d: (%s) -> bool", uint32(d.ID), strings.Join(args, ", "))
}

// Query is one procedure's bundle for the external solver: every unknown
// predicate the checker minted plus the full implication tree. The check
// succeeds iff the solver reports the query satisfiable.
type Query struct {
	KVars      []KVarDecl
	Constraint Constraint
}

func (q Query) String() string {
	sb := &strings.Builder{}
	for _, kv := range q.KVars {
		sb.WriteString(kv.String())
		sb.WriteString("\n")
	}
	if len(q.KVars) > 0 {
		sb.WriteString("\n")
	}
	c := q.Constraint
	if c == nil {
		// a procedure that failed before producing constraints
		c = TrueC
	}
	c.write(sb, 0)
	return sb.String()
}

// Obligation is one residual head, flattened with its provenance. Deferred
// obligations mention an unknown predicate and can only be discharged by the
// solver; the rest are locally unprovable and reported as findings.
type Obligation struct {
	Pred     rty.Pred
	Tag      Tag
	Span     ir.Span
	Deferred bool
}

func (o Obligation) String() string {
	kind := "finding"
	if o.Deferred {
		kind = "deferred"
	}
	return fmt.Sprintf("%s: %s (%s)", kind, o.Pred, o.Tag)
}
