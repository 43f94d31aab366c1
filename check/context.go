package check

import (
	"slices"

	"github.com/hashicorp/go-set/v3"
	"github.com/pkg/errors"

	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
)

// ConstraintTree is the symbolic context of one procedure: a tree whose
// paths record the bound variables and assumed predicates in scope, and
// whose head leaves are the obligations collected along each path. The
// whole tree exports into the solver query at the end of the checking pass.
type ConstraintTree struct {
	root    *node
	fresher *rty.Fresher
}

type nodeKind int

const (
	conjNode nodeKind = iota
	forAllNode
	guardNode
	headNode
)

type node struct {
	kind     nodeKind
	name     rty.Name
	sort     rty.Sort
	pred     rty.Pred
	tag      fixpoint.Tag
	span     ir.Span
	parent   *node
	children []*node
	grafted  bool
}

func (n *node) newChild(child *node) *node {
	child.parent = n
	child.grafted = true
	n.children = append(n.children, child)
	return child
}

func NewConstraintTree(fresher *rty.Fresher) *ConstraintTree {
	return &ConstraintTree{
		root:    &node{kind: conjNode, grafted: true},
		fresher: fresher,
	}
}

// Root returns a cursor at the top of the tree.
func (t *ConstraintTree) Root() RefineCtx {
	return RefineCtx{tree: t, ptr: t.root}
}

// At rebuilds a cursor from a snapshot.
func (t *ConstraintTree) At(snap Snapshot) RefineCtx {
	return RefineCtx{tree: t, ptr: snap.at}
}

// RefineCtx is a cursor into the constraint tree. Pushing bindings and
// assumptions moves the cursor down; obligations attach as leaves without
// moving it. Copies of a cursor are independent positions into the same
// shared tree.
type RefineCtx struct {
	tree  *ConstraintTree
	ptr   *node
	crumb *node
}

// PushBinding introduces a fresh variable of the given sort and returns its
// name for use in the caller's terms.
func (rcx *RefineCtx) PushBinding(sort rty.Sort) rty.Name {
	name := rcx.tree.fresher.Fresh()
	rcx.ptr = rcx.ptr.newChild(&node{kind: forAllNode, name: name, sort: sort})
	return name
}

func (rcx *RefineCtx) PushBindings(sorts []rty.Sort) []rty.Name {
	names := make([]rty.Name, len(sorts))
	for i, sort := range sorts {
		names[i] = rcx.PushBinding(sort)
	}
	return names
}

// FreshName mints a name without binding it in the context; abstract heap
// locations use these.
func (rcx *RefineCtx) FreshName() rty.Name {
	return rcx.tree.fresher.Fresh()
}

// Assume extends the path condition unconditionally.
func (rcx *RefineCtx) Assume(pred rty.Pred) {
	if rty.IsTrue(pred) {
		return
	}
	rcx.ptr = rcx.ptr.newChild(&node{kind: guardNode, pred: pred})
}

// Check records the obligation that pred is implied by the path condition at
// the cursor. Obligations accumulate; nothing is decided here.
func (rcx *RefineCtx) Check(pred rty.Pred, tag fixpoint.Tag, span ir.Span) {
	if rty.IsTrue(pred) {
		return
	}
	rcx.ptr.newChild(&node{kind: headNode, pred: pred, tag: tag, span: span})
}

// Breadcrumb opens a child context. The child reads every binding and
// assumption on the cursor's path, but whatever it adds stays detached from
// the tree: dropping the child discards it all, Promote grafts it in.
func (rcx *RefineCtx) Breadcrumb() RefineCtx {
	crumb := &node{kind: conjNode, parent: rcx.ptr}
	return RefineCtx{tree: rcx.tree, ptr: crumb, crumb: crumb}
}

// Promote grafts this breadcrumb's subtree into the parent context. Calling
// it on a cursor that is not a breadcrumb, or a second time, does nothing.
func (rcx *RefineCtx) Promote() {
	if rcx.crumb == nil || rcx.crumb.grafted {
		return
	}
	rcx.crumb.grafted = true
	rcx.crumb.parent.children = append(rcx.crumb.parent.children, rcx.crumb)
}

// Snapshot captures the cursor position so a join point can be re-entered
// with exactly the bindings and path condition that were visible here.
type Snapshot struct {
	at *node
}

func (rcx *RefineCtx) Snapshot() Snapshot {
	return Snapshot{at: rcx.ptr}
}

// Clear discards everything recorded under the cursor, for re-entering a
// join point whose previous subtree went stale.
func (rcx *RefineCtx) Clear() {
	rcx.ptr.children = nil
}

// Scope reconstructs the ordered bindings visible at a snapshot.
func (s Snapshot) Scope() Scope {
	return scopeAt(s.at)
}

func (rcx *RefineCtx) Scope() Scope {
	return scopeAt(rcx.ptr)
}

func scopeAt(n *node) Scope {
	var names []rty.Name
	var sorts []rty.Sort
	for cur := n; cur != nil; cur = cur.parent {
		if cur.kind == forAllNode {
			names = append(names, cur.name)
			sorts = append(sorts, cur.sort)
		}
	}
	slices.Reverse(names)
	slices.Reverse(sorts)
	return Scope{names: names, sorts: sorts, set: set.From(names)}
}

// Scope is the ordered (variable, sort) sequence visible at one point of the
// context, with constant-time membership.
type Scope struct {
	names []rty.Name
	sorts []rty.Sort
	set   *set.Set[rty.Name]
}

func (s Scope) Len() int          { return len(s.names) }
func (s Scope) Names() []rty.Name { return s.names }
func (s Scope) Sorts() []rty.Sort { return s.sorts }

func (s Scope) Vars() []rty.Expr {
	vars := make([]rty.Expr, len(s.names))
	for i, n := range s.names {
		vars[i] = rty.Var{Name: n}
	}
	return vars
}

func (s Scope) Contains(n rty.Name) bool {
	return s.set.Contains(n)
}

// ContainsAll reports whether every name in vars is visible in this scope.
func (s Scope) ContainsAll(vars *set.Set[rty.Name]) bool {
	return s.set.Subset(vars)
}

// applyEVarSol rewrites every predicate under n with a popped existential
// solution, so exported obligations never mention solved variables.
func applyEVarSol(n *node, sol rty.EVarSol) {
	if sol.IsEmpty() {
		return
	}
	if n.kind == guardNode || n.kind == headNode {
		n.pred = rty.SubstEVarsPred(n.pred, sol)
	}
	for _, child := range n.children {
		applyEVarSol(child, sol)
	}
}

// Export lowers the tree into the solver's constraint form. A hole reaching
// export means the checking pass failed to generalize it first; that is a
// bug, not a user error.
func (t *ConstraintTree) Export() (fixpoint.Constraint, error) {
	return exportNode(t.root)
}

func exportNode(n *node) (fixpoint.Constraint, error) {
	parts := make([]fixpoint.Constraint, 0, len(n.children))
	for _, child := range n.children {
		part, err := exportNode(child)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	var body fixpoint.Constraint
	if len(parts) == 1 {
		body = parts[0]
	} else {
		body = fixpoint.Conj{Parts: parts}
	}
	switch n.kind {
	case conjNode:
		return body, nil
	case forAllNode:
		return fixpoint.ForAll{Name: n.name, Sort: n.sort, Body: body}, nil
	case guardNode:
		if rty.PredHasHoles(n.pred) {
			return nil, errors.Errorf("hole escaped into exported assumption %v", n.pred)
		}
		return fixpoint.Guard{Pred: n.pred, Body: body}, nil
	case headNode:
		if rty.PredHasHoles(n.pred) {
			return nil, errors.Errorf("hole escaped into exported obligation %v", n.pred)
		}
		return fixpoint.Head{Pred: n.pred, Tag: n.tag, Span: n.span}, nil
	}
	return nil, errors.Errorf("constraint tree node with unknown kind %d", n.kind)
}
