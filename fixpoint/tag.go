// Package fixpoint holds the boundary values handed to the external
// Horn-clause solver: the constraint tree of implication obligations, the
// unknown-predicate declarations, and the provenance tags each obligation
// carries for diagnostics.
package fixpoint

import (
	"fmt"

	"github.com/cottand/atoll/rty"
)

// Tag records why an obligation exists, so a failed obligation can be
// reported as the user-facing problem it corresponds to.
type Tag interface {
	fmt.Stringer
	tagNode()
}

type (
	// TagCall marks an obligation from a callee precondition or argument.
	TagCall struct{}
	// TagAssign marks an obligation from typing an assignment.
	TagAssign struct{}
	// TagRet marks the return value against the declared return type.
	TagRet struct{}
	// TagRetAt marks a declared postcondition on the location at Path.
	TagRetAt struct{ Path rty.Path }
	// TagFold marks constructor fields and the fold-back proofs owed on
	// unfolded values at returns.
	TagFold struct{}
	// TagAssert marks an assert terminator, carrying its message.
	TagAssert struct{ Msg string }
	// TagDiv and TagRem mark divisor-nonzero guards.
	TagDiv struct{}
	TagRem struct{}
	// TagGoto marks an obligation from entering a join point invariant.
	TagGoto struct{ Target int }
	// TagOverflow marks an arithmetic range guard.
	TagOverflow struct{}
	// TagOther covers obligations with no more specific provenance.
	TagOther struct{}
)

func (TagCall) String() string     { return "call" }
func (TagAssign) String() string   { return "assign" }
func (TagRet) String() string      { return "ret" }
func (t TagRetAt) String() string  { return "ret at " + t.Path.String() }
func (TagFold) String() string     { return "fold" }
func (t TagAssert) String() string { return fmt.Sprintf("assert %q", t.Msg) }
func (TagDiv) String() string      { return "division" }
func (TagRem) String() string      { return "remainder" }
func (t TagGoto) String() string   { return fmt.Sprintf("goto bb%d", t.Target) }
func (TagOverflow) String() string { return "overflow" }
func (TagOther) String() string    { return "other" }

func (TagCall) tagNode()     {}
func (TagAssign) tagNode()   {}
func (TagRet) tagNode()      {}
func (TagRetAt) tagNode()    {}
func (TagFold) tagNode()     {}
func (TagAssert) tagNode()   {}
func (TagDiv) tagNode()      {}
func (TagRem) tagNode()      {}
func (TagGoto) tagNode()     {}
func (TagOverflow) tagNode() {}
func (TagOther) tagNode()    {}

var (
	_ Tag = TagCall{}
	_ Tag = TagAssign{}
	_ Tag = TagRet{}
	_ Tag = TagRetAt{}
	_ Tag = TagFold{}
	_ Tag = TagAssert{}
	_ Tag = TagDiv{}
	_ Tag = TagRem{}
	_ Tag = TagGoto{}
	_ Tag = TagOverflow{}
	_ Tag = TagOther{}
)
