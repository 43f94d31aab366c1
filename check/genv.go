// Package check implements the symbolic checking engine: the per-procedure
// control-flow traversal with fixpoint inference at merge points, the
// symbolic heap of refinement-typed locations, and the subtyping and
// unification machinery that turns each procedure into a constraint query
// for the external solver.
package check

import (
	"github.com/cottand/atoll/internal/log"
	"github.com/cottand/atoll/rty"
)

var logger = log.DefaultLogger.With("section", "checker")

// GlobalEnv holds the declarations every procedure may reference: function
// signatures and nominal type definitions with their variance vectors. It is
// built once per session and never mutated while checking runs, so parallel
// procedure checks share it freely.
type GlobalEnv struct {
	fns  map[rty.DefID]rty.PolySig
	adts map[rty.DefID]*rty.AdtDef
}

func NewGlobalEnv() *GlobalEnv {
	return &GlobalEnv{
		fns:  map[rty.DefID]rty.PolySig{},
		adts: map[rty.DefID]*rty.AdtDef{},
	}
}

func (g *GlobalEnv) RegisterFn(id rty.DefID, sig rty.PolySig) {
	g.fns[id] = sig
}

func (g *GlobalEnv) RegisterAdt(def *rty.AdtDef) {
	g.adts[def.Name] = def
}

func (g *GlobalEnv) FnSig(id rty.DefID) (rty.PolySig, bool) {
	sig, ok := g.fns[id]
	return sig, ok
}

func (g *GlobalEnv) Adt(id rty.DefID) (*rty.AdtDef, bool) {
	def, ok := g.adts[id]
	return def, ok
}
