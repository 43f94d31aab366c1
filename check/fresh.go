package check

import (
	"github.com/cottand/atoll/fixpoint"
	"github.com/cottand/atoll/rty"
)

// KVarGen allocates unknown predicates and remembers their declarations for
// the exported query. One generator per procedure; ids are deterministic in
// allocation order.
type KVarGen struct {
	count uint32
	decls []fixpoint.KVarDecl
}

func NewKVarGen() *KVarGen {
	return &KVarGen{}
}

// Fresh mints an unknown predicate over argument positions of the given
// sorts, capturing every variable of scope. The returned KVar's arguments
// are bound variables, ready to sit under a binder of exactly argSorts.
func (g *KVarGen) Fresh(argSorts []rty.Sort, scope Scope) rty.KVar {
	id := rty.KVID(g.count)
	g.count++
	g.decls = append(g.decls, fixpoint.KVarDecl{
		ID:         id,
		ArgSorts:   argSorts,
		ScopeSorts: scope.Sorts(),
	})
	args := make([]rty.Expr, len(argSorts))
	for i := range args {
		args[i] = rty.BoundVar{Index: i}
	}
	return rty.KVar{ID: id, Args: args, Scope: scope.Vars()}
}

// FreshBinder wraps Fresh into a predicate binder over argSorts, the form
// hole replacement wants.
func (g *KVarGen) FreshBinder(argSorts []rty.Sort, scope Scope) rty.PredBinder {
	return rty.BindPred(argSorts, g.Fresh(argSorts, scope))
}

func (g *KVarGen) Decls() []fixpoint.KVarDecl {
	return g.decls
}
