package ir

// DomTree holds the dominator relation of one Body, computed once per
// procedure with the usual iterative dataflow over a reverse postorder.
type DomTree struct {
	idom   []BlockID
	preds  [][]BlockID
	rpoNum []int
}

func NewDomTree(b *Body) *DomTree {
	n := len(b.Blocks)
	d := &DomTree{
		idom:   make([]BlockID, n),
		preds:  b.Predecessors(),
		rpoNum: make([]int, n),
	}
	rpo := reversePostorder(b)
	for i := range d.idom {
		d.idom[i] = NoBlock
		d.rpoNum[i] = -1
	}
	for i, id := range rpo {
		d.rpoNum[id] = i
	}

	entry := b.Entry()
	d.idom[entry] = entry
	for changed := true; changed; {
		changed = false
		for _, id := range rpo {
			if id == entry {
				continue
			}
			newIdom := NoBlock
			for _, pred := range d.preds[id] {
				if d.idom[pred] == NoBlock {
					continue
				}
				if newIdom == NoBlock {
					newIdom = pred
				} else {
					newIdom = d.intersect(pred, newIdom)
				}
			}
			if newIdom != NoBlock && d.idom[id] != newIdom {
				d.idom[id] = newIdom
				changed = true
			}
		}
	}
	return d
}

func (d *DomTree) intersect(a, b BlockID) BlockID {
	for a != b {
		for d.rpoNum[a] > d.rpoNum[b] {
			a = d.idom[a]
		}
		for d.rpoNum[b] > d.rpoNum[a] {
			b = d.idom[b]
		}
	}
	return a
}

// ImmediateDominator returns NoBlock for the entry block and for blocks
// unreachable from it.
func (d *DomTree) ImmediateDominator(id BlockID) BlockID {
	if d.idom[id] == id {
		return NoBlock
	}
	return d.idom[id]
}

func (d *DomTree) Predecessors(id BlockID) []BlockID {
	return d.preds[id]
}

// IsJoinPoint reports whether more than one edge arrives at the block, which
// is where environments must be merged or checked against an invariant.
func (d *DomTree) IsJoinPoint(id BlockID) bool {
	return len(d.preds[id]) > 1
}

func (d *DomTree) JoinPoints() []BlockID {
	var joins []BlockID
	for id := range d.preds {
		if d.IsJoinPoint(BlockID(id)) {
			joins = append(joins, BlockID(id))
		}
	}
	return joins
}

func reversePostorder(b *Body) []BlockID {
	seen := make([]bool, len(b.Blocks))
	var postorder []BlockID
	var visit func(BlockID)
	visit = func(id BlockID) {
		seen[id] = true
		for _, succ := range b.Successors(id) {
			if !seen[succ] {
				visit(succ)
			}
		}
		postorder = append(postorder, id)
	}
	visit(b.Entry())
	for i, j := 0, len(postorder)-1; i < j; i, j = i+1, j-1 {
		postorder[i], postorder[j] = postorder[j], postorder[i]
	}
	return postorder
}
