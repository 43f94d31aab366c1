package check

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"

	"github.com/cottand/atoll/ir"
	"github.com/cottand/atoll/rty"
	"github.com/cottand/atoll/util"
)

// Binding is the state of one abstract location: its current refinement type
// and whether it is lent out to a mutable borrow.
type Binding struct {
	Ty      rty.Type
	Blocked bool
}

type locComparer struct{}

func (locComparer) Compare(a, b rty.Loc) int { return a.Compare(b) }

// TypeEnv is the symbolic heap: abstract locations mapped to bindings. The
// backing map is persistent, so cloning an environment along a CFG edge is a
// pointer copy.
type TypeEnv struct {
	bindings *immutable.SortedMap[rty.Loc, Binding]
}

func NewTypeEnv() *TypeEnv {
	return &TypeEnv{bindings: immutable.NewSortedMap[rty.Loc, Binding](locComparer{})}
}

func (env *TypeEnv) Clone() *TypeEnv {
	return &TypeEnv{bindings: env.bindings}
}

func (env *TypeEnv) Define(loc rty.Loc, ty rty.Type) {
	env.bindings = env.bindings.Set(loc, Binding{Ty: ty})
}

func (env *TypeEnv) Len() int { return env.bindings.Len() }

// All iterates bindings in location order.
func (env *TypeEnv) All() iter.Seq2[rty.Loc, Binding] {
	return func(yield func(rty.Loc, Binding) bool) {
		itr := env.bindings.Iterator()
		for !itr.Done() {
			loc, b, _ := itr.Next()
			if !yield(loc, b) {
				return
			}
		}
	}
}

func (env *TypeEnv) Locs() iter.Seq[rty.Loc] {
	return func(yield func(rty.Loc) bool) {
		for loc := range env.All() {
			if !yield(loc) {
				return
			}
		}
	}
}

func (env *TypeEnv) Get(loc rty.Loc) (Binding, bool) {
	return env.bindings.Get(loc)
}

// Hash folds every binding so environment change detection is one integer
// comparison. Identical hashes are treated as structural equality, the same
// convention the term model uses.
func (env *TypeEnv) Hash() uint64 {
	h := uint64(14695981039346656037)
	mix := func(v uint64) {
		h ^= v
		h *= 1099511628211
	}
	for loc, b := range env.All() {
		mix(loc.Hash())
		mix(b.Ty.Hash())
		if b.Blocked {
			mix(1)
		} else {
			mix(0)
		}
	}
	return h
}

func (env *TypeEnv) String() string {
	sb := &strings.Builder{}
	sb.WriteString("{")
	first := true
	for loc, b := range env.All() {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(sb, "%s: %s", loc, b.Ty)
		if b.Blocked {
			sb.WriteString(" [blocked]")
		}
	}
	sb.WriteString("}")
	return sb.String()
}

// errRefDeref means a place dereferences a plain reference, which has no
// stable location: reads are fine, strong updates are not.
var errRefDeref = errors.New("cannot resolve a place through a reference")

// uninitReadError reports a read of a moved or never-initialized place. The
// checker wraps it with a source span; everything else the heap returns is
// an internal error.
type uninitReadError struct {
	place ir.Place
}

func (e uninitReadError) Error() string {
	return fmt.Sprintf("read of uninitialized place %s", e.place)
}

func isUninit(ty rty.Type) bool {
	_, ok := ty.(rty.Uninit)
	return ok
}

// resolvePlace walks a place down to an abstract path, following derefs
// through strong pointers. It refuses to resolve through plain references:
// those have no stable location and only support weak reads.
func (env *TypeEnv) resolvePlace(place ir.Place) (rty.Path, error) {
	loc := rty.LocLocal(int(place.Local))
	var fields []int
	for _, elem := range place.Projection {
		switch elem := elem.(type) {
		case ir.Field:
			fields = append(fields, int(elem))
		case ir.Deref:
			b, ok := env.Get(loc)
			if !ok {
				return rty.Path{}, errors.Errorf("deref through unbound location %s", loc)
			}
			ty, err := typeAt(b.Ty, fields)
			if err != nil {
				return rty.Path{}, err
			}
			ptr, ok := ty.(rty.Ptr)
			if !ok {
				if _, isRef := ty.(rty.Ref); isRef {
					return rty.Path{}, errors.Wrapf(errRefDeref, "at %s", place)
				}
				return rty.Path{}, errors.Errorf("deref of non-pointer %s in %s", ty, place)
			}
			loc = ptr.Path.Loc
			fields = slices.Clone(ptr.Path.Fields)
		default:
			return rty.Path{}, errors.Errorf("unknown place element %T", elem)
		}
	}
	return rty.Path{Loc: loc, Fields: fields}, nil
}

func typeAt(ty rty.Type, fields []int) (rty.Type, error) {
	for _, f := range fields {
		tup, ok := ty.(rty.Tuple)
		if !ok {
			return nil, errors.Errorf("field projection .%d into non-tuple %s", f, ty)
		}
		if f >= len(tup.Elems) {
			return nil, errors.Errorf("field projection .%d out of bounds in %s", f, ty)
		}
		ty = tup.Elems[f]
	}
	return ty, nil
}

func typeWithAt(ty rty.Type, fields []int, newTy rty.Type) (rty.Type, error) {
	if len(fields) == 0 {
		return newTy, nil
	}
	tup, ok := ty.(rty.Tuple)
	if !ok {
		return nil, errors.Errorf("field projection .%d into non-tuple %s", fields[0], ty)
	}
	if fields[0] >= len(tup.Elems) {
		return nil, errors.Errorf("field projection .%d out of bounds in %s", fields[0], ty)
	}
	elems := slices.Clone(tup.Elems)
	inner, err := typeWithAt(elems[fields[0]], fields[1:], newTy)
	if err != nil {
		return nil, err
	}
	elems[fields[0]] = inner
	return rty.Tuple{Elems: elems}, nil
}

// Lookup reads the type at a place without consuming it. Derefs follow
// strong pointers into the heap and plain references into their referent.
func (env *TypeEnv) Lookup(place ir.Place) (rty.Type, error) {
	loc := rty.LocLocal(int(place.Local))
	b, ok := env.Get(loc)
	if !ok {
		return nil, errors.Errorf("lookup of unbound location %s", loc)
	}
	ty := b.Ty
	var err error
	for i, elem := range place.Projection {
		switch elem := elem.(type) {
		case ir.Field:
			if ty, err = typeAt(ty, []int{int(elem)}); err != nil {
				return nil, err
			}
		case ir.Deref:
			switch inner := ty.(type) {
			case rty.Ptr:
				if ty, err = env.LookupPath(inner.Path); err != nil {
					return nil, err
				}
			case rty.Ref:
				ty = inner.Ty
			default:
				return nil, errors.Errorf("deref of non-pointer %s in %s", ty, place)
			}
		default:
			return nil, errors.Errorf("unknown place element %T at %s[%d]", elem, place, i)
		}
	}
	if isUninit(ty) {
		return nil, uninitReadError{place: place}
	}
	return ty, nil
}

// LookupPath reads the type at an already-resolved abstract path.
func (env *TypeEnv) LookupPath(path rty.Path) (rty.Type, error) {
	b, ok := env.Get(path.Loc)
	if !ok {
		return nil, errors.Errorf("lookup of unbound location %s", path.Loc)
	}
	return typeAt(b.Ty, path.Fields)
}

// WritePlace strongly updates the type at a place. For compound places only
// the projected component is replaced; siblings stay intact.
func (env *TypeEnv) WritePlace(place ir.Place, ty rty.Type) error {
	path, err := env.resolvePlace(place)
	if err != nil {
		return err
	}
	return env.WriteAtPath(path, ty)
}

func (env *TypeEnv) WriteAtPath(path rty.Path, ty rty.Type) error {
	b, ok := env.Get(path.Loc)
	if !ok {
		return errors.Errorf("write to unbound location %s", path.Loc)
	}
	if b.Blocked {
		return errors.Errorf("strong update of blocked location %s", path.Loc)
	}
	newTy, err := typeWithAt(b.Ty, path.Fields, ty)
	if err != nil {
		return err
	}
	env.bindings = env.bindings.Set(path.Loc, Binding{Ty: newTy})
	return nil
}

// writeAtPathForced updates even a blocked location. Only the engine's own
// pointer-weakening writes use it; user assignments go through WriteAtPath.
func (env *TypeEnv) writeAtPathForced(path rty.Path, ty rty.Type) error {
	b, ok := env.Get(path.Loc)
	if !ok {
		return errors.Errorf("write to unbound location %s", path.Loc)
	}
	newTy, err := typeWithAt(b.Ty, path.Fields, ty)
	if err != nil {
		return err
	}
	env.bindings = env.bindings.Set(path.Loc, Binding{Ty: newTy, Blocked: b.Blocked})
	return nil
}

// MovePlace reads a place and leaves it uninitialized. Reading it again
// before a redefining write is a use-after-move.
func (env *TypeEnv) MovePlace(place ir.Place) (rty.Type, error) {
	path, err := env.resolvePlace(place)
	if err != nil {
		return nil, err
	}
	b, ok := env.Get(path.Loc)
	if !ok {
		return nil, errors.Errorf("move out of unbound location %s", path.Loc)
	}
	if b.Blocked {
		return nil, errors.Errorf("move out of blocked location %s", path.Loc)
	}
	ty, err := typeAt(b.Ty, path.Fields)
	if err != nil {
		return nil, err
	}
	if isUninit(ty) {
		return nil, uninitReadError{place: place}
	}
	newTy, err := typeWithAt(b.Ty, path.Fields, rty.Uninit{})
	if err != nil {
		return nil, err
	}
	env.bindings = env.bindings.Set(path.Loc, Binding{Ty: newTy, Blocked: b.Blocked})
	return ty, nil
}

// Borrow lends out a place. A mutable borrow blocks the root location until
// the borrow's last use rejoins; shared borrows are read-only views and do
// not prevent later strong updates.
func (env *TypeEnv) Borrow(kind rty.RefKind, place ir.Place) (rty.Path, rty.Type, error) {
	path, err := env.resolvePlace(place)
	if err != nil {
		return rty.Path{}, nil, err
	}
	b, ok := env.Get(path.Loc)
	if !ok {
		return rty.Path{}, nil, errors.Errorf("borrow of unbound location %s", path.Loc)
	}
	ty, err := typeAt(b.Ty, path.Fields)
	if err != nil {
		return rty.Path{}, nil, err
	}
	if isUninit(ty) {
		return rty.Path{}, nil, uninitReadError{place: place}
	}
	if kind == rty.Mut {
		if b.Blocked {
			return rty.Path{}, nil, errors.Errorf("mutable borrow of blocked location %s", path.Loc)
		}
		env.Block(path.Loc)
	}
	return path, ty, nil
}

func (env *TypeEnv) Block(loc rty.Loc) {
	if b, ok := env.Get(loc); ok {
		env.bindings = env.bindings.Set(loc, Binding{Ty: b.Ty, Blocked: true})
	}
}

func (env *TypeEnv) Unblock(loc rty.Loc) {
	if b, ok := env.Get(loc); ok {
		env.bindings = env.bindings.Set(loc, Binding{Ty: b.Ty, Blocked: false})
	}
}

// SubstEVars rewrites every binding with a popped existential solution.
func (env *TypeEnv) SubstEVars(sol rty.EVarSol) {
	if sol.IsEmpty() {
		return
	}
	next := env.bindings
	for loc, b := range env.All() {
		next = next.Set(loc, Binding{Ty: rty.SubstEVarsType(b.Ty, sol), Blocked: b.Blocked})
	}
	env.bindings = next
}

// Join mutates env into the least general environment consistent with both
// sides, widening to hole existentials where they disagree, and reports
// whether env changed. Locations missing on either side count as
// uninitialized there.
func (env *TypeEnv) Join(other *TypeEnv) (bool, error) {
	before := env.Hash()
	locSet := util.SetFromSeq(util.ConcatIter(env.Locs(), other.Locs()), env.Len()+other.Len())
	locs := locSet.Slice()
	slices.SortFunc(locs, func(a, b rty.Loc) int { return a.Compare(b) })

	j := joiner{left: env, right: other}
	next := immutable.NewSortedMap[rty.Loc, Binding](locComparer{})
	for _, loc := range locs {
		b1, ok1 := env.Get(loc)
		if !ok1 {
			b1 = Binding{Ty: rty.Uninit{}}
		}
		b2, ok2 := other.Get(loc)
		if !ok2 {
			b2 = Binding{Ty: rty.Uninit{}}
		}
		ty, err := j.join(b1.Ty, b2.Ty)
		if err != nil {
			return false, errors.Wrapf(err, "joining %s", loc)
		}
		next = next.Set(loc, Binding{Ty: ty, Blocked: b1.Blocked || b2.Blocked})
	}
	env.bindings = next
	return env.Hash() != before, nil
}

type joiner struct {
	left, right *TypeEnv
}

func (j joiner) join(t1, t2 rty.Type) (rty.Type, error) {
	if rty.TypeEq(t1, t2) {
		return t1, nil
	}
	if isUninit(t1) || isUninit(t2) {
		return rty.Uninit{}, nil
	}
	if c, ok := t1.(rty.Constr); ok {
		return j.join(c.Ty, t2)
	}
	if c, ok := t2.(rty.Constr); ok {
		return j.join(t1, c.Ty)
	}

	switch t1 := t1.(type) {
	case rty.Indexed:
		switch t2 := t2.(type) {
		case rty.Indexed:
			base, err := j.joinBase(t1.Base, t2.Base)
			if err != nil {
				return nil, err
			}
			if indicesEq(t1.Indices, t2.Indices) {
				return rty.Indexed{Base: base, Indices: t1.Indices}, nil
			}
			return rty.ExistsHole(base), nil
		case rty.Exists:
			base, err := j.joinBase(t1.Base, t2.Base)
			if err != nil {
				return nil, err
			}
			return rty.ExistsHole(base), nil
		}
	case rty.Exists:
		switch t2 := t2.(type) {
		case rty.Indexed:
			base, err := j.joinBase(t1.Base, t2.Base)
			if err != nil {
				return nil, err
			}
			return rty.ExistsHole(base), nil
		case rty.Exists:
			base, err := j.joinBase(t1.Base, t2.Base)
			if err != nil {
				return nil, err
			}
			return rty.ExistsHole(base), nil
		}
	case rty.Ref:
		if t2, ok := t2.(rty.Ref); ok && t1.Kind == t2.Kind {
			inner, err := j.join(t1.Ty, t2.Ty)
			if err != nil {
				return nil, err
			}
			return rty.Ref{Kind: t1.Kind, Ty: inner}, nil
		}
		if t2, ok := t2.(rty.Ptr); ok && t1.Kind == rty.Mut && t2.Kind == rty.Mut {
			return j.weakenPtr(t2, t1.Ty, j.right)
		}
	case rty.Ptr:
		if t2, ok := t2.(rty.Ptr); ok && t1.Kind == t2.Kind {
			if t1.Path.Eq(t2.Path) {
				return t1, nil
			}
			// paths diverge: both sides weaken to a reference
			right, err := j.right.LookupPath(t2.Path)
			if err != nil {
				return nil, err
			}
			return j.weakenPtr(t1, right, j.left)
		}
		if t2, ok := t2.(rty.Ref); ok && t1.Kind == rty.Mut && t2.Kind == rty.Mut {
			return j.weakenPtr(t1, t2.Ty, j.left)
		}
	case rty.Tuple:
		if t2, ok := t2.(rty.Tuple); ok {
			if len(t1.Elems) != len(t2.Elems) {
				return nil, errors.Errorf("tuple arity mismatch: %s vs %s", t1, t2)
			}
			elems := make([]rty.Type, len(t1.Elems))
			for i := range t1.Elems {
				elem, err := j.join(t1.Elems[i], t2.Elems[i])
				if err != nil {
					return nil, err
				}
				elems[i] = elem
			}
			return rty.Tuple{Elems: elems}, nil
		}
	case rty.Array:
		if t2, ok := t2.(rty.Array); ok {
			if t1.Len != t2.Len {
				return nil, errors.Errorf("array length mismatch: %s vs %s", t1, t2)
			}
			elem, err := j.join(t1.Elem, t2.Elem)
			if err != nil {
				return nil, err
			}
			return rty.Array{Elem: elem, Len: t1.Len}, nil
		}
	case rty.Param:
		if t2, ok := t2.(rty.Param); ok && t1.Index == t2.Index {
			return t1, nil
		}
	}
	return nil, errors.Errorf("cannot join %s with %s", t1, t2)
}

// weakenPtr turns a strong pointer into a mutable reference by joining its
// heap content with the other side's referent.
func (j joiner) weakenPtr(ptr rty.Ptr, otherReferent rty.Type, side *TypeEnv) (rty.Type, error) {
	content, err := side.LookupPath(ptr.Path)
	if err != nil {
		return nil, err
	}
	inner, err := j.join(content, otherReferent)
	if err != nil {
		return nil, err
	}
	return rty.Ref{Kind: rty.Mut, Ty: inner}, nil
}

func (j joiner) joinBase(b1, b2 rty.BaseType) (rty.BaseType, error) {
	if b1.Hash() == b2.Hash() {
		return b1, nil
	}
	switch b1 := b1.(type) {
	case rty.SliceTy:
		if b2, ok := b2.(rty.SliceTy); ok {
			elem, err := j.join(b1.Elem, b2.Elem)
			if err != nil {
				return nil, err
			}
			return rty.SliceTy{Elem: elem}, nil
		}
	case rty.AdtTy:
		if b2, ok := b2.(rty.AdtTy); ok && b1.Def.Name == b2.Def.Name {
			if len(b1.Args) != len(b2.Args) {
				return nil, errors.Errorf("generic arity mismatch on %s", b1.Def.Name)
			}
			args := make([]rty.Type, len(b1.Args))
			for i := range b1.Args {
				arg, err := j.join(b1.Args[i], b2.Args[i])
				if err != nil {
					return nil, err
				}
				args[i] = arg
			}
			return rty.AdtTy{Def: b1.Def, Args: args}, nil
		}
	}
	return nil, errors.Errorf("cannot join base types %s and %s", b1, b2)
}

func indicesEq(a, b []rty.Index) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Hash() != b[i].Hash() {
			return false
		}
	}
	return true
}

// UnpackAll opens every existential in the environment against the context:
// fresh index variables are pushed, guards assumed, and when unfoldMutRefs
// is set each mutable reference unfolds into a strong pointer at a fresh
// location so writes through it stay strong. The returned pairs are the
// unfolded locations with the referent type each must satisfy again at
// procedure exit.
func (env *TypeEnv) UnpackAll(rcx *RefineCtx, unfoldMutRefs bool) ([]util.Pair[rty.Path, rty.Type], error) {
	var foldbacks []util.Pair[rty.Path, rty.Type]
	locs := slices.Collect(env.Locs())
	for _, loc := range locs {
		b, _ := env.Get(loc)
		ty, fbs, err := env.unpackTy(rcx, b.Ty, unfoldMutRefs)
		if err != nil {
			return nil, errors.Wrapf(err, "unpacking %s", loc)
		}
		foldbacks = append(foldbacks, fbs...)
		env.bindings = env.bindings.Set(loc, Binding{Ty: ty, Blocked: b.Blocked})
	}
	return foldbacks, nil
}

// Unpack opens existentials in a single binding, used after a call or
// constructor writes a fresh type into the heap mid-block.
func (env *TypeEnv) Unpack(rcx *RefineCtx, loc rty.Loc) error {
	b, ok := env.Get(loc)
	if !ok {
		return errors.Errorf("unpack of unbound location %s", loc)
	}
	ty, _, err := env.unpackTy(rcx, b.Ty, false)
	if err != nil {
		return err
	}
	env.bindings = env.bindings.Set(loc, Binding{Ty: ty, Blocked: b.Blocked})
	return nil
}

func (env *TypeEnv) unpackTy(rcx *RefineCtx, ty rty.Type, unfoldMutRefs bool) (rty.Type, []util.Pair[rty.Path, rty.Type], error) {
	switch ty := ty.(type) {
	case rty.Exists:
		names := rcx.PushBindings(ty.Binder.Params)
		vars := make([]rty.Expr, len(names))
		for i, n := range names {
			vars[i] = rty.Var{Name: n}
		}
		rcx.Assume(rty.SubstBound(ty.Binder, vars...))
		return rty.Indexed{Base: ty.Base, Indices: rty.IdxsOf(vars...)}, nil, nil
	case rty.Constr:
		rcx.Assume(ty.Pred)
		return env.unpackTy(rcx, ty.Ty, unfoldMutRefs)
	case rty.Tuple:
		elems := make([]rty.Type, len(ty.Elems))
		var foldbacks []util.Pair[rty.Path, rty.Type]
		for i, elem := range ty.Elems {
			unpacked, fbs, err := env.unpackTy(rcx, elem, unfoldMutRefs)
			if err != nil {
				return nil, nil, err
			}
			elems[i] = unpacked
			foldbacks = append(foldbacks, fbs...)
		}
		return rty.Tuple{Elems: elems}, foldbacks, nil
	case rty.Ref:
		if ty.Kind == rty.Mut && unfoldMutRefs {
			inner, fbs, err := env.unpackTy(rcx, ty.Ty, unfoldMutRefs)
			if err != nil {
				return nil, nil, err
			}
			loc := rty.LocFree(rcx.FreshName())
			env.Define(loc, inner)
			path := rty.PathTo(loc)
			foldbacks := append(fbs, util.NewPair(path, ty.Ty))
			return rty.Ptr{Kind: rty.Mut, Path: path}, foldbacks, nil
		}
		if ty.Kind == rty.Shr {
			inner, _, err := env.unpackTy(rcx, ty.Ty, false)
			if err != nil {
				return nil, nil, err
			}
			return rty.Ref{Kind: rty.Shr, Ty: inner}, nil, nil
		}
		return ty, nil, nil
	default:
		return ty, nil, nil
	}
}
