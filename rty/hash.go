package rty

// Structural hashes stand in for deep equality everywhere terms are compared,
// so every node kind needs a distinct tag mixed into its children's hashes.

const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

const (
	tagSortInt uint64 = iota + 1
	tagSortBool
	tagSortLoc
	tagSortTuple
	tagSortFunc

	tagVar
	tagBoundVar
	tagIntLit
	tagBoolLit
	tagStrLit
	tagUnitLit
	tagUnary
	tagBinary
	tagTupleExpr
	tagTupleProj
	tagPathProj
	tagIte
	tagAppExpr
	tagEVar

	tagExprPred
	tagKVar
	tagAndPred
	tagHole
	tagPredBinder

	tagIdxExpr
	tagIdxAbs

	tagIndexed
	tagExists
	tagRef
	tagPtr
	tagTuple
	tagArray
	tagUninit
	tagParam
	tagConstr

	tagIntTy
	tagUintTy
	tagBoolTy
	tagFloatTy
	tagCharTy
	tagStrTy
	tagSliceTy
	tagAdtTy

	tagLoc
	tagPath
)

type hasher uint64

func newHash(tag uint64) hasher {
	h := hasher(fnvOffset)
	return h.with(tag)
}

func (h hasher) with(v uint64) hasher {
	for i := 0; i < 8; i++ {
		h ^= hasher(byte(v >> (8 * i)))
		h *= hasher(fnvPrime)
	}
	return h
}

func (h hasher) sum() uint64 { return uint64(h) }

func hashLeaf(tag uint64) uint64 { return newHash(tag).sum() }
