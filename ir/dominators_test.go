package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 0 -> 1 | 2 -> 3
func diamondBody() *Body {
	return &Body{
		ArgCount: 1,
		Locals:   []LocalDecl{{Name: "ret"}, {Name: "a"}},
		Blocks: []BasicBlock{
			{Terminator: &SwitchInt{
				Discr:     &Copy{Place: PlaceOf(1)},
				Cases:     []SwitchCase{{Value: 0, Target: 1}},
				Otherwise: 2,
			}},
			{Terminator: &Goto{Target: 3}},
			{Terminator: &Goto{Target: 3}},
			{Terminator: &Return{}},
		},
	}
}

// 0 -> 1; 1 -> 2 | 3; 2 -> 1
func loopBody() *Body {
	return &Body{
		ArgCount: 1,
		Locals:   []LocalDecl{{Name: "ret"}, {Name: "n"}},
		Blocks: []BasicBlock{
			{Terminator: &Goto{Target: 1}},
			{Terminator: &SwitchInt{
				Discr:     &Copy{Place: PlaceOf(1)},
				Cases:     []SwitchCase{{Value: 0, Target: 3}},
				Otherwise: 2,
			}},
			{Terminator: &Goto{Target: 1}},
			{Terminator: &Return{}},
		},
	}
}

func TestDomTree_Diamond(t *testing.T) {
	d := NewDomTree(diamondBody())

	assert.Equal(t, NoBlock, d.ImmediateDominator(0))
	assert.Equal(t, BlockID(0), d.ImmediateDominator(1))
	assert.Equal(t, BlockID(0), d.ImmediateDominator(2))
	assert.Equal(t, BlockID(0), d.ImmediateDominator(3))

	assert.False(t, d.IsJoinPoint(0))
	assert.False(t, d.IsJoinPoint(1))
	assert.False(t, d.IsJoinPoint(2))
	assert.True(t, d.IsJoinPoint(3))
	assert.Equal(t, []BlockID{3}, d.JoinPoints())
}

func TestDomTree_Loop(t *testing.T) {
	d := NewDomTree(loopBody())

	assert.Equal(t, BlockID(0), d.ImmediateDominator(1))
	assert.Equal(t, BlockID(1), d.ImmediateDominator(2))
	assert.Equal(t, BlockID(1), d.ImmediateDominator(3))

	assert.True(t, d.IsJoinPoint(1))
	assert.ElementsMatch(t, []BlockID{BlockID(0), BlockID(2)}, d.Predecessors(1))
	assert.Equal(t, []BlockID{1}, d.JoinPoints())
}

// two diamonds in sequence share no join block
func TestDomTree_NestedDiamonds(t *testing.T) {
	body := &Body{
		ArgCount: 1,
		Locals:   []LocalDecl{{Name: "ret"}, {Name: "a"}},
		Blocks: []BasicBlock{
			{Terminator: &SwitchInt{
				Discr:     &Copy{Place: PlaceOf(1)},
				Cases:     []SwitchCase{{Value: 0, Target: 1}},
				Otherwise: 2,
			}},
			{Terminator: &Goto{Target: 3}},
			{Terminator: &Goto{Target: 3}},
			{Terminator: &SwitchInt{
				Discr:     &Copy{Place: PlaceOf(1)},
				Cases:     []SwitchCase{{Value: 1, Target: 4}},
				Otherwise: 5,
			}},
			{Terminator: &Goto{Target: 6}},
			{Terminator: &Goto{Target: 6}},
			{Terminator: &Return{}},
		},
	}
	d := NewDomTree(body)

	assert.Equal(t, BlockID(0), d.ImmediateDominator(3))
	assert.Equal(t, BlockID(3), d.ImmediateDominator(4))
	assert.Equal(t, BlockID(3), d.ImmediateDominator(6))
	assert.Equal(t, []BlockID{3, 6}, d.JoinPoints())
}

func TestBody_Successors(t *testing.T) {
	testCases := []struct {
		name     string
		term     Terminator
		expected []BlockID
	}{
		{
			name:     "goto has one successor",
			term:     &Goto{Target: 1},
			expected: []BlockID{1},
		},
		{
			name: "switch lists cases then otherwise",
			term: &SwitchInt{
				Discr:     &Const{Constant: IntConst{Value: 0}},
				Cases:     []SwitchCase{{Value: 0, Target: 1}, {Value: 1, Target: 2}},
				Otherwise: 3,
			},
			expected: []BlockID{1, 2, 3},
		},
		{
			name:     "call continues at its target",
			term:     &Call{Func: "f", Destination: PlaceOf(0), Target: 2},
			expected: []BlockID{2},
		},
		{
			name:     "diverging call has no successor",
			term:     &Call{Func: "f", Destination: PlaceOf(0), Target: NoBlock},
			expected: nil,
		},
		{
			name:     "assert continues on success",
			term:     &Assert{Cond: &Copy{Place: PlaceOf(1)}, Expected: true, Target: 1},
			expected: []BlockID{1},
		},
		{
			name:     "drop falls through",
			term:     &Drop{Place: PlaceOf(1), Target: 1},
			expected: []BlockID{1},
		},
		{
			name:     "return ends the procedure",
			term:     &Return{},
			expected: nil,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := &Body{Blocks: []BasicBlock{
				{Terminator: tc.term},
				{Terminator: &Return{}},
				{Terminator: &Return{}},
				{Terminator: &Return{}},
			}}
			assert.Equal(t, tc.expected, body.Successors(0))
		})
	}
}

func TestBody_ArgsAndVarLocals(t *testing.T) {
	body := &Body{
		ArgCount: 2,
		Locals: []LocalDecl{
			{Name: "ret"}, {Name: "a"}, {Name: "b"}, {Name: "tmp"}, {Name: "x"},
		},
		Blocks: []BasicBlock{{Terminator: &Return{}}},
	}

	assert.Equal(t, []Local{1, 2}, body.Args())
	assert.Equal(t, []Local{3, 4}, body.VarLocals())
	assert.Equal(t, BlockID(0), body.Entry())
}

func TestPlace_String(t *testing.T) {
	p := PlaceOf(2, Deref{}, Field(1))
	assert.Equal(t, "_2.*.1", p.String())
}
