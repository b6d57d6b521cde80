package protofmt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/isagen/pkg/gen/expr"
)

func mustSet(t *testing.T, op Op, v expr.Value) *ValueSet {
	t.Helper()
	set, err := FromConstraint(op, v)
	require.NoError(t, err)
	return set
}

func TestValueSetFromNotEqual(t *testing.T) {
	set := mustSet(t, OpNe, expr.Int32Value(5))

	require.Len(t, set.Ranges, 2)

	lo := set.Ranges[0]
	assert.Equal(t, int64(math.MinInt32), lo.Min.I)
	assert.True(t, lo.MinIncl)
	assert.Equal(t, int64(5), lo.Max.I)
	assert.False(t, lo.MaxIncl)

	hi := set.Ranges[1]
	assert.Equal(t, int64(5), hi.Min.I)
	assert.False(t, hi.MinIncl)
	assert.Equal(t, int64(math.MaxInt32), hi.Max.I)
	assert.True(t, hi.MaxIncl)
}

func TestValueSetFromComparisons(t *testing.T) {
	lt := mustSet(t, OpLt, expr.Int32Value(7))
	require.Len(t, lt.Ranges, 1)
	assert.False(t, lt.Ranges[0].MaxIncl)

	le := mustSet(t, OpLe, expr.Int32Value(7))
	require.Len(t, le.Ranges, 1)
	assert.True(t, le.Ranges[0].MaxIncl)

	gt := mustSet(t, OpGt, expr.Int32Value(7))
	require.Len(t, gt.Ranges, 1)
	assert.False(t, gt.Ranges[0].MinIncl)

	ge := mustSet(t, OpGe, expr.Int32Value(7))
	require.Len(t, ge.Ranges, 1)
	assert.True(t, ge.Ranges[0].MinIncl)

	eq := mustSet(t, OpEq, expr.Int32Value(7))
	require.Len(t, eq.Ranges, 1)
	assert.Equal(t, int64(7), eq.Ranges[0].Min.I)
	assert.Equal(t, int64(7), eq.Ranges[0].Max.I)
}

func TestIntersectTwoNotEquals(t *testing.T) {
	a := mustSet(t, OpNe, expr.Int32Value(10))
	b := mustSet(t, OpNe, expr.Int32Value(100))

	require.NoError(t, a.IntersectWith(b))
	require.Len(t, a.Ranges, 3)

	mid := a.Ranges[1]
	assert.Equal(t, int64(10), mid.Min.I)
	assert.False(t, mid.MinIncl)
	assert.Equal(t, int64(100), mid.Max.I)
	assert.False(t, mid.MaxIncl)

	// The other operand order produces the same three intervals.
	c := mustSet(t, OpNe, expr.Int32Value(100))
	d := mustSet(t, OpNe, expr.Int32Value(10))
	require.NoError(t, c.IntersectWith(d))
	assert.Len(t, c.Ranges, 3)
}

func TestIntersectContradiction(t *testing.T) {
	eq := mustSet(t, OpEq, expr.Int32Value(5))
	ne := mustSet(t, OpNe, expr.Int32Value(5))
	require.NoError(t, eq.IntersectWith(ne))
	assert.True(t, eq.Empty())

	a := mustSet(t, OpEq, expr.Int32Value(5))
	b := mustSet(t, OpEq, expr.Int32Value(6))
	require.NoError(t, a.IntersectWith(b))
	assert.True(t, a.Empty())
}

func TestIntersectPointSurvives(t *testing.T) {
	eq := mustSet(t, OpEq, expr.Int32Value(5))
	ne := mustSet(t, OpNe, expr.Int32Value(6))
	require.NoError(t, eq.IntersectWith(ne))
	require.Len(t, eq.Ranges, 1)
	assert.Equal(t, int64(5), eq.Ranges[0].Min.I)
	assert.Equal(t, int64(5), eq.Ranges[0].Max.I)

	// Ranges meeting only in an excluded endpoint are dropped.
	lt := mustSet(t, OpLt, expr.Int32Value(5))
	ge := mustSet(t, OpGe, expr.Int32Value(5))
	require.NoError(t, lt.IntersectWith(ge))
	assert.True(t, lt.Empty())
}

func TestIntersectWithEmptyIsEmpty(t *testing.T) {
	a := mustSet(t, OpNe, expr.Int32Value(10))
	empty := NewValueSet(expr.KindInt32)
	require.NoError(t, a.IntersectWith(empty))
	assert.True(t, a.Empty())
}

func TestUnionAppendsRanges(t *testing.T) {
	a := mustSet(t, OpEq, expr.Int32Value(1))
	b := mustSet(t, OpEq, expr.Int32Value(2))
	require.NoError(t, a.UnionWith(b))
	assert.Len(t, a.Ranges, 2)

	empty := NewValueSet(expr.KindInt32)
	require.NoError(t, a.UnionWith(empty))
	assert.Len(t, a.Ranges, 2)
}

func TestKindMismatchIsAnError(t *testing.T) {
	a := mustSet(t, OpEq, expr.Int32Value(1))
	b := mustSet(t, OpEq, expr.UintValue(1))
	assert.Error(t, a.IntersectWith(b))
	assert.Error(t, a.UnionWith(b))
}
