package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/isagen/pkg/gen/diag"
)

func TestArithmetic(t *testing.T) {
	eng := NewEngine()

	e := Add(Mul(Int(3), Int(4)), Negate(Int(2)))
	v, err := eng.Value(e, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.I)

	e = Div(Int(7), Int(2))
	v, err = eng.Value(e, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.I)
}

func TestDivisionByZero(t *testing.T) {
	eng := NewEngine()

	_, err := eng.Value(Div(Int(1), Sub(Int(2), Int(2))), nil)
	assert.ErrorIs(t, err, ErrDivByZero)
}

func TestParamSubstitution(t *testing.T) {
	eng := NewEngine()
	pos := diag.Pos{File: "a.isa", Line: 4, Col: 10}

	e := Add(Param("n", pos), Int(1))
	assert.False(t, e.IsConstant())

	v, err := eng.Value(e, Subst{"n": Int(41)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.I)

	// An unresolved formal reports its source token.
	_, err = eng.Value(e, nil)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Contains(t, err.Error(), "a.isa:4:10")
}

func TestGlobalFallback(t *testing.T) {
	eng := NewEngine()
	eng.BindGlobal("kWordSize", Int(32))

	v, err := eng.Value(Param("kWordSize", diag.Pos{}), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(32), v.I)

	// Substitutions shadow globals.
	v, err = eng.Value(Param("kWordSize", diag.Pos{}), Subst{"kWordSize": Int(64)})
	require.NoError(t, err)
	assert.Equal(t, int64(64), v.I)
}

func TestAbs(t *testing.T) {
	eng := NewEngine()

	call, err := eng.Call("abs", []*Expr{Negate(Int(5))}, diag.Pos{})
	require.NoError(t, err)

	v, err := eng.Value(call, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.I)

	_, err = eng.Call("abs", []*Expr{Int(1), Int(2)}, diag.Pos{})
	assert.ErrorIs(t, err, ErrArityMismatch)

	_, err = eng.Call("min", []*Expr{Int(1)}, diag.Pos{})
	assert.ErrorIs(t, err, ErrUnknownFunc)
}

// DeepCopy must preserve the value under any substitution and be
// structurally independent of the original.
func TestDeepCopy(t *testing.T) {
	eng := NewEngine()
	orig := Mul(Add(Param("x", diag.Pos{}), Int(2)), Int(3))
	clone := orig.DeepCopy()

	for _, x := range []int64{-7, 0, 11} {
		subst := Subst{"x": Int(x)}

		v1, err := eng.Value(orig, subst)
		require.NoError(t, err)
		v2, err := eng.Value(clone, subst)
		require.NoError(t, err)
		assert.Equal(t, v1, v2)
	}

	// Mutating the clone does not affect the original.
	clone.Args[1] = Int(100)
	v, err := eng.Value(orig, Subst{"x": Int(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.I)
}

func TestIsConstant(t *testing.T) {
	assert.True(t, Add(Int(1), Int(2)).IsConstant())
	assert.False(t, Add(Int(1), Param("p", diag.Pos{})).IsConstant())
}

func TestSubstitute(t *testing.T) {
	eng := NewEngine()

	// base formal n bound to an expression over the deriving slot's
	// formal m.
	e := Add(Param("n", diag.Pos{}), Int(1))
	rewritten := Substitute(e, Subst{"n": Mul(Param("m", diag.Pos{}), Int(2))})

	assert.False(t, rewritten.IsConstant())

	v, err := eng.Value(rewritten, Subst{"m": Int(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(11), v.I)

	// The original tree is untouched.
	_, err = eng.Value(e, Subst{"n": Int(0)})
	require.NoError(t, err)
}

func TestCompare(t *testing.T) {
	c, err := Compare(IntValue(3), IntValue(5))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(UintValue(9), UintValue(9))
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	_, err = Compare(IntValue(1), UintValue(1))
	assert.ErrorIs(t, err, ErrType)
}
