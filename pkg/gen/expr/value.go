package expr

import (
	"fmt"
	"strconv"
)

// Kind enumerates the positions of the value sum type. The first group
// covers the ISA template values; the numeric kinds additionally back
// the protobuf constraint pipeline.
type Kind int

const (
	KindInt32 Kind = iota
	KindInt64
	KindUint32
	KindUint64
	KindFloat
	KindDouble
	KindBool
	KindString
)

// Returns the printable name of the value kind
func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Signed reports whether the kind is a signed integer kind.
func (k Kind) Signed() bool {
	return k == KindInt32 || k == KindInt64
}

// Unsigned reports whether the kind is an unsigned integer kind.
func (k Kind) Unsigned() bool {
	return k == KindUint32 || k == KindUint64
}

// Integral reports whether the kind is any integer kind.
func (k Kind) Integral() bool {
	return k.Signed() || k.Unsigned()
}

// Value is a tagged sum over the supported scalar kinds. Only the
// field selected by Kind is meaningful.
type Value struct {
	Kind Kind
	I    int64
	U    uint64
	F    float64
	B    bool
	S    string
}

// IntValue builds an int64-kinded value.
func IntValue(v int64) Value { return Value{Kind: KindInt64, I: v} }

// Int32Value builds an int32-kinded value.
func Int32Value(v int32) Value { return Value{Kind: KindInt32, I: int64(v)} }

// UintValue builds a uint64-kinded value.
func UintValue(v uint64) Value { return Value{Kind: KindUint64, U: v} }

// Uint32Value builds a uint32-kinded value.
func Uint32Value(v uint32) Value { return Value{Kind: KindUint32, U: uint64(v)} }

// FloatValue builds a float-kinded value.
func FloatValue(v float32) Value { return Value{Kind: KindFloat, F: float64(v)} }

// DoubleValue builds a double-kinded value.
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, F: v} }

// BoolValue builds a bool-kinded value.
func BoolValue(v bool) Value { return Value{Kind: KindBool, B: v} }

// StringValue builds a string-kinded value.
func StringValue(v string) Value { return Value{Kind: KindString, S: v} }

// Int returns the value as int64, converting between the integer
// kinds. Non-integral kinds are an error.
func (v Value) Int() (int64, error) {
	switch v.Kind {
	case KindInt32, KindInt64:
		return v.I, nil
	case KindUint32, KindUint64:
		return int64(v.U), nil
	}
	return 0, fmt.Errorf("%w: %s is not an integer", ErrType, v.Kind)
}

// Uint returns the value as uint64, converting between the integer
// kinds. Non-integral kinds are an error.
func (v Value) Uint() (uint64, error) {
	switch v.Kind {
	case KindInt32, KindInt64:
		return uint64(v.I), nil
	case KindUint32, KindUint64:
		return v.U, nil
	}
	return 0, fmt.Errorf("%w: %s is not an integer", ErrType, v.Kind)
}

// Returns the C++ literal spelling of the value
func (v Value) Literal() string {
	switch v.Kind {
	case KindInt32:
		return strconv.FormatInt(v.I, 10)
	case KindInt64:
		return strconv.FormatInt(v.I, 10) + "LL"
	case KindUint32:
		return strconv.FormatUint(v.U, 10) + "U"
	case KindUint64:
		return strconv.FormatUint(v.U, 10) + "ULL"
	case KindFloat, KindDouble:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindString:
		return strconv.Quote(v.S)
	}
	return "0"
}

// Returns the human-readable rendering of the value
func (v Value) String() string {
	switch v.Kind {
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.I, 10)
	case KindUint32, KindUint64:
		return strconv.FormatUint(v.U, 10)
	case KindFloat, KindDouble:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindString:
		return v.S
	}
	return "?"
}

// Compare orders two values of the same integral or floating kind.
// Returns -1, 0 or 1, or an error on kind mismatch.
func Compare(a, b Value) (int, error) {
	if a.Kind != b.Kind {
		return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrType, a.Kind, b.Kind)
	}

	switch {
	case a.Kind.Signed():
		return cmp(a.I, b.I), nil
	case a.Kind.Unsigned():
		return cmp(a.U, b.U), nil
	case a.Kind == KindFloat || a.Kind == KindDouble:
		return cmp(a.F, b.F), nil
	case a.Kind == KindBool:
		return cmp(boolToInt(a.B), boolToInt(b.B)), nil
	case a.Kind == KindString:
		return cmp(a.S, b.S), nil
	}
	return 0, fmt.Errorf("%w: kind %s is not ordered", ErrType, a.Kind)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
