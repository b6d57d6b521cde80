// Package protofmt synthesizes C++ decoders from instruction
// descriptions expressed as constraints on protobuf message fields.
package protofmt

import (
	"fmt"
	"math"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/simforge/isagen/pkg/gen/expr"
)

type protoType = descriptorpb.FieldDescriptorProto_Type

// kindFromProto and protoFromKind map between the canonical protobuf
// scalar types and the value-kind positions. The two maps are mutual
// inverses over the supported scalars; the zigzag and fixed-width
// encodings are canonicalized first by canonicalType.
var kindFromProto = map[protoType]expr.Kind{
	descriptorpb.FieldDescriptorProto_TYPE_INT32:  expr.KindInt32,
	descriptorpb.FieldDescriptorProto_TYPE_INT64:  expr.KindInt64,
	descriptorpb.FieldDescriptorProto_TYPE_UINT32: expr.KindUint32,
	descriptorpb.FieldDescriptorProto_TYPE_UINT64: expr.KindUint64,
	descriptorpb.FieldDescriptorProto_TYPE_FLOAT:  expr.KindFloat,
	descriptorpb.FieldDescriptorProto_TYPE_DOUBLE: expr.KindDouble,
	descriptorpb.FieldDescriptorProto_TYPE_BOOL:   expr.KindBool,
	descriptorpb.FieldDescriptorProto_TYPE_STRING: expr.KindString,
}

var protoFromKind = map[expr.Kind]protoType{
	expr.KindInt32:  descriptorpb.FieldDescriptorProto_TYPE_INT32,
	expr.KindInt64:  descriptorpb.FieldDescriptorProto_TYPE_INT64,
	expr.KindUint32: descriptorpb.FieldDescriptorProto_TYPE_UINT32,
	expr.KindUint64: descriptorpb.FieldDescriptorProto_TYPE_UINT64,
	expr.KindFloat:  descriptorpb.FieldDescriptorProto_TYPE_FLOAT,
	expr.KindDouble: descriptorpb.FieldDescriptorProto_TYPE_DOUBLE,
	expr.KindBool:   descriptorpb.FieldDescriptorProto_TYPE_BOOL,
	expr.KindString: descriptorpb.FieldDescriptorProto_TYPE_STRING,
}

// canonicalType folds the wire-encoding variations of the integer
// types onto their canonical scalar.
func canonicalType(t protoType) protoType {
	switch t {
	case descriptorpb.FieldDescriptorProto_TYPE_SINT32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		return descriptorpb.FieldDescriptorProto_TYPE_INT32
	case descriptorpb.FieldDescriptorProto_TYPE_SINT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		return descriptorpb.FieldDescriptorProto_TYPE_INT64
	case descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		return descriptorpb.FieldDescriptorProto_TYPE_UINT32
	case descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		return descriptorpb.FieldDescriptorProto_TYPE_UINT64
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		// Enum discriminators compare as int32.
		return descriptorpb.FieldDescriptorProto_TYPE_INT32
	}
	return t
}

// FieldKind maps a field descriptor to its value kind. Message-typed
// fields have no scalar kind.
func FieldKind(field *desc.FieldDescriptor) (expr.Kind, error) {
	if k, ok := kindFromProto[canonicalType(field.GetType())]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("field '%s' has unsupported type %s",
		field.GetFullyQualifiedName(), field.GetType())
}

// kindExtremes returns the inclusive numeric extremes of an ordered
// kind, used when a constraint leaves one side of a range open.
func kindExtremes(kind expr.Kind) (lo, hi expr.Value, err error) {
	switch kind {
	case expr.KindInt32:
		return expr.Int32Value(math.MinInt32), expr.Int32Value(math.MaxInt32), nil
	case expr.KindInt64:
		return expr.IntValue(math.MinInt64), expr.IntValue(math.MaxInt64), nil
	case expr.KindUint32:
		return expr.Uint32Value(0), expr.Uint32Value(math.MaxUint32), nil
	case expr.KindUint64:
		return expr.UintValue(0), expr.UintValue(math.MaxUint64), nil
	case expr.KindFloat, expr.KindDouble:
		lo = expr.Value{Kind: kind, F: math.Inf(-1)}
		hi = expr.Value{Kind: kind, F: math.Inf(1)}
		return lo, hi, nil
	case expr.KindBool:
		return expr.BoolValue(false), expr.BoolValue(true), nil
	}
	return lo, hi, fmt.Errorf("kind %s has no ordered extremes", kind)
}
