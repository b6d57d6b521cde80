package protofmt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/simforge/isagen/pkg/gen/expr"
)

func TestKindMapsAreMutualInverses(t *testing.T) {
	for pt, kind := range kindFromProto {
		back, ok := protoFromKind[kind]
		require.True(t, ok, "kind %s has no proto mapping", kind)
		assert.Equal(t, pt, back)
	}
	for kind, pt := range protoFromKind {
		back, ok := kindFromProto[pt]
		require.True(t, ok, "type %s has no kind mapping", pt)
		assert.Equal(t, kind, back)
	}
}

func TestCanonicalTypeFolding(t *testing.T) {
	cases := map[protoType]protoType{
		descriptorpb.FieldDescriptorProto_TYPE_SINT32:   descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32: descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64:   descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64: descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED32:  descriptorpb.FieldDescriptorProto_TYPE_UINT32,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64:  descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_ENUM:     descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_STRING:   descriptorpb.FieldDescriptorProto_TYPE_STRING,
		descriptorpb.FieldDescriptorProto_TYPE_BOOL:     descriptorpb.FieldDescriptorProto_TYPE_BOOL,
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalType(in), "folding %s", in)
	}
}

func TestKindExtremes(t *testing.T) {
	lo, hi, err := kindExtremes(expr.KindInt32)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt32), lo.I)
	assert.Equal(t, int64(math.MaxInt32), hi.I)

	lo, hi, err = kindExtremes(expr.KindUint32)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lo.U)
	assert.Equal(t, uint64(math.MaxUint32), hi.U)

	lo, hi, err = kindExtremes(expr.KindDouble)
	require.NoError(t, err)
	assert.True(t, math.IsInf(lo.F, -1))
	assert.True(t, math.IsInf(hi.F, 1))

	_, _, err = kindExtremes(expr.KindString)
	assert.Error(t, err)
}
