package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestJSONCodec(t *testing.T) {
	c := JSON()
	b, err := c.Marshal(map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, float64(1), out["a"])
	assert.Equal(t, "x", out["b"])
}

func TestCBORCodecIsCanonical(t *testing.T) {
	c, err := CBOR()
	require.NoError(t, err)

	type body struct {
		Protocol string `cbor:"p"`
		Bytes    []byte `cbor:"b"`
	}
	in := body{Protocol: "/echo/1", Bytes: []byte("hi")}
	b1, err := c.Marshal(in)
	require.NoError(t, err)
	b2, err := c.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	var out body
	require.NoError(t, c.Unmarshal(b1, &out))
	assert.Equal(t, in, out)
}

func TestCBORDecodesMapsWithStringKeys(t *testing.T) {
	c, err := CBOR()
	require.NoError(t, err)
	b, err := c.Marshal(map[string]any{"n": 42})
	require.NoError(t, err)
	var out any
	require.NoError(t, c.Unmarshal(b, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok, "got %T", out)
	assert.EqualValues(t, 42, m["n"])
}

func TestProtoCodec(t *testing.T) {
	c := Proto()
	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	require.NoError(t, err)
	b, err := c.Marshal(s)
	require.NoError(t, err)
	var out structpb.Struct
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, "v", out.Fields["k"].GetStringValue())
}

func TestProtoCodecCarriesMapsAsStruct(t *testing.T) {
	c := Proto()
	b, err := c.Marshal(map[string]any{"kind": "Connected", "n": 2.0})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, "Connected", out["kind"])
	assert.Equal(t, 2.0, out["n"])

	_, err = c.Marshal(42)
	assert.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	for name, want := range map[string]string{
		"json":   TypeJSON,
		"cbor":   TypeCBOR,
		"proto":  TypeProto,
		TypeCBOR: TypeCBOR,
	} {
		c, err := r.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, c.ContentType())
	}
	_, err = r.Lookup("xml")
	assert.Error(t, err)
}
