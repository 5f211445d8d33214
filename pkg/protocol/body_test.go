package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Acurast/acup2p/pkg/protocol/codec"
)

func newRegistry(t *testing.T) *codec.Registry {
	t.Helper()
	r, err := codec.NewRegistry()
	require.NoError(t, err)
	return r
}

func TestEncodeDecodeBodyJSON(t *testing.T) {
	reg := newRegistry(t)
	b, err := EncodeBody(reg, FormatJSON, map[string]any{"x": 1, "y": "z"})
	require.NoError(t, err)
	assert.Equal(t, byte(FormatJSON), b[0])

	var out map[string]any
	f, err := DecodeBody(reg, b, &out)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	assert.Equal(t, "z", out["y"])
}

func TestEncodeDecodeBodyCBOR(t *testing.T) {
	reg := newRegistry(t)
	type msg struct {
		Protocol string `cbor:"p"`
		Bytes    []byte `cbor:"b"`
	}
	in := msg{Protocol: "/echo/1", Bytes: bytes.Repeat([]byte{0xAA}, 16)}
	b, err := EncodeBody(reg, FormatCBOR, in)
	require.NoError(t, err)

	var out msg
	_, err = DecodeBody(reg, b, &out)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeDecodeBodyProto(t *testing.T) {
	reg := newRegistry(t)
	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	require.NoError(t, err)
	b, err := EncodeBody(reg, FormatProto, s)
	require.NoError(t, err)

	var out structpb.Struct
	_, err = DecodeBody(reg, b, &out)
	require.NoError(t, err)
	assert.Equal(t, "v", out.Fields["k"].GetStringValue())
}

func TestDecodeBodyRejectsGarbage(t *testing.T) {
	reg := newRegistry(t)
	_, err := DecodeBody(reg, nil, new(any))
	assert.Error(t, err)
	_, err = DecodeBody(reg, []byte{0x7f, 1, 2}, new(any))
	assert.Error(t, err)
}
