// Package codec holds the payload encodings used on the wire and when
// exporting events.
package codec

import "fmt"

// Content types understood by the registry.
const (
	TypeJSON  = "application/json"
	TypeCBOR  = "application/cbor"
	TypeProto = "application/x-protobuf"
)

// Codec marshals typed messages. Implementations must be deterministic so the
// same value always yields the same bytes on every node.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with JSON, CBOR and Protobuf.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	c, err := CBOR()
	if err != nil {
		return nil, fmt.Errorf("cbor codec: %w", err)
	}
	r.Register(c)
	return r, nil
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// Lookup resolves a short name (json, cbor, proto) or a content type.
func (r *Registry) Lookup(name string) (Codec, error) {
	switch name {
	case "json":
		name = TypeJSON
	case "cbor":
		name = TypeCBOR
	case "proto", "protobuf":
		name = TypeProto
	}
	if c := r.Get(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
