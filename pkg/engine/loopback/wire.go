package loopback

import (
	"fmt"
	"net"
	"time"

	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/protocol/codec"
)

// messageBody is the CBOR body of Request and Response frames.
type messageBody struct {
	Protocol string `cbor:"1,keyasint"`
	Bytes    []byte `cbor:"2,keyasint,omitempty"`
	Error    string `cbor:"3,keyasint,omitempty"`
}

// streamOpenBody is the CBOR body of StreamOpen frames.
type streamOpenBody struct {
	Protocol string `cbor:"1,keyasint"`
}

func encode(r *codec.Registry, typ uint8, corr [16]byte, v any) (protocol.Envelope, error) {
	return protocol.NewEnvelopeWithBody(r, typ, corr, protocol.FormatCBOR, v)
}

func decode(r *codec.Registry, e *protocol.Envelope, v any) error {
	_, err := protocol.DecodeBody(r, e.Payload, v)
	return err
}

// expect reads one frame from c within d and checks its type.
func expect(c net.Conn, conn *protocol.Conn, d time.Duration, types ...uint8) (protocol.Envelope, error) {
	var e protocol.Envelope
	_ = c.SetReadDeadline(time.Now().Add(d))
	defer func() { _ = c.SetReadDeadline(time.Time{}) }()
	if err := conn.Recv(&e); err != nil {
		return e, err
	}
	return e, checkType(&e, types)
}

func checkType(e *protocol.Envelope, types []uint8) error {
	for _, t := range types {
		if e.Header.Type == t {
			return nil
		}
	}
	return fmt.Errorf("unexpected frame type %d", e.Header.Type)
}

// sendNow writes one frame within d, bypassing any link queue.
func sendNow(c net.Conn, conn *protocol.Conn, d time.Duration, e protocol.Envelope) error {
	_ = c.SetWriteDeadline(time.Now().Add(d))
	defer func() { _ = c.SetWriteDeadline(time.Time{}) }()
	return conn.Send(&e)
}
