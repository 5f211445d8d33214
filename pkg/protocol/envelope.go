package protocol

import (
	"bufio"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// maxPayload guards ReadFrom against absurd sizes.
const maxPayload = 1 << 24

// Envelope is a header + payload wrapper for a single frame.
type Envelope struct {
	Header  Header
	Payload []byte
}

// NewEnvelope returns an envelope of the given type with the current wire version.
func NewEnvelope(typ uint8, corr [16]byte, payload []byte) Envelope {
	return Envelope{Header: Header{Version: Version, Type: typ, Correlation: corr}, Payload: payload}
}

// NewCorrelation returns a fresh random correlation id.
func NewCorrelation() [16]byte { return uuid.New() }

// CorrelationString renders a correlation id the way request ids are shown to callers.
func CorrelationString(c [16]byte) string { return uuid.UUID(c).String() }

// ParseCorrelation is the inverse of CorrelationString.
func ParseCorrelation(s string) ([16]byte, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse correlation %q: %w", s, err)
	}
	return u, nil
}

// HasFlag checks whether a flag is set.
func (e *Envelope) HasFlag(flag uint32) bool { return (e.Header.Flags & flag) != 0 }

// SetFlag sets/unsets a flag.
func (e *Envelope) SetFlag(flag uint32, on bool) {
	if on {
		e.Header.Flags |= flag
	} else {
		e.Header.Flags &^= flag
	}
}

// WriteTo writes header + payload to w.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	e.Header.PayloadLen = uint32(len(e.Payload))
	hb, err := e.Header.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n1, err := w.Write(hb)
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(e.Payload)
	return int64(n1 + n2), err
}

// ReadFrom reads header + payload from r.
func (e *Envelope) ReadFrom(r io.Reader) (int64, error) {
	hb := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hb); err != nil {
		return 0, err
	}
	if err := e.Header.UnmarshalBinary(hb); err != nil {
		return 0, err
	}
	if e.Header.PayloadLen > 0 {
		if e.Header.PayloadLen > maxPayload {
			return 0, fmt.Errorf("payload too large: %d", e.Header.PayloadLen)
		}
		e.Payload = make([]byte, int(e.Header.PayloadLen))
		if _, err := io.ReadFull(r, e.Payload); err != nil {
			return 0, err
		}
	} else {
		e.Payload = nil
	}
	return int64(headerSize + int(e.Header.PayloadLen)), nil
}

// EncodeFrame returns header+payload as a single byte slice.
func (e *Envelope) EncodeFrame() ([]byte, error) {
	e.Header.PayloadLen = uint32(len(e.Payload))
	hb, err := e.Header.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerSize+len(e.Payload))
	copy(out, hb)
	copy(out[headerSize:], e.Payload)
	return out, nil
}

// DecodeFrame parses a single frame from buf.
func (e *Envelope) DecodeFrame(buf []byte) error {
	if len(buf) < headerSize {
		return io.ErrUnexpectedEOF
	}
	if err := e.Header.UnmarshalBinary(buf[:headerSize]); err != nil {
		return err
	}
	need := int(e.Header.PayloadLen)
	if headerSize+need > len(buf) {
		return io.ErrUnexpectedEOF
	}
	e.Payload = append(e.Payload[:0], buf[headerSize:headerSize+need]...)
	return nil
}

// Conn wraps an io.ReadWriter to send/receive Envelope frames.
// Exactly one reader and one writer goroutine are expected.
type Conn struct {
	rw io.ReadWriter
	br *bufio.Reader
	bw *bufio.Writer
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw, br: bufio.NewReader(rw), bw: bufio.NewWriter(rw)}
}

func (c *Conn) Send(e *Envelope) error {
	if _, err := e.WriteTo(c.bw); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Conn) Recv(e *Envelope) error {
	_, err := e.ReadFrom(c.br)
	return err
}
