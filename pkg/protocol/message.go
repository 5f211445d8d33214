package protocol

import "fmt"

// OutboundMessage is what a caller hands to SendMessage: a Request or a
// Response.
type OutboundMessage interface {
	isOutboundMessage()
	ProtocolName() string
	Payload() []byte
}

// Request starts a request/response exchange on Protocol.
type Request struct {
	Protocol string
	Bytes    []byte
}

// Response answers the inbound request identified by ID.
type Response struct {
	Protocol string
	Bytes    []byte
	ID       string
}

func (Request) isOutboundMessage()  {}
func (Response) isOutboundMessage() {}

func (r Request) ProtocolName() string  { return r.Protocol }
func (r Request) Payload() []byte       { return r.Bytes }
func (r Response) ProtocolName() string { return r.Protocol }
func (r Response) Payload() []byte      { return r.Bytes }

// NewResponse builds the response to req, echoing its protocol and id.
func NewResponse(req InboundRequest, b []byte) Response {
	return Response{Protocol: req.Protocol, Bytes: b, ID: req.ID}
}

// InboundRequest is a request received from a peer. ID must be echoed back in
// the Response.
type InboundRequest struct {
	Protocol string
	Bytes    []byte
	ID       string
}

// InboundResponse is a response received for a request this node sent.
type InboundResponse struct {
	Protocol string
	Bytes    []byte
	ID       string
}

// OutboundRequest is a request as the engine sent it, with its assigned id.
type OutboundRequest struct {
	Protocol string
	Bytes    []byte
	ID       string
}

// OutboundResponse is a response as the engine sent it.
type OutboundResponse struct {
	Protocol string
	Bytes    []byte
	ID       string
}

func (r InboundRequest) String() string   { return describe(r.Protocol, r.ID, r.Bytes) }
func (r InboundResponse) String() string  { return describe(r.Protocol, r.ID, r.Bytes) }
func (r OutboundRequest) String() string  { return describe(r.Protocol, r.ID, r.Bytes) }
func (r OutboundResponse) String() string { return describe(r.Protocol, r.ID, r.Bytes) }

func describe(proto, id string, b []byte) string {
	return fmt.Sprintf("{protocol=%s id=%s bytes=%d}", proto, id, len(b))
}
