package protocol

// Frame types carried in Header.Type by engines that speak the loopback wire
// format.
const (
	MsgUnknown      uint8 = iota
	MsgHello              // signed identity announcement
	MsgHelloAck           // hello accepted, carries responder hello
	MsgRequest            // request/response protocol: request
	MsgResponse           // request/response protocol: response
	MsgStreamOpen         // open a stream on a named protocol
	MsgStreamReject       // stream open refused
	MsgGoodbye            // orderly link teardown
)

// Flags bitmask (uint32)
const (
	FlagError uint32 = 1 << 0 // payload is an error text
	FlagAck   uint32 = 1 << 1 // positive reply
)

// ContentType is optional hint for payload decoding.
const (
	ContentUnknown = "application/octet-stream"
	ContentCBOR    = "application/cbor"
	ContentJSON    = "application/json"
	ContentProto   = "application/x-protobuf"
)
