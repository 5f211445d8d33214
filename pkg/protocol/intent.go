package protocol

import "fmt"

// Intent is a caller command queued for the engine. The set of variants is
// closed; the engine's driving loop switches over the concrete types below.
type Intent interface {
	isIntent()
	String() string
}

// Connect asks the engine to connect to every node in Nodes.
type Connect struct{ Nodes []NodeID }

// Disconnect asks the engine to drop connections to Nodes.
type Disconnect struct{ Nodes []NodeID }

// SendMessage delivers Message to every node in Nodes.
type SendMessage struct {
	Message OutboundMessage
	Nodes   []NodeID
}

// OpenOutgoingStream asks the engine to open a stream on Protocol to Node and
// drive the given handles. The caller already holds the matching Stream.
type OpenOutgoingStream struct {
	Protocol string
	Node     NodeID
	Producer StreamProducer
	Consumer StreamConsumer
}

// Close asks the engine to tear down the session.
type Close struct{}

func (Connect) isIntent()            {}
func (Disconnect) isIntent()         {}
func (SendMessage) isIntent()        {}
func (OpenOutgoingStream) isIntent() {}
func (Close) isIntent()              {}

func (i Connect) String() string    { return fmt.Sprintf("Connect(%d nodes)", len(i.Nodes)) }
func (i Disconnect) String() string { return fmt.Sprintf("Disconnect(%d nodes)", len(i.Nodes)) }
func (i SendMessage) String() string {
	kind := "request"
	if _, ok := i.Message.(Response); ok {
		kind = "response"
	}
	return fmt.Sprintf("SendMessage(%s on %s, %d nodes)", kind, i.Message.ProtocolName(), len(i.Nodes))
}
func (i OpenOutgoingStream) String() string {
	return fmt.Sprintf("OpenOutgoingStream(%s, %s)", i.Protocol, i.Node.Short())
}
func (Close) String() string { return "Close" }
