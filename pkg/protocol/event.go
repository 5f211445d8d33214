package protocol

import "fmt"

// Event is an engine-reported occurrence. The set of variants is closed;
// consumers switch over the concrete types below.
type Event interface {
	isEvent()
	String() string
}

// ListeningOn reports a local address the engine accepts connections on.
type ListeningOn struct{ Address string }

// Connected reports an established, authenticated peer connection.
type Connected struct{ Node NodeID }

// Disconnected reports a peer connection going away.
type Disconnected struct{ Node NodeID }

// RequestReceived reports an inbound request from Sender.
type RequestReceived struct {
	Sender  NodeID
	Request InboundRequest
}

// ResponseReceived reports an inbound response from Sender.
type ResponseReceived struct {
	Sender   NodeID
	Response InboundResponse
}

// RequestSent reports a request handed to the wire for Receiver.
type RequestSent struct {
	Receiver NodeID
	Request  OutboundRequest
}

// ResponseSent reports a response handed to the wire for Receiver.
type ResponseSent struct {
	Receiver NodeID
	Response OutboundResponse
}

// Failure reports an engine error. The session keeps running.
type Failure struct{ Cause string }

func (ListeningOn) isEvent()      {}
func (Connected) isEvent()        {}
func (Disconnected) isEvent()     {}
func (RequestReceived) isEvent()  {}
func (ResponseReceived) isEvent() {}
func (RequestSent) isEvent()      {}
func (ResponseSent) isEvent()     {}
func (Failure) isEvent()          {}

func (e ListeningOn) String() string  { return "ListeningOn(" + e.Address + ")" }
func (e Connected) String() string    { return "Connected(" + e.Node.Short() + ")" }
func (e Disconnected) String() string { return "Disconnected(" + e.Node.Short() + ")" }
func (e RequestReceived) String() string {
	return fmt.Sprintf("RequestReceived(from=%s %s)", e.Sender.Short(), e.Request)
}
func (e ResponseReceived) String() string {
	return fmt.Sprintf("ResponseReceived(from=%s %s)", e.Sender.Short(), e.Response)
}
func (e RequestSent) String() string {
	return fmt.Sprintf("RequestSent(to=%s %s)", e.Receiver.Short(), e.Request)
}
func (e ResponseSent) String() string {
	return fmt.Sprintf("ResponseSent(to=%s %s)", e.Receiver.Short(), e.Response)
}
func (e Failure) String() string { return "Failure(" + e.Cause + ")" }

// Failuref formats a Failure event.
func Failuref(format string, args ...any) Failure {
	return Failure{Cause: fmt.Sprintf(format, args...)}
}
