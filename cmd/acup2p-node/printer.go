package main

import (
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/protocol/codec"
)

// printer writes events as text, JSON lines, or protobuf Structs.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	enc    codec.Codec
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	p := &printer{w: w, format: format}
	switch format {
	case "", "text":
		p.format = "text"
		return p, nil
	case "json", "proto":
	default:
		return nil, fmt.Errorf("unknown format %q (want text, json or proto)", format)
	}
	r, err := codec.NewRegistry()
	if err != nil {
		return nil, err
	}
	if p.enc, err = r.Lookup(format); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *printer) event(who string, ev protocol.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "text" {
		_, err := fmt.Fprintf(p.w, "%-5s %s\n", who, ev)
		return err
	}
	rec := eventRecord(ev)
	rec["session"] = who
	wire, err := p.enc.Marshal(rec)
	if err != nil {
		return err
	}
	if p.format == "json" {
		_, err = fmt.Fprintf(p.w, "%s\n", wire)
		return err
	}
	st, err := structpb.NewStruct(rec)
	if err != nil {
		return err
	}
	txt, err := protojson.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.w, "%s (%d bytes)\n", txt, len(wire))
	return err
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

// eventRecord flattens an event into JSON-compatible fields.
func eventRecord(ev protocol.Event) map[string]any {
	switch ev := ev.(type) {
	case protocol.ListeningOn:
		return map[string]any{"event": "listening_on", "address": ev.Address}
	case protocol.Connected:
		return map[string]any{"event": "connected", "peer": ev.Node.String()}
	case protocol.Disconnected:
		return map[string]any{"event": "disconnected", "peer": ev.Node.String()}
	case protocol.RequestReceived:
		return message("request_received", ev.Sender, ev.Request.Protocol, ev.Request.ID, ev.Request.Bytes)
	case protocol.ResponseReceived:
		return message("response_received", ev.Sender, ev.Response.Protocol, ev.Response.ID, ev.Response.Bytes)
	case protocol.RequestSent:
		return message("request_sent", ev.Receiver, ev.Request.Protocol, ev.Request.ID, ev.Request.Bytes)
	case protocol.ResponseSent:
		return message("response_sent", ev.Receiver, ev.Response.Protocol, ev.Response.ID, ev.Response.Bytes)
	case protocol.Failure:
		return map[string]any{"event": "failure", "cause": ev.Cause}
	default:
		return map[string]any{"event": "unknown", "text": ev.String()}
	}
}

func message(kind string, peer protocol.NodeID, proto, id string, b []byte) map[string]any {
	return map[string]any{
		"event":    kind,
		"peer":     peer.String(),
		"protocol": proto,
		"id":       id,
		"bytes":    string(b),
	}
}
