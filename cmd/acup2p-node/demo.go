package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/bridge"
	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/engine/loopback"
	"github.com/Acurast/acup2p/pkg/node"
	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/stream"
)

const echoProtocol = "/echo/1"

func newDemoCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run two loopback nodes that exchange a request and a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			p, err := newPrinter(cmd.OutOrStdout(), opts.Format)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			return runDemo(ctx, cfg, logger, p, opts.Message)
		},
	}
	cmd.Flags().StringVar(&opts.Message, "message", "hello", "payload for the request and the stream")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "event output: text, json or proto")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "give up after this long")
	return cmd
}

// runDemo starts alice with the configured identity and bob with a random
// one. Alice dials bob by address, sends an echo request and then echoes msg
// over a stream.
func runDemo(ctx context.Context, cfg *config.Config, logger *zap.Logger, p *printer, msg string) error {
	nw := loopback.NewNetwork()

	bobCfg := cfg.Clone()
	bobCfg.Identity = config.IdentityConfig{Kind: config.IdentityRandom}
	bobCfg.MessageProtocols = append(bobCfg.MessageProtocols, echoProtocol)
	bobCfg.StreamProtocols = append(bobCfg.StreamProtocols, echoProtocol)

	alice, err := node.New(cfg, loopback.New(nw, loopback.Options{Agent: "acup2p-node/alice"}),
		node.Options{Logger: logger.Named("alice")})
	if err != nil {
		return err
	}
	bob, err := node.New(bobCfg, loopback.New(nw, loopback.Options{Agent: "acup2p-node/bob"}),
		node.Options{Logger: logger.Named("bob")})
	if err != nil {
		_ = alice.Close()
		return err
	}

	var wg sync.WaitGroup
	show := func(who string, n *node.Node) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range n.Events(context.Background()) {
				_ = p.event(who, ev)
			}
		}()
	}
	show("alice", alice)
	show("bob", bob)
	wg.Add(2)
	go func() { defer wg.Done(); answerRequests(ctx, bob) }()
	go func() { defer wg.Done(); echoStreams(ctx, bob) }()

	err = converse(ctx, alice, bob, p, msg)
	_ = alice.Close()
	_ = bob.Close()
	wg.Wait()
	return err
}

func converse(ctx context.Context, alice, bob *node.Node, p *printer, msg string) error {
	bobEvents := bob.Subscribe()
	defer bobEvents.Close()
	ev, err := await(ctx, bobEvents, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.ListeningOn)
		return ok
	})
	if err != nil {
		return err
	}
	addr := ev.(protocol.ListeningOn).Address

	aliceEvents := alice.Subscribe()
	defer aliceEvents.Close()
	alice.Connect(protocol.NodeIDFromAddress(addr))
	ev, err = await(ctx, aliceEvents, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.Connected)
		return ok
	})
	if err != nil {
		return err
	}
	peer := ev.(protocol.Connected).Node

	if err := alice.SendMessage(protocol.Request{Protocol: echoProtocol, Bytes: []byte(msg)}, peer); err != nil {
		return err
	}
	ev, err = await(ctx, aliceEvents, func(ev protocol.Event) bool {
		switch ev.(type) {
		case protocol.ResponseReceived, protocol.Failure:
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	if f, ok := ev.(protocol.Failure); ok {
		return errors.New(f.Cause)
	}
	p.line("request echo: %s", ev.(protocol.ResponseReceived).Response.Bytes)

	s, err := alice.OpenOutgoingStream(echoProtocol, peer)
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Write(ctx, []byte(msg)); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	var got []byte
	for len(got) < len(msg) {
		b, err := s.Read(ctx, len(msg)-len(got))
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		got = append(got, b...)
	}
	p.line("stream echo: %s", got)
	return nil
}

func await(ctx context.Context, sub *bridge.Subscription[protocol.Event], match func(protocol.Event) bool) (protocol.Event, error) {
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.New("session closed")
		}
		if match(ev) {
			return ev, nil
		}
	}
}

// answerRequests replies to every request with its own payload.
func answerRequests(ctx context.Context, n *node.Node) {
	for ev := range n.Events(ctx) {
		if rr, ok := ev.(protocol.RequestReceived); ok {
			_ = n.SendMessage(protocol.NewResponse(rr.Request, rr.Request.Bytes), rr.Sender)
		}
	}
}

// echoStreams writes back whatever each inbound stream reads until it ends.
func echoStreams(ctx context.Context, n *node.Node) {
	for s := range n.IncomingStreams(ctx) {
		go func(s *stream.Stream) {
			defer s.CloseWrite()
			for {
				b, err := s.Read(ctx, 4096)
				if err != nil {
					return
				}
				if _, err := s.Write(ctx, b); err != nil {
					return
				}
			}
		}(s)
	}
}
