// Copyright (c) 2015-2024 Marin Atanasov Nikolov <dnaeon@gmail.com>
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer
//    in this position and unchanged.
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE AUTHOR(S) ``AS IS'' AND ANY EXPRESS OR
// IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES
// OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE DISCLAIMED.
// IN NO EVENT SHALL THE AUTHOR(S) BE LIABLE FOR ANY DIRECT, INDIRECT,
// INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT
// NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF
// THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package grpcvcr records and replays gRPC client calls against an
// on-disk cassette, the gRPC analogue of an HTTP VCR. A Channel
// implements grpc.ClientConnInterface, so generated client stubs can be
// pointed at it exactly as they would a *grpc.ClientConn.
package grpcvcr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"

	"github.com/tboser/grpcvcr/cassette"
)

// Channel is a grpc.ClientConnInterface backed by a cassette. Depending
// on the cassette's record mode, a call is either replayed from a
// previously recorded Episode or forwarded to a real connection and
// recorded for next time.
type Channel struct {
	cassette *cassette.Cassette
	logger   *slog.Logger
	hooks    []Hook

	mu     sync.Mutex
	real   grpc.ClientConnInterface
	owned  *grpc.ClientConn // non-nil only when Dial opened it; Close() closes this
	closed bool
}

// ChannelOption configures a Channel at construction time.
type ChannelOption func(*Channel)

// WithLogger overrides the default logger, slog.Default().
func WithLogger(logger *slog.Logger) ChannelOption {
	return func(ch *Channel) { ch.logger = logger }
}

// WithHook registers a Hook to run at the given stage.
func WithHook(kind HookKind, handler HookFunc) ChannelOption {
	return func(ch *Channel) { ch.hooks = append(ch.hooks, Hook{Kind: kind, Handler: handler}) }
}

func newChannel(cas *cassette.Cassette, opts []ChannelOption) *Channel {
	ch := &Channel{
		cassette: cas,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Dial opens a real connection to target using dialOpts and wraps it in a
// Channel backed by cas. The Channel owns the connection: Close both
// saves the cassette and closes the underlying *grpc.ClientConn. When cas
// cannot record (ModeNone), no connection is opened and target and
// dialOpts are not used; every call is served from the cassette.
func Dial(target string, cas *cassette.Cassette, dialOpts []grpc.DialOption, opts ...ChannelOption) (*Channel, error) {
	ch := newChannel(cas, opts)

	if cas.CanRecord() {
		conn, err := grpc.NewClient(target, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("grpcvcr: dial %s: %w", target, err)
		}
		ch.real = conn
		ch.owned = conn
	}

	return ch, nil
}

// Wrap builds a Channel backed by cas that forwards live calls to real
// when recording. Unlike Dial, Close never closes real; the caller
// retains ownership of it.
func Wrap(real grpc.ClientConnInterface, cas *cassette.Cassette, opts ...ChannelOption) *Channel {
	ch := newChannel(cas, opts)
	ch.real = real
	return ch
}

// Close runs the BeforeSave hook over the stored episodes, saves the
// cassette, runs the OnClose hook, and closes the underlying connection
// if this Channel owns one (i.e. it was built with Dial).
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true

	if ch.hasHooks(HookBeforeSave) {
		ch.cassette.Mutate(func(ep *cassette.Episode) {
			ch.runHooks(HookBeforeSave, ep)
		})
	}

	saveErr := ch.cassette.Save()

	for _, ep := range ch.cassette.Episodes() {
		ch.runHooks(HookOnClose, &ep)
	}

	if ch.owned != nil {
		if closeErr := ch.owned.Close(); closeErr != nil && saveErr == nil {
			return closeErr
		}
	}
	return saveErr
}

// Invoke implements grpc.ClientConnInterface for unary calls.
func (ch *Channel) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	invoker := func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		ch.mu.Lock()
		real := ch.real
		ch.mu.Unlock()
		if real == nil {
			return fmt.Errorf("grpcvcr: %s not in cassette and no real connection configured", method)
		}
		return real.Invoke(ctx, method, args, reply, opts...)
	}
	return ch.handleUnary(ctx, method, args, reply, invoker, opts)
}

// NewStream implements grpc.ClientConnInterface for all three streaming
// shapes, dispatching on desc.ClientStreams/desc.ServerStreams.
func (ch *Channel) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	streamer := func(ctx context.Context, desc *grpc.StreamDesc, _ *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		ch.mu.Lock()
		real := ch.real
		ch.mu.Unlock()
		if real == nil {
			return nil, fmt.Errorf("grpcvcr: %s not in cassette and no real connection configured", method)
		}
		return real.NewStream(ctx, desc, method, opts...)
	}

	return ch.dispatchStream(ctx, desc, method, streamer, opts)
}

func (ch *Channel) dispatchStream(ctx context.Context, desc *grpc.StreamDesc, method string, streamer grpc.Streamer, opts []grpc.CallOption) (grpc.ClientStream, error) {
	switch streamShape(desc) {
	case cassette.ServerStreaming:
		return ch.handleServerStreaming(ctx, method, streamer, desc, opts)
	case cassette.ClientStreaming:
		return ch.handleClientStreaming(ctx, method, streamer, desc, opts)
	default:
		return ch.handleBidiStreaming(ctx, method, streamer, desc, opts)
	}
}

// UnaryClientInterceptor returns an interceptor that routes unary calls
// through the cassette, for callers who want to install the recorder on a
// connection they dialed themselves via grpc.WithUnaryInterceptor instead
// of pointing their stubs at the Channel.
func (ch *Channel) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		wrapped := func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
			return invoker(ctx, method, args, reply, cc, opts...)
		}
		return ch.handleUnary(ctx, method, req, reply, wrapped, opts)
	}
}

// StreamClientInterceptor is the streaming counterpart of
// UnaryClientInterceptor, covering the server-streaming, client-streaming
// and bidi shapes, installable via grpc.WithStreamInterceptor.
func (ch *Channel) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		wrapped := func(ctx context.Context, desc *grpc.StreamDesc, _ *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			return streamer(ctx, desc, cc, method, opts...)
		}
		return ch.dispatchStream(ctx, desc, method, wrapped, opts)
	}
}
