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

package grpcvcr

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc/metadata"

	"github.com/tboser/grpcvcr/cassette"
)

// closeSendFunc is invoked once the request body of a deferred fake stream
// is fully known: on CloseSend for client-streaming and bidi-streaming, on
// the first SendMsg for server-streaming. It receives the base64 bodies
// sent so far, in send order, and returns the response messages, terminal
// error, header and trailer the stream serves, or an error if the call can
// be neither replayed nor recorded.
type closeSendFunc func(sentBodies []string) (messages []string, finalErr error, header, trailer metadata.MD, err error)

// fakeClientStream implements grpc.ClientStream entirely out of a
// cassette episode, without a real network connection. It covers all
// three streaming shapes, each constructed with a closeSendFunc:
//
//   - server-streaming: triggerOnFirstSend is set, so the cassette is
//     consulted as soon as the single request message is sent.
//   - client-streaming and bidi-streaming: SendMsg only accumulates bytes,
//     and the cassette is consulted lazily, once CloseSend observes the
//     complete request.
type fakeClientStream struct {
	ctx context.Context

	mu          sync.Mutex
	header      metadata.MD
	trailer     metadata.MD
	headerReady chan struct{}

	sentBodies  []string
	onCloseSend closeSendFunc

	// triggerOnFirstSend makes the very first SendMsg resolve onCloseSend
	// immediately, instead of waiting for an explicit CloseSend; grpc-go
	// half-closes a server-streaming call's send side after that first
	// message, so there is no later CloseSend to wait for.
	triggerOnFirstSend bool

	recvMessages []string
	recvIndex    int
	finalErr     error
	closeErr     error
}

// newReplayStream builds a fakeClientStream whose response side is
// already known at construction time, for tests that want to assert on a
// finished exchange directly.
func newReplayStream(ctx context.Context, messages []string, finalErr error, header, trailer metadata.MD) *fakeClientStream {
	s := &fakeClientStream{
		ctx:          ctx,
		header:       header,
		trailer:      trailer,
		headerReady:  make(chan struct{}),
		recvMessages: messages,
		finalErr:     finalErr,
	}
	close(s.headerReady)
	return s
}

// newDeferredStream builds a fakeClientStream whose response side is
// resolved lazily by onCloseSend, once the caller finishes sending.
func newDeferredStream(ctx context.Context, onCloseSend closeSendFunc) *fakeClientStream {
	return &fakeClientStream{
		ctx:         ctx,
		headerReady: make(chan struct{}),
		onCloseSend: onCloseSend,
	}
}

func (s *fakeClientStream) Header() (metadata.MD, error) {
	<-s.headerReady
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header, s.closeErr
}

func (s *fakeClientStream) Trailer() metadata.MD {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trailer
}

func (s *fakeClientStream) CloseSend() error {
	return s.resolve()
}

func (s *fakeClientStream) Context() context.Context {
	return s.ctx
}

func (s *fakeClientStream) SendMsg(m any) error {
	raw, err := marshalMessage(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sentBodies = append(s.sentBodies, cassette.EncodeBody(raw))
	first := s.triggerOnFirstSend && len(s.sentBodies) == 1
	s.mu.Unlock()

	if first {
		return s.resolve()
	}
	return nil
}

// resolve runs onCloseSend exactly once, whether triggered by CloseSend
// (client-streaming, bidi-streaming) or by the first SendMsg
// (server-streaming). Later calls are no-ops.
func (s *fakeClientStream) resolve() error {
	s.mu.Lock()
	if s.onCloseSend == nil {
		s.mu.Unlock()
		return nil
	}
	sent := append([]string(nil), s.sentBodies...)
	onCloseSend := s.onCloseSend
	s.onCloseSend = nil
	s.mu.Unlock()

	messages, finalErr, header, trailer, err := onCloseSend(sent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.closeErr = err
	} else {
		s.recvMessages = messages
		s.finalErr = finalErr
		s.header = header
		s.trailer = trailer
	}
	close(s.headerReady)
	return err
}

func (s *fakeClientStream) RecvMsg(m any) error {
	<-s.headerReady

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeErr != nil {
		return s.closeErr
	}
	if s.recvIndex < len(s.recvMessages) {
		body := s.recvMessages[s.recvIndex]
		s.recvIndex++
		raw, err := cassette.DecodeBody(body)
		if err != nil {
			return err
		}
		return unmarshalInto(m, raw)
	}
	if s.finalErr != nil {
		return s.finalErr
	}
	return io.EOF
}

// joinBodies builds a streaming call's RequestRecord.Body: the base64
// encoding of every sent message's serialized bytes, concatenated in send
// order.
func joinBodies(bodies []string) string {
	var raw []byte
	for _, body := range bodies {
		// Every body was produced by cassette.EncodeBody in SendMsg, so it
		// always decodes.
		b, _ := cassette.DecodeBody(body)
		raw = append(raw, b...)
	}
	return cassette.EncodeBody(raw)
}
