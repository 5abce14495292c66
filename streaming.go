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
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tboser/grpcvcr/cassette"
)

// handleServerStreaming returns a stream that consults the cassette as
// soon as the single client-to-server message has been sent (grpc-go
// half-closes the send side of a server-streaming call after that first
// SendMsg, so there is never a second one to wait for).
func (ch *Channel) handleServerStreaming(ctx context.Context, method string, streamer grpc.Streamer, desc *grpc.StreamDesc, opts []grpc.CallOption) (grpc.ClientStream, error) {
	s := newDeferredStream(ctx, ch.consultFunc(ctx, method, opts, cassette.ServerStreaming, streamer, desc))
	s.triggerOnFirstSend = true
	return s, nil
}

// handleClientStreaming and handleBidiStreaming both defer consulting the
// cassette until CloseSend, since the full request body is the
// concatenation of every message the caller sends.
func (ch *Channel) handleClientStreaming(ctx context.Context, method string, streamer grpc.Streamer, desc *grpc.StreamDesc, opts []grpc.CallOption) (grpc.ClientStream, error) {
	return newDeferredStream(ctx, ch.consultFunc(ctx, method, opts, cassette.ClientStreaming, streamer, desc)), nil
}

func (ch *Channel) handleBidiStreaming(ctx context.Context, method string, streamer grpc.Streamer, desc *grpc.StreamDesc, opts []grpc.CallOption) (grpc.ClientStream, error) {
	return newDeferredStream(ctx, ch.consultFunc(ctx, method, opts, cassette.BidiStreaming, streamer, desc)), nil
}

// consultFunc builds the closeSendFunc shared by all three streaming
// shapes: given the bodies sent so far, either replay a matched episode
// or open a real stream, drain it to completion, and record what came
// back.
func (ch *Channel) consultFunc(ctx context.Context, method string, opts []grpc.CallOption, rpcType cassette.RPCType, streamer grpc.Streamer, desc *grpc.StreamDesc) closeSendFunc {
	return func(sentBodies []string) ([]string, error, metadata.MD, metadata.MD, error) {
		req := cassette.RequestRecord{
			Method:   method,
			Body:     joinBodies(sentBodies),
			Metadata: outgoingMetadata(ctx),
		}

		episode, found, mayRecord, err := ch.cassette.Consult(req)
		switch {
		case err != nil:
			ch.logger.Warn("grpcvcr: recording disabled", "method", method, "error", err)
			return nil, nil, nil, nil, err
		case found:
			ch.logger.Debug("grpcvcr: replaying streaming call", "method", method)
			ch.runHooks(HookBeforeReplay, &episode)
			messages, finalErr, trailer := decodeStreamingEpisode(episode, rpcType)
			// Only trailing metadata is recorded; a replayed stream's
			// initial metadata is always empty.
			return messages, finalErr, nil, trailer, nil
		case mayRecord:
			ch.logger.Debug("grpcvcr: recording streaming call", "method", method)
			return ch.recordStream(ctx, method, req, sentBodies, rpcType, streamer, desc, opts)
		default:
			return nil, nil, nil, nil, errors.New("grpcvcr: cassette consult returned neither a match nor permission to record")
		}
	}
}

// decodeStreamingEpisode turns a matched Episode back into the messages,
// terminal error and trailing metadata the deferred stream serves to the
// caller. ClientStreaming carries its
// single reply in Response, while ServerStreaming and BidiStreaming carry
// the full message sequence in StreamingResponse.
func decodeStreamingEpisode(episode cassette.Episode, rpcType cassette.RPCType) (messages []string, finalErr error, trailer metadata.MD) {
	if rpcType == cassette.ClientStreaming {
		resp := episode.Response
		trailer = mdFromMap(resp.TrailingMetadata)
		if code := codeFromCanonicalName(resp.Code); code != codes.OK {
			detail := ""
			if resp.Details != nil {
				detail = *resp.Details
			}
			return nil, status.Error(code, detail), trailer
		}
		if resp.Body == "" {
			return nil, nil, trailer
		}
		return []string{resp.Body}, nil, trailer
	}

	sr := episode.StreamingResponse
	trailer = mdFromMap(sr.TrailingMetadata)
	if code := codeFromCanonicalName(sr.Code); code != codes.OK {
		detail := ""
		if sr.Details != nil {
			detail = *sr.Details
		}
		return sr.Messages, status.Error(code, detail), trailer
	}
	return sr.Messages, nil, trailer
}

// recordStream opens the real stream, replays every already-sent message
// into it, drains the server's responses to completion, and records the
// resulting episode. It returns the drained messages/error so the caller
// half of the fake stream (already returned to the application) can serve
// them from memory, since the real stream has, at this point, already run
// to completion.
func (ch *Channel) recordStream(
	ctx context.Context,
	method string,
	req cassette.RequestRecord,
	sentBodies []string,
	rpcType cassette.RPCType,
	streamer grpc.Streamer,
	desc *grpc.StreamDesc,
	opts []grpc.CallOption,
) (messages []string, finalErr error, header, trailer metadata.MD, err error) {
	rawOpts := append(append([]grpc.CallOption(nil), opts...), grpc.ForceCodec(rawCodec{}))
	real, err := streamer(ctx, desc, nil, method, rawOpts...)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	for _, body := range sentBodies {
		raw, decErr := cassette.DecodeBody(body)
		if decErr != nil {
			return nil, nil, nil, nil, decErr
		}
		if sendErr := real.SendMsg(&Frame{Payload: raw}); sendErr != nil {
			return nil, nil, nil, nil, sendErr
		}
	}
	if closeErr := real.CloseSend(); closeErr != nil {
		return nil, nil, nil, nil, closeErr
	}

	header, _ = real.Header()

	var recorded []string
	for {
		frame := new(Frame)
		recvErr := real.RecvMsg(frame)
		if recvErr != nil {
			if recvErr != io.EOF {
				finalErr = recvErr
			}
			break
		}
		recorded = append(recorded, cassette.EncodeBody(frame.Payload))
	}
	trailer = real.Trailer()

	if ctx.Err() != nil {
		// Don't commit a partial recording for a call the caller cancelled
		// before it reached a terminal state.
		return recorded, finalErr, header, trailer, nil
	}

	episode := buildStreamingEpisode(req, rpcType, recorded, finalErr, trailer)
	ch.runHooks(HookAfterCapture, &episode)
	ch.cassette.Record(episode)

	return recorded, finalErr, header, trailer, nil
}

// buildStreamingEpisode assembles the Episode to record, choosing between
// Response and StreamingResponse the same way decodeStreamingEpisode reads
// them back: ClientStreaming gets a single Response carrying the lone
// reply message (or none, on error); ServerStreaming and BidiStreaming get
// the full message sequence in StreamingResponse.
func buildStreamingEpisode(req cassette.RequestRecord, rpcType cassette.RPCType, recorded []string, finalErr error, trailer metadata.MD) cassette.Episode {
	episode := cassette.Episode{Request: req, RPCType: rpcType}
	code := canonicalCodeName(status.Code(finalErr))

	if rpcType == cassette.ClientStreaming {
		resp := &cassette.ResponseRecord{
			Code:             code,
			TrailingMetadata: cassette.MetadataMap(trailer),
		}
		if finalErr != nil {
			detail := status.Convert(finalErr).Message()
			resp.Details = &detail
		} else if len(recorded) > 0 {
			resp.Body = recorded[0]
		}
		episode.Response = resp
		return episode
	}

	sr := &cassette.StreamingResponseRecord{
		Messages:         recorded,
		Code:             code,
		TrailingMetadata: cassette.MetadataMap(trailer),
	}
	if finalErr != nil {
		detail := status.Convert(finalErr).Message()
		sr.Details = &detail
	}
	episode.StreamingResponse = sr
	return episode
}

// Frame carries an already-serialized message body through a real
// grpc.ClientStream without re-decoding it into a concrete generated
// type. It is paired with rawCodec, installed via grpc.ForceCodec, the
// same technique reverse-proxying gRPC middleware uses to stay agnostic
// of the service's actual message types.
type Frame struct {
	Payload []byte
}

// rawCodec implements encoding.Codec by treating every message as an
// opaque *Frame, copying bytes instead of invoking proto marshal/unmarshal.
// grpc's encoding.Codec interface takes interface{}, not proto.Message, so
// nothing about this requires generated types.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, errors.New("grpcvcr: rawCodec given a non-Frame message")
	}
	return f.Payload, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return errors.New("grpcvcr: rawCodec given a non-Frame message")
	}
	f.Payload = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "grpcvcr-raw" }
