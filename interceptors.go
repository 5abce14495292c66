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
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/tboser/grpcvcr/cassette"
)

func marshalMessage(m any) ([]byte, error) {
	msg, ok := m.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("grpcvcr: %T does not implement proto.Message", m)
	}
	return proto.Marshal(msg)
}

func unmarshalInto(m any, raw []byte) error {
	msg, ok := m.(proto.Message)
	if !ok {
		return fmt.Errorf("grpcvcr: %T does not implement proto.Message", m)
	}
	return proto.Unmarshal(raw, msg)
}

// outgoingMetadata collects the metadata attached to ctx as outgoing
// metadata (metadata.NewOutgoingContext and the like); call options are
// not consulted.
func outgoingMetadata(ctx context.Context) cassette.MetadataMap {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return nil
	}
	return cassette.MetadataMap(md.Copy())
}

// applyHeaderTrailerOptions writes header and trailer into the
// grpc.HeaderCallOption and grpc.TrailerCallOption values found in opts,
// the same exported call options a real ClientConn honors.
func applyHeaderTrailerOptions(opts []grpc.CallOption, header, trailer metadata.MD) {
	for _, opt := range opts {
		switch o := opt.(type) {
		case grpc.HeaderCallOption:
			*o.HeaderAddr = header
		case grpc.TrailerCallOption:
			*o.TrailerAddr = trailer
		}
	}
}

func mdFromMap(m cassette.MetadataMap) metadata.MD {
	if m == nil {
		return nil
	}
	return metadata.MD(m.Clone())
}

// handleUnary implements the six-step unary replay/record skeleton:
// marshal the request, consult the cassette, either replay a stored
// episode or forward to the real invoker and record the outcome,
// populate any header/trailer call options, and return a status error on
// a non-OK code.
func (ch *Channel) handleUnary(
	ctx context.Context,
	method string,
	args, reply any,
	invoker func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error,
	opts []grpc.CallOption,
) error {
	reqBody, err := marshalMessage(args)
	if err != nil {
		return err
	}

	req := cassette.RequestRecord{
		Method:   method,
		Body:     cassette.EncodeBody(reqBody),
		Metadata: outgoingMetadata(ctx),
	}

	episode, found, mayRecord, err := ch.cassette.Consult(req)
	switch {
	case err != nil:
		ch.logger.Warn("grpcvcr: recording disabled", "method", method, "error", err)
		return err
	case found:
		ch.logger.Debug("grpcvcr: replaying unary call", "method", method)
		ch.runHooks(HookBeforeReplay, &episode)
		return ch.replayUnary(episode, reply, opts)
	case mayRecord:
		ch.logger.Debug("grpcvcr: recording unary call", "method", method)
		return ch.recordUnary(ctx, method, args, reply, req, invoker, opts)
	default:
		return fmt.Errorf("grpcvcr: cassette consult returned neither a match nor permission to record")
	}
}

func (ch *Channel) replayUnary(episode cassette.Episode, reply any, opts []grpc.CallOption) error {
	resp := episode.Response
	trailer := mdFromMap(resp.TrailingMetadata)
	// Only trailing metadata is recorded; a replayed call's initial
	// metadata is always empty.
	applyHeaderTrailerOptions(opts, nil, trailer)

	code := codeFromCanonicalName(resp.Code)
	if code != codes.OK {
		detail := ""
		if resp.Details != nil {
			detail = *resp.Details
		}
		return status.Error(code, detail)
	}

	raw, err := cassette.DecodeBody(resp.Body)
	if err != nil {
		return err
	}
	return unmarshalInto(reply, raw)
}

func (ch *Channel) recordUnary(
	ctx context.Context,
	method string,
	args, reply any,
	req cassette.RequestRecord,
	invoker func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error,
	opts []grpc.CallOption,
) error {
	var header, trailer metadata.MD
	liveOpts := append(append([]grpc.CallOption(nil), opts...), grpc.Header(&header), grpc.Trailer(&trailer))

	callErr := invoker(ctx, method, args, reply, liveOpts...)
	applyHeaderTrailerOptions(opts, header, trailer)

	if ctx.Err() != nil {
		// The caller's context was cancelled before the call reached a
		// terminal state; don't commit a partial recording.
		return callErr
	}

	if callErr != nil {
		if _, ok := status.FromError(callErr); !ok {
			// Not an RPC outcome (no connection configured, marshal
			// failure); there is nothing to replay, so nothing to record.
			return callErr
		}
	}

	resp := &cassette.ResponseRecord{
		Code:             canonicalCodeName(status.Code(callErr)),
		TrailingMetadata: cassette.MetadataMap(trailer),
	}
	if callErr != nil {
		detail := status.Convert(callErr).Message()
		resp.Details = &detail
	} else {
		raw, err := marshalMessage(reply)
		if err != nil {
			return err
		}
		resp.Body = cassette.EncodeBody(raw)
	}

	episode := cassette.Episode{Request: req, Response: resp, RPCType: cassette.Unary}
	ch.runHooks(HookAfterCapture, &episode)
	ch.cassette.Record(episode)

	return callErr
}

// streamShape classifies a *grpc.StreamDesc into one of the three
// streaming RPC types; desc.ClientStreams && desc.ServerStreams is bidi.
func streamShape(desc *grpc.StreamDesc) cassette.RPCType {
	switch {
	case desc.ClientStreams && desc.ServerStreams:
		return cassette.BidiStreaming
	case desc.ClientStreams:
		return cassette.ClientStreaming
	default:
		return cassette.ServerStreaming
	}
}
