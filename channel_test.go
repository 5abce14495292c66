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
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tboser/grpcvcr/cassette"
)

// fakeConn is a minimal grpc.ClientConnInterface test double standing in
// for a real dialed connection.
type fakeConn struct {
	invoke func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	return f.invoke(ctx, method, args, reply, opts...)
}

func (f *fakeConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	panic("not used by these tests")
}

const testMethod = "/test.TestService/GetUser"

func unaryEpisode(t *testing.T, reqFields map[string]any, code string, respFields map[string]any) cassette.Episode {
	t.Helper()
	reqRaw, err := marshalMessage(mustStruct(t, reqFields))
	if err != nil {
		t.Fatalf("marshalMessage: %v", err)
	}
	ep := cassette.Episode{
		Request: cassette.RequestRecord{Method: testMethod, Body: cassette.EncodeBody(reqRaw)},
		RPCType: cassette.Unary,
	}
	resp := &cassette.ResponseRecord{Code: code}
	if code == "OK" {
		respRaw, err := marshalMessage(mustStruct(t, respFields))
		if err != nil {
			t.Fatalf("marshalMessage: %v", err)
		}
		resp.Body = cassette.EncodeBody(respRaw)
	}
	ep.Response = resp
	return ep
}

func TestInvokeReplaysMatchedEpisode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassetteWithEpisode(t, path, unaryEpisode(t, map[string]any{"id": 1.0}, "OK", map[string]any{"name": "Alice"}))
	if err != nil {
		t.Fatalf("cassetteWithEpisode: %v", err)
	}

	ch := Wrap(&fakeConn{invoke: func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		t.Fatalf("real Invoke must not be called for a replayed episode")
		return nil
	}}, cas)

	reply := &structpb.Struct{}
	err = ch.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 1.0}), reply)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply.Fields["name"].GetStringValue() != "Alice" {
		t.Errorf("unexpected reply: %v", reply)
	}
}

func TestInvokeReplaysErrorEpisode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	ep := unaryEpisode(t, map[string]any{"id": 999.0}, "NOT_FOUND", nil)
	details := "User 999 not found"
	ep.Response.Details = &details
	cas, err := cassetteWithEpisode(t, path, ep)
	if err != nil {
		t.Fatalf("cassetteWithEpisode: %v", err)
	}

	ch := Wrap(&fakeConn{}, cas)

	err = ch.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 999.0}), &structpb.Struct{})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if !strings.Contains(status.Convert(err).Message(), "not found") {
		t.Errorf("expected the recorded details in the replayed error, got %q", status.Convert(err).Message())
	}
}

// Record against a live responder, then replay against a connection that
// always fails: the replayed reply and trailing metadata must be
// identical to what was observed live.
func TestRecordThenReplayEquivalence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassette.Open(path, cassette.ModeNewEpisodes, cassette.WithMatcher(cassette.RequestMatcher()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	live := &fakeConn{invoke: func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		out := reply.(*structpb.Struct)
		out.Fields = map[string]*structpb.Value{"name": structpb.NewStringValue("Alice")}
		for _, opt := range opts {
			if tr, ok := opt.(grpc.TrailerCallOption); ok {
				*tr.TrailerAddr = metadata.MD{"x-cost": {"3"}}
			}
		}
		return nil
	}}

	ch := Wrap(live, cas)
	liveReply := &structpb.Struct{}
	var liveTrailer metadata.MD
	if err := ch.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 1.0}), liveReply, grpc.Trailer(&liveTrailer)); err != nil {
		t.Fatalf("Invoke (record): %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	replayCas, err := cassette.Open(path, cassette.ModeNone, cassette.WithMatcher(cassette.RequestMatcher()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	dead := &fakeConn{invoke: func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		return status.Error(codes.Unavailable, "responder is down")
	}}
	replayCh := Wrap(dead, replayCas)

	replayReply := &structpb.Struct{}
	var replayTrailer metadata.MD
	if err := replayCh.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 1.0}), replayReply, grpc.Trailer(&replayTrailer)); err != nil {
		t.Fatalf("Invoke (replay): %v", err)
	}

	if replayReply.Fields["name"].GetStringValue() != liveReply.Fields["name"].GetStringValue() {
		t.Errorf("replayed reply differs from live reply: %v vs %v", replayReply, liveReply)
	}
	if got := replayTrailer.Get("x-cost"); len(got) != 1 || got[0] != "3" {
		t.Errorf("replayed trailer differs from live trailer: %v", replayTrailer)
	}
}

func TestUnaryClientInterceptorRoutesThroughCassette(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassetteWithEpisode(t, path, unaryEpisode(t, map[string]any{"id": 1.0}, "OK", map[string]any{"name": "Alice"}))
	if err != nil {
		t.Fatalf("cassetteWithEpisode: %v", err)
	}

	ch := Wrap(nil, cas)
	intercept := ch.UnaryClientInterceptor()

	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		t.Fatalf("the real invoker must not run for a replayed episode")
		return nil
	}

	reply := &structpb.Struct{}
	if err := intercept(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 1.0}), reply, nil, invoker); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if reply.Fields["name"].GetStringValue() != "Alice" {
		t.Errorf("unexpected reply: %v", reply)
	}
}

func TestInvokeRecordsAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassette.Open(path, cassette.ModeNewEpisodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ch := Wrap(&fakeConn{invoke: func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		out := reply.(*structpb.Struct)
		in := args.(*structpb.Struct)
		out.Fields = map[string]*structpb.Value{
			"echo": structpb.NewNumberValue(in.Fields["id"].GetNumberValue()),
		}
		for _, opt := range opts {
			if h, ok := opt.(grpc.HeaderCallOption); ok {
				*h.HeaderAddr = metadata.MD{"x-trace": {"abc"}}
			}
		}
		return nil
	}}, cas)

	reply := &structpb.Struct{}
	err = ch.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 7.0}), reply)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply.Fields["echo"].GetNumberValue() != 7.0 {
		t.Fatalf("unexpected reply: %v", reply)
	}

	episodes := cas.Episodes()
	if len(episodes) != 1 {
		t.Fatalf("expected 1 recorded episode, got %d", len(episodes))
	}
	if episodes[0].Response.Code != "OK" {
		t.Errorf("expected OK, got %q", episodes[0].Response.Code)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded, err := cassette.Open(path, cassette.ModeNone)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(reloaded.Episodes()) != 1 {
		t.Fatalf("expected the saved cassette to contain 1 episode")
	}
}

func TestInvokeRecordsLiveErrorStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassette.Open(path, cassette.ModeNewEpisodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ch := Wrap(&fakeConn{invoke: func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		return status.Error(codes.PermissionDenied, "nope")
	}}, cas)

	err = ch.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 1.0}), &structpb.Struct{})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	episodes := cas.Episodes()
	if len(episodes) != 1 || episodes[0].Response.Code != "PERMISSION_DENIED" {
		t.Fatalf("unexpected recorded episode: %+v", episodes)
	}
}

func TestInvokeWithoutRealConnectionFailsWhenUnmatched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassette.Open(path, cassette.ModeNewEpisodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ch := Wrap(nil, cas)

	err = ch.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 1.0}), &structpb.Struct{})
	if err == nil {
		t.Fatalf("expected an error when recording is needed but no connection exists")
	}
	if len(cas.Episodes()) != 0 {
		t.Errorf("a failed forward must not record an episode")
	}
}

// Only trailing metadata is recorded, so a replayed call must surface an
// empty header even when the episode carries trailing metadata.
func TestReplayLeavesInitialMetadataEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	ep := unaryEpisode(t, map[string]any{"id": 1.0}, "OK", map[string]any{"name": "Alice"})
	ep.Response.TrailingMetadata = cassette.MetadataMap{"x-cost": {"3"}}
	cas, err := cassetteWithEpisode(t, path, ep)
	if err != nil {
		t.Fatalf("cassetteWithEpisode: %v", err)
	}

	ch := Wrap(nil, cas)

	var header, trailer metadata.MD
	err = ch.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 1.0}), &structpb.Struct{},
		grpc.Header(&header), grpc.Trailer(&trailer))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if len(header) != 0 {
		t.Errorf("expected an empty header on replay, got %v", header)
	}
	if got := trailer.Get("x-cost"); len(got) != 1 || got[0] != "3" {
		t.Errorf("expected the recorded trailing metadata, got %v", trailer)
	}
}

// A BeforeSave hook mutates the stored episodes themselves, so its
// changes must survive into the file written by Close.
func TestBeforeSaveHookMutationsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassette.Open(path, cassette.ModeNewEpisodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	redact := func(ep *cassette.Episode) {
		delete(ep.Request.Metadata, "authorization")
	}

	ch := Wrap(&fakeConn{invoke: func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		return nil
	}}, cas, WithHook(HookBeforeSave, redact))

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.MD{
		"authorization": {"Bearer secret"},
	})
	if err := ch.Invoke(ctx, testMethod, mustStruct(t, map[string]any{"id": 1.0}), &structpb.Struct{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	// The hook has not run yet; the in-memory episode still carries the
	// header until the save path rewrites it.
	if _, ok := cas.Episodes()[0].Request.Metadata["authorization"]; !ok {
		t.Fatalf("expected authorization to still be present before Close")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded, err := cassette.Open(path, cassette.ModeNone)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	episodes := reloaded.Episodes()
	if len(episodes) != 1 {
		t.Fatalf("expected 1 episode, got %d", len(episodes))
	}
	if _, ok := episodes[0].Request.Metadata["authorization"]; ok {
		t.Errorf("expected the BeforeSave hook's redaction to reach the saved file")
	}
}

func TestOnCloseHookRunsAfterSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassette.Open(path, cassette.ModeNewEpisodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var sawSaved bool
	onClose := func(ep *cassette.Episode) {
		// By the time OnClose fires the cassette must already be on disk.
		if _, statErr := cassette.Open(path, cassette.ModeNone); statErr == nil {
			sawSaved = true
		}
	}

	ch := Wrap(&fakeConn{invoke: func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		return nil
	}}, cas, WithHook(HookOnClose, onClose))

	if err := ch.Invoke(context.Background(), testMethod, mustStruct(t, map[string]any{"id": 1.0}), &structpb.Struct{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sawSaved {
		t.Errorf("expected the cassette file to exist when the OnClose hook ran")
	}
}

func TestAfterCaptureHookCanRedactMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassette.yaml")
	cas, err := cassette.Open(path, cassette.ModeNewEpisodes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	redact := func(ep *cassette.Episode) {
		delete(ep.Request.Metadata, "authorization")
	}

	ch := Wrap(&fakeConn{invoke: func(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
		return nil
	}}, cas, WithHook(HookAfterCapture, redact))

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.MD{
		"authorization": {"Bearer secret"},
		"x-request-id":  {"r1"},
	})
	if err := ch.Invoke(ctx, testMethod, mustStruct(t, map[string]any{"id": 1.0}), &structpb.Struct{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	episodes := cas.Episodes()
	if len(episodes) != 1 {
		t.Fatalf("expected 1 episode, got %d", len(episodes))
	}
	if _, ok := episodes[0].Request.Metadata["authorization"]; ok {
		t.Errorf("expected the hook to strip authorization before the episode was stored")
	}
	if got := episodes[0].Request.Metadata["x-request-id"]; len(got) != 1 || got[0] != "r1" {
		t.Errorf("expected untouched metadata to survive, got %v", episodes[0].Request.Metadata)
	}
}

func cassetteWithEpisode(t *testing.T, path string, ep cassette.Episode) (*cassette.Cassette, error) {
	t.Helper()
	seed, err := cassette.Open(path, cassette.ModeNewEpisodes, cassette.WithMatcher(cassette.RequestMatcher()))
	if err != nil {
		return nil, err
	}
	seed.Record(ep)
	if err := seed.Save(); err != nil {
		return nil, err
	}
	return cassette.Open(path, cassette.ModeNone, cassette.WithMatcher(cassette.RequestMatcher()))
}
