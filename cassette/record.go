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

// Package cassette holds the recorded-episode data model, the matcher
// algebra used to look one up, and the Cassette type that owns the
// record-mode state machine and on-disk persistence.
package cassette

import (
	"encoding/base64"
	"fmt"
)

// RPCType identifies which of the four gRPC call shapes an Episode
// records.
type RPCType string

// The four gRPC call shapes.
const (
	Unary           RPCType = "unary"
	ServerStreaming RPCType = "server_streaming"
	ClientStreaming RPCType = "client_streaming"
	BidiStreaming   RPCType = "bidi_streaming"
)

func (t RPCType) valid() bool {
	switch t {
	case Unary, ServerStreaming, ClientStreaming, BidiStreaming:
		return true
	default:
		return false
	}
}

// streams reports whether the response side of t is a StreamingResponseRecord.
func (t RPCType) streams() bool {
	return t == ServerStreaming || t == BidiStreaming
}

// MetadataMap maps a lowercase header key to its list of values. The order
// of values within a key is preserved; the order of keys is not (it is a
// Go map, and both cassette encodings write keys sorted). Two MetadataMaps
// are equal, for matching purposes, when they agree on every key's value
// list; a missing key is distinct from a key mapped to an empty list.
type MetadataMap map[string][]string

// Clone returns a deep copy of m.
func (m MetadataMap) Clone() MetadataMap {
	if m == nil {
		return nil
	}
	out := make(MetadataMap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RequestRecord is one recorded request.
type RequestRecord struct {
	// Method is the canonical gRPC method path "/pkg.Service/Method".
	Method string
	// Body is the base64 text of the serialized request payload. For
	// client-streamed calls this is the concatenation of every message
	// serialized in send order.
	Body string
	// Metadata is the request's outgoing metadata.
	Metadata MetadataMap
}

// ResponseRecord is a non-streaming outcome.
type ResponseRecord struct {
	// Body is base64 text, empty when Code != OK.
	Body string
	// Code is the canonical gRPC status code name, e.g. "OK", "NOT_FOUND".
	Code string
	// Details is a human string explaining an error, nil when absent.
	Details *string
	// TrailingMetadata is the trailing metadata returned with the response.
	TrailingMetadata MetadataMap
}

// StreamingResponseRecord is a streamed outcome.
type StreamingResponseRecord struct {
	// Messages are the base64 bodies of every message observed on the
	// wire, in order. For a terminal error, messages received before the
	// error are preserved here and the error is raised after the last one.
	Messages         []string
	Code             string
	Details          *string
	TrailingMetadata MetadataMap
}

// Episode is one recorded (request, response, rpc_type) triple. Exactly
// one of Response or StreamingResponse is populated, chosen by RPCType:
// Unary and ClientStreaming carry Response;
// ServerStreaming and BidiStreaming carry StreamingResponse.
type Episode struct {
	Request           RequestRecord
	Response          *ResponseRecord
	StreamingResponse *StreamingResponseRecord
	RPCType           RPCType
}

// Validate checks that the populated response variant agrees
// with RPCType.
func (e Episode) Validate() error {
	if !e.RPCType.valid() {
		return fmt.Errorf("cassette: unknown rpc_type %q", e.RPCType)
	}
	if e.RPCType.streams() {
		if e.StreamingResponse == nil {
			return fmt.Errorf("cassette: rpc_type %q requires a streaming response", e.RPCType)
		}
		if e.Response != nil {
			return fmt.Errorf("cassette: rpc_type %q must not carry a non-streaming response", e.RPCType)
		}
	} else {
		if e.Response == nil {
			return fmt.Errorf("cassette: rpc_type %q requires a non-streaming response", e.RPCType)
		}
		if e.StreamingResponse != nil {
			return fmt.Errorf("cassette: rpc_type %q must not carry a streaming response", e.RPCType)
		}
	}
	return nil
}

// EncodeBody base64-encodes raw wire bytes using the standard RFC 4648 §4
// alphabet with "=" padding, the encoding required of every body field.
func EncodeBody(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeBody reverses EncodeBody.
func DecodeBody(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}
