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

package cassette

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Version is the supported cassette schema version.
const Version = 1

// document is the on-disk shape shared by both the JSON and the YAML
// encodings; only the struct tags differ between the two formats.
type document struct {
	Version      int              `json:"version" yaml:"version"`
	Interactions []interactionDoc `json:"interactions" yaml:"interactions"`
}

type requestDoc struct {
	Method   string              `json:"method" yaml:"method"`
	Body     string              `json:"body" yaml:"body"`
	Metadata map[string][]string `json:"metadata" yaml:"metadata"`
}

type responseDoc struct {
	Body             *string             `json:"body" yaml:"body"`
	Messages         []string            `json:"messages,omitempty" yaml:"messages,omitempty"`
	Code             string              `json:"code" yaml:"code"`
	Details          *string             `json:"details" yaml:"details"`
	TrailingMetadata map[string][]string `json:"trailing_metadata" yaml:"trailing_metadata"`
}

type interactionDoc struct {
	Request  requestDoc  `json:"request" yaml:"request"`
	Response responseDoc `json:"response" yaml:"response"`
	RPCType  string      `json:"rpc_type" yaml:"rpc_type"`
}

func encodeEpisode(e Episode) interactionDoc {
	doc := interactionDoc{
		Request: requestDoc{
			Method:   e.Request.Method,
			Body:     e.Request.Body,
			Metadata: map[string][]string(e.Request.Metadata),
		},
		RPCType: string(e.RPCType),
	}

	switch {
	case e.Response != nil:
		if e.Response.Body != "" {
			body := e.Response.Body
			doc.Response.Body = &body
		}
		doc.Response.Code = e.Response.Code
		doc.Response.Details = e.Response.Details
		doc.Response.TrailingMetadata = map[string][]string(e.Response.TrailingMetadata)
	case e.StreamingResponse != nil:
		doc.Response.Messages = e.StreamingResponse.Messages
		doc.Response.Code = e.StreamingResponse.Code
		doc.Response.Details = e.StreamingResponse.Details
		doc.Response.TrailingMetadata = map[string][]string(e.StreamingResponse.TrailingMetadata)
	}

	return doc
}

func decodeEpisode(d interactionDoc) (Episode, error) {
	rpcType := RPCType(d.RPCType)
	if !rpcType.valid() {
		return Episode{}, &SerializationError{Message: fmt.Sprintf("unknown rpc_type %q", d.RPCType)}
	}

	// yaml.v3 writes a nil map as {} and reads it back as an empty map, so
	// an empty metadata map decodes as nil in both formats.
	metadataOf := func(m map[string][]string) MetadataMap {
		if len(m) == 0 {
			return nil
		}
		return MetadataMap(m)
	}

	ep := Episode{
		Request: RequestRecord{
			Method:   d.Request.Method,
			Body:     d.Request.Body,
			Metadata: metadataOf(d.Request.Metadata),
		},
		RPCType: rpcType,
	}

	if rpcType.streams() {
		if d.Response.Body != nil && *d.Response.Body != "" {
			return Episode{}, &SerializationError{Message: fmt.Sprintf("rpc_type %q must not carry a non-streaming body", rpcType)}
		}
		ep.StreamingResponse = &StreamingResponseRecord{
			Messages:         d.Response.Messages,
			Code:             d.Response.Code,
			Details:          d.Response.Details,
			TrailingMetadata: metadataOf(d.Response.TrailingMetadata),
		}
	} else {
		if len(d.Response.Messages) > 0 {
			return Episode{}, &SerializationError{Message: fmt.Sprintf("rpc_type %q must not carry streaming messages", rpcType)}
		}
		body := ""
		if d.Response.Body != nil {
			body = *d.Response.Body
		}
		ep.Response = &ResponseRecord{
			Body:             body,
			Code:             d.Response.Code,
			Details:          d.Response.Details,
			TrailingMetadata: metadataOf(d.Response.TrailingMetadata),
		}
	}

	return ep, nil
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func loadDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}

	var doc document
	if isJSONPath(path) {
		if err := json.Unmarshal(data, &doc); err != nil {
			return document{}, &SerializationError{Message: "malformed JSON cassette", Cause: err}
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return document{}, &SerializationError{Message: "malformed YAML cassette", Cause: err}
		}
	}

	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Version != Version {
		return document{}, &SerializationError{Message: fmt.Sprintf("unsupported cassette version %d", doc.Version)}
	}

	return doc, nil
}

func saveDocument(path string, doc document) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var data []byte
	var err error
	if isJSONPath(path) {
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	} else {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if encErr := enc.Encode(doc); encErr != nil {
			err = encErr
		} else {
			err = enc.Close()
		}
		data = buf.Bytes()
	}
	if err != nil {
		return &SerializationError{Message: "failed to encode cassette", Cause: err}
	}

	return os.WriteFile(path, data, 0o644)
}

// LoadEpisodes reads and decodes every episode from the cassette file at
// path. The document format is chosen by extension: ".json" selects JSON,
// anything else selects YAML.
func LoadEpisodes(path string) ([]Episode, error) {
	doc, err := loadDocument(path)
	if err != nil {
		return nil, err
	}

	episodes := make([]Episode, 0, len(doc.Interactions))
	for _, id := range doc.Interactions {
		ep, err := decodeEpisode(id)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}

// SaveEpisodes encodes episodes and writes them to path, creating parent
// directories as needed. Any failure, I/O or encoding, is returned as a
// *WriteFailureError wrapping the cause.
func SaveEpisodes(path string, episodes []Episode) error {
	doc := document{
		Version:      Version,
		Interactions: make([]interactionDoc, len(episodes)),
	}
	for i, ep := range episodes {
		doc.Interactions[i] = encodeEpisode(ep)
	}

	if err := saveDocument(path, doc); err != nil {
		return &WriteFailureError{Path: path, Cause: err}
	}
	return nil
}
