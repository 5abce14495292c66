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

import "github.com/tboser/grpcvcr/cassette"

// The errors a Channel can return are defined in package cassette and
// re-exported here so callers only need to import this package's error
// types with errors.As.
type (
	// CassetteNotFoundError is returned by cassette.Open in replay-only
	// mode (ModeNone) when the cassette file does not exist.
	CassetteNotFoundError = cassette.NotFoundError

	// NoMatchingInteractionError describes a live request for which no
	// recorded episode matched. It is normally only visible wrapped
	// inside a RecordingDisabledError.
	NoMatchingInteractionError = cassette.NoMatchingInteractionError

	// RecordingDisabledError is returned when a live request has no
	// recorded match and the record mode forbids recording.
	RecordingDisabledError = cassette.RecordingDisabledError

	// CassetteWriteFailureError wraps an I/O or serialization error
	// encountered while saving a cassette.
	CassetteWriteFailureError = cassette.WriteFailureError

	// CassetteSerializationError is returned when a cassette document
	// cannot be parsed or emitted.
	CassetteSerializationError = cassette.SerializationError
)
