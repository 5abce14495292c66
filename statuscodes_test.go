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
	"testing"

	"google.golang.org/grpc/codes"
)

func TestCanonicalCodeNamesRoundTrip(t *testing.T) {
	for code, name := range codeToName {
		if got := canonicalCodeName(code); got != name {
			t.Errorf("canonicalCodeName(%d) = %q, want %q", code, got, name)
		}
		if got := codeFromCanonicalName(name); got != code {
			t.Errorf("codeFromCanonicalName(%q) = %d, want %d", name, got, code)
		}
	}
}

func TestCanceledUsesWireSpelling(t *testing.T) {
	// The stringer says "Canceled"; the wire name is "CANCELLED".
	if got := canonicalCodeName(codes.Canceled); got != "CANCELLED" {
		t.Errorf("canonicalCodeName(Canceled) = %q", got)
	}
}

func TestUnrecognizedNameDecodesAsUnknown(t *testing.T) {
	if got := codeFromCanonicalName("NOT_A_CODE"); got != codes.Unknown {
		t.Errorf("codeFromCanonicalName(NOT_A_CODE) = %v, want Unknown", got)
	}
}
