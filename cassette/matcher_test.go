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

import "testing"

func req(method, body string, md MetadataMap) RequestRecord {
	return RequestRecord{Method: method, Body: body, Metadata: md}
}

func TestMethodMatcher(t *testing.T) {
	m := MethodMatcher()

	live := req("/test.TestService/GetUser", "a", nil)
	same := req("/test.TestService/GetUser", "b", nil)
	other := req("/test.TestService/ListUsers", "a", nil)

	if !m.Match(live, same) {
		t.Errorf("expected method match regardless of body")
	}
	if m.Match(live, other) {
		t.Errorf("expected no match for different method")
	}
}

func TestRequestMatcher(t *testing.T) {
	m := RequestMatcher()

	live := req("/x/Y", "payload", nil)
	same := req("/different/Method", "payload", nil)
	other := req("/x/Y", "other-payload", nil)

	if !m.Match(live, same) {
		t.Errorf("expected body match regardless of method")
	}
	if m.Match(live, other) {
		t.Errorf("expected no match for different body")
	}
}

func TestMetadataMatcherDefaultComparesUnion(t *testing.T) {
	m := MetadataMatcher()

	live := req("/x/Y", "", MetadataMap{"a": {"1"}})
	candidate := req("/x/Y", "", MetadataMap{"a": {"1"}, "b": {"2"}})

	// candidate has an extra key "b" the live request is missing; under
	// the no-args ignore-mode default, missing != present so this must
	// not match.
	if m.Match(live, candidate) {
		t.Errorf("expected mismatch: live is missing key %q", "b")
	}

	candidate2 := req("/x/Y", "", MetadataMap{"a": {"1"}})
	if !m.Match(live, candidate2) {
		t.Errorf("expected match: identical metadata sets")
	}
}

func TestMetadataMatcherWithKeysIsolatesOtherKeys(t *testing.T) {
	// authorization must match; x-request-id is free to differ because it
	// is outside the configured key set.
	m := And(MethodMatcher(), MetadataMatcher(WithKeys("authorization")))

	recorded := req("/svc/Method", "", MetadataMap{
		"authorization": {"Bearer A"},
		"x-request-id":  {"r1"},
	})

	liveSameAuth := req("/svc/Method", "", MetadataMap{
		"authorization": {"Bearer A"},
		"x-request-id":  {"r2"},
	})
	if !m.Match(liveSameAuth, recorded) {
		t.Errorf("expected match: x-request-id is not a configured key")
	}

	liveDifferentAuth := req("/svc/Method", "", MetadataMap{
		"authorization": {"Bearer B"},
		"x-request-id":  {"r1"},
	})
	if m.Match(liveDifferentAuth, recorded) {
		t.Errorf("expected mismatch: authorization differs")
	}
}

func TestMetadataMatcherWithIgnoreKeys(t *testing.T) {
	m := MetadataMatcher(WithIgnoreKeys("x-request-id"))

	live := req("/x/Y", "", MetadataMap{"a": {"1"}, "x-request-id": {"r1"}})
	candidate := req("/x/Y", "", MetadataMap{"a": {"1"}, "x-request-id": {"r2"}})

	if !m.Match(live, candidate) {
		t.Errorf("expected match: only ignored key differs")
	}

	candidate2 := req("/x/Y", "", MetadataMap{"a": {"2"}, "x-request-id": {"r2"}})
	if m.Match(live, candidate2) {
		t.Errorf("expected mismatch: non-ignored key %q differs", "a")
	}
}

func TestMetadataMatcherKeysWinsOverIgnoreKeys(t *testing.T) {
	m := MetadataMatcher(WithKeys("a"), WithIgnoreKeys("a"))

	live := req("/x/Y", "", MetadataMap{"a": {"1"}})
	candidate := req("/x/Y", "", MetadataMap{"a": {"1"}})
	if !m.Match(live, candidate) {
		t.Errorf("expected keys-mode comparison of %q to still apply", "a")
	}
}

func TestAllMatcherShortCircuits(t *testing.T) {
	calls := 0
	tripwire := CustomMatcher(func(live, candidate RequestRecord) bool {
		calls++
		return true
	})

	m := AllMatcher(MethodMatcher(), tripwire)
	live := req("/a/B", "", nil)
	candidate := req("/different/Method", "", nil)

	if m.Match(live, candidate) {
		t.Errorf("expected mismatch on method alone")
	}
	if calls != 0 {
		t.Errorf("expected short-circuit before the second matcher ran, got %d calls", calls)
	}
}

func TestAndCommutativity(t *testing.T) {
	m1 := MethodMatcher()
	m2 := MetadataMatcher(WithKeys("a"))

	ab := And(m1, m2)
	ba := And(m2, m1)

	cases := []struct {
		live, candidate RequestRecord
	}{
		{req("/x/Y", "", MetadataMap{"a": {"1"}}), req("/x/Y", "", MetadataMap{"a": {"1"}})},
		{req("/x/Y", "", MetadataMap{"a": {"1"}}), req("/x/Y", "", MetadataMap{"a": {"2"}})},
		{req("/x/Y", "", nil), req("/other/Z", "", nil)},
	}

	for i, c := range cases {
		if ab.Match(c.live, c.candidate) != ba.Match(c.live, c.candidate) {
			t.Errorf("case %d: m1&m2 and m2&m1 disagree", i)
		}
	}
}

func TestAndFlattensLeftNestedAllMatcher(t *testing.T) {
	m1 := MethodMatcher()
	m2 := RequestMatcher()
	m3 := MetadataMatcher(WithKeys("a"))

	combined := And(And(m1, m2), m3)

	flat, ok := combined.(allMatcher)
	if !ok {
		t.Fatalf("expected an allMatcher, got %T", combined)
	}
	if len(flat.matchers) != 3 {
		t.Fatalf("expected 3 flattened matchers, got %d", len(flat.matchers))
	}
}

func TestDefaultMatcherIsMethodOnly(t *testing.T) {
	m := DefaultMatcher()

	live := req("/a/B", "different-body", MetadataMap{"x": {"1"}})
	candidate := req("/a/B", "other-body", MetadataMap{"x": {"2"}})

	if !m.Match(live, candidate) {
		t.Errorf("expected default matcher to ignore body and metadata")
	}
}
