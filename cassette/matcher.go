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

import "strings"

// Matcher is a predicate over a live request and a candidate recorded
// request, used to select an episode for replay.
type Matcher interface {
	Match(live, candidate RequestRecord) bool
}

// MatcherFunc adapts a plain function to the Matcher interface.
type MatcherFunc func(live, candidate RequestRecord) bool

// Match calls f.
func (f MatcherFunc) Match(live, candidate RequestRecord) bool {
	return f(live, candidate)
}

type methodMatcher struct{}

func (methodMatcher) Match(live, candidate RequestRecord) bool {
	return live.Method == candidate.Method
}

// MethodMatcher matches when the live and candidate methods are equal.
func MethodMatcher() Matcher {
	return methodMatcher{}
}

type requestMatcher struct{}

func (requestMatcher) Match(live, candidate RequestRecord) bool {
	return live.Body == candidate.Body
}

// RequestMatcher matches when the live and candidate bodies are
// byte-exact equal.
func RequestMatcher() Matcher {
	return requestMatcher{}
}

// MetadataMatcherOption configures a metadata matcher built by
// MetadataMatcher.
type MetadataMatcherOption func(*metadataMatcherConfig)

type metadataMatcherConfig struct {
	keys       []string
	keysSet    bool
	ignoreKeys []string
}

// WithKeys restricts comparison to exactly the given metadata keys. When
// both WithKeys and WithIgnoreKeys are supplied, WithKeys wins (the two
// modes are mutually exclusive in use).
func WithKeys(keys ...string) MetadataMatcherOption {
	return func(c *metadataMatcherConfig) {
		c.keys = keys
		c.keysSet = true
	}
}

// WithIgnoreKeys compares every metadata key present on either side
// except the given ones.
func WithIgnoreKeys(keys ...string) MetadataMatcherOption {
	return func(c *metadataMatcherConfig) {
		c.ignoreKeys = keys
	}
}

type metadataMatcher struct {
	keys       []string
	keysSet    bool
	ignoreKeys []string
}

func (m metadataMatcher) Match(live, candidate RequestRecord) bool {
	if m.keysSet {
		for _, k := range m.keys {
			lv, lok := live.Metadata[k]
			cv, cok := candidate.Metadata[k]
			if lok != cok || !stringSliceEqual(lv, cv) {
				return false
			}
		}
		return true
	}

	ignored := make(map[string]bool, len(m.ignoreKeys))
	for _, k := range m.ignoreKeys {
		ignored[strings.ToLower(k)] = true
	}

	seen := make(map[string]bool, len(live.Metadata)+len(candidate.Metadata))
	for k := range live.Metadata {
		seen[k] = true
	}
	for k := range candidate.Metadata {
		seen[k] = true
	}
	for k := range seen {
		if ignored[k] {
			continue
		}
		lv, lok := live.Metadata[k]
		cv, cok := candidate.Metadata[k]
		if lok != cok || !stringSliceEqual(lv, cv) {
			return false
		}
	}
	return true
}

// MetadataMatcher compares metadata between the live and candidate
// requests. With no options it compares the union of every key present on
// either side (the "ignore-mode" form with an empty ignore list). Pass
// WithKeys to restrict comparison to a fixed key set, or WithIgnoreKeys to
// compare everything except the given keys.
func MetadataMatcher(opts ...MetadataMatcherOption) Matcher {
	cfg := &metadataMatcherConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return metadataMatcher{keys: cfg.keys, keysSet: cfg.keysSet, ignoreKeys: cfg.ignoreKeys}
}

// CustomMatcherFunc is the signature of a caller-supplied predicate used
// by CustomMatcher.
type CustomMatcherFunc func(live, candidate RequestRecord) bool

// CustomMatcher delegates to an opaque caller-supplied predicate.
func CustomMatcher(fn CustomMatcherFunc) Matcher {
	return MatcherFunc(fn)
}

type allMatcher struct {
	matchers []Matcher
}

func (m allMatcher) Match(live, candidate RequestRecord) bool {
	for _, sub := range m.matchers {
		if !sub.Match(live, candidate) {
			return false
		}
	}
	return true
}

// AllMatcher returns a Matcher satisfied iff every one of matchers is
// satisfied; it short-circuits on the first false.
func AllMatcher(matchers ...Matcher) Matcher {
	return allMatcher{matchers: append([]Matcher(nil), matchers...)}
}

// And composes matchers with AND. If the first argument is itself an
// AllMatcher (e.g. the result of a previous And call), its sub-matchers
// are flattened in rather than nested, so chained left-associative
// composition stays a single flat AllMatcher.
func And(matchers ...Matcher) Matcher {
	flat := make([]Matcher, 0, len(matchers))
	for i, m := range matchers {
		if i == 0 {
			if am, ok := m.(allMatcher); ok {
				flat = append(flat, am.matchers...)
				continue
			}
		}
		flat = append(flat, m)
	}
	return allMatcher{matchers: flat}
}

// DefaultMatcher is the matcher used when a Cassette is opened without an
// explicit one: MethodMatcher alone.
func DefaultMatcher() Matcher {
	return MethodMatcher()
}
