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
	"fmt"
	"os"
	"sync"
)

// RecordMode controls how a Cassette arbitrates between replay and live
// recording.
type RecordMode string

// The four record modes, using the exact wire string values from the
// cassette configuration surface.
const (
	ModeNone        RecordMode = "none"
	ModeNewEpisodes RecordMode = "new_episodes"
	ModeAll         RecordMode = "all"
	ModeOnce        RecordMode = "once"
)

func (m RecordMode) valid() bool {
	switch m {
	case ModeNone, ModeNewEpisodes, ModeAll, ModeOnce:
		return true
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so a RecordMode can be
// read directly out of configuration or an environment variable.
func (m *RecordMode) UnmarshalText(text []byte) error {
	v := RecordMode(text)
	if !v.valid() {
		return fmt.Errorf("cassette: invalid record mode %q", text)
	}
	*m = v
	return nil
}

// DefaultRecordMode returns "new_episodes", except when the CI
// environment variable is set to any non-empty value, in which case it
// returns "none".
func DefaultRecordMode() RecordMode {
	if v := os.Getenv("CI"); v != "" {
		return ModeNone
	}
	return ModeNewEpisodes
}

// Cassette owns a sequence of recorded episodes, the record-mode state
// machine, and the matcher used to arbitrate replay against recording.
// A single Cassette may be shared by many concurrent calls: record and
// compaction are serialized by a mutex.
type Cassette struct {
	mu sync.Mutex

	path       string
	recordMode RecordMode
	matcher    Matcher

	episodes []Episode
	dirty    bool

	// openedEmpty is true when the file was absent or had zero episodes
	// at Open time. ModeOnce's "was the file empty at open" gate is fixed
	// at open and never re-evaluated, resolving the ONCE ambiguity by the
	// literal decision table.
	openedEmpty bool
}

// Option configures a Cassette at Open time.
type Option func(*Cassette)

// WithMatcher overrides the default matcher (MethodMatcher alone).
func WithMatcher(m Matcher) Option {
	return func(c *Cassette) { c.matcher = m }
}

// Open loads the cassette file at path, or creates an empty in-memory
// cassette when the file is absent and mode permits it: ModeNone
// requires the file to exist and fails with *NotFoundError otherwise;
// every other mode starts empty when the file is absent.
func Open(path string, mode RecordMode, opts ...Option) (*Cassette, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("cassette: invalid record mode %q", mode)
	}

	c := &Cassette{
		path:       path,
		recordMode: mode,
		matcher:    DefaultMatcher(),
	}
	for _, opt := range opts {
		opt(c)
	}

	episodes, err := LoadEpisodes(path)
	switch {
	case err == nil:
		c.episodes = episodes
		c.openedEmpty = len(episodes) == 0
	case os.IsNotExist(err):
		if mode == ModeNone {
			return nil, &NotFoundError{Path: path}
		}
		c.openedEmpty = true
	default:
		return nil, err
	}

	return c, nil
}

// Path returns the cassette's backing file path.
func (c *Cassette) Path() string {
	return c.path
}

// RecordMode returns the cassette's configured record mode.
func (c *Cassette) RecordMode() RecordMode {
	return c.recordMode
}

// CanRecord reports whether the record mode allows recording at all
// (ALL, NEW_EPISODES, or ONCE). ONCE keeps reporting true even after an
// initial write; whether a particular live request may still be recorded
// is decided by Consult, not by this method.
func (c *Cassette) CanRecord() bool {
	switch c.recordMode {
	case ModeAll, ModeNewEpisodes, ModeOnce:
		return true
	default:
		return false
	}
}

// Find performs a linear scan for the first episode, in insertion order,
// whose request satisfies the configured matcher against req. Episodes
// are never consumed: a single episode may match any number of live
// requests.
func (c *Cassette) Find(req RequestRecord) (Episode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(req)
}

func (c *Cassette) findLocked(req RequestRecord) (Episode, bool) {
	for _, e := range c.episodes {
		if c.matcher.Match(req, e.Request) {
			return e, true
		}
	}
	return Episode{}, false
}

func (c *Cassette) availableMethodsLocked() []string {
	seen := make(map[string]bool)
	var methods []string
	for _, e := range c.episodes {
		if !seen[e.Request.Method] {
			seen[e.Request.Method] = true
			methods = append(methods, e.Request.Method)
		}
	}
	return methods
}

// Consult applies the record-mode decision table to a live
// request. It returns a matched episode to replay when found=true; when
// mayRecord=true, the caller must forward the request live and call
// Record on a terminal outcome; otherwise err explains why replay was not
// possible (*RecordingDisabledError).
func (c *Cassette) Consult(req RequestRecord) (episode Episode, found, mayRecord bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	match, ok := c.findLocked(req)

	switch c.recordMode {
	case ModeNone:
		if ok {
			return match, true, false, nil
		}
		return Episode{}, false, false, c.recordingDisabledLocked(req)

	case ModeNewEpisodes:
		if ok {
			return match, true, false, nil
		}
		return Episode{}, false, true, nil

	case ModeAll:
		// ALL always forwards and overwrites, even when a prior episode
		// matches; Record performs the removal.
		return Episode{}, false, true, nil

	case ModeOnce:
		if !c.openedEmpty {
			if ok {
				return match, true, false, nil
			}
			return Episode{}, false, false, c.recordingDisabledLocked(req)
		}
		return Episode{}, false, true, nil

	default:
		return Episode{}, false, false, fmt.Errorf("cassette: invalid record mode %q", c.recordMode)
	}
}

func (c *Cassette) recordingDisabledLocked(req RequestRecord) error {
	return &RecordingDisabledError{
		Method: req.Method,
		Cause: &NoMatchingInteractionError{
			Method:           req.Method,
			Body:             req.Body,
			AvailableMethods: c.availableMethodsLocked(),
		},
	}
}

// Record appends ep to the cassette, marking it dirty; episodes are
// never mutated after insertion. In ModeAll, any previously stored
// episode whose request matches ep's request under the configured
// matcher is removed first, so the rewritten episode is expressed as
// remove-then-append rather than in-place mutation.
func (c *Cassette) Record(ep Episode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recordMode == ModeAll {
		kept := make([]Episode, 0, len(c.episodes))
		for _, e := range c.episodes {
			if !c.matcher.Match(ep.Request, e.Request) {
				kept = append(kept, e)
			}
		}
		c.episodes = kept
	}

	c.episodes = append(c.episodes, ep)
	c.dirty = true
}

// Episodes returns a snapshot copy of the cassette's episodes, in
// insertion order.
func (c *Cassette) Episodes() []Episode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Episode(nil), c.episodes...)
}

// Mutate applies fn to every stored episode in place, under the lock,
// and marks the cassette dirty so the changes reach the next Save. It
// exists for lifecycle hooks that rewrite episodes (redaction and the
// like) right before persistence.
func (c *Cassette) Mutate(fn func(*Episode)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.episodes) == 0 {
		return
	}
	for i := range c.episodes {
		fn(&c.episodes[i])
	}
	c.dirty = true
}

// Dirty reports whether the cassette has unsaved changes.
func (c *Cassette) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Save serializes the cassette to Path() when dirty; it is a no-op when
// clean. A failure is returned as *WriteFailureError.
func (c *Cassette) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	if err := SaveEpisodes(c.path, c.episodes); err != nil {
		return err
	}
	c.dirty = false
	return nil
}
