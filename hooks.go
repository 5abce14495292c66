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

// HookFunc is invoked at a particular stage of the replay/record
// lifecycle. A hook may mutate the episode in place, for example to
// redact sensitive metadata before it is written to disk.
type HookFunc func(episode *cassette.Episode)

// HookKind identifies when a Hook runs.
type HookKind int

const (
	// HookAfterCapture runs immediately after a live call has been
	// recorded into an Episode, before it is appended to the cassette.
	HookAfterCapture HookKind = iota

	// HookBeforeSave runs once per episode right before the cassette is
	// written to disk. The hook receives the stored episode itself, so
	// mutations are persisted.
	HookBeforeSave

	// HookBeforeReplay runs on a matched episode before its response is
	// delivered to the caller.
	HookBeforeReplay

	// HookOnClose runs once per episode when the Channel is closed,
	// after the cassette has been saved.
	HookOnClose
)

// Hook pairs a HookFunc with the HookKind it runs under.
type Hook struct {
	Kind    HookKind
	Handler HookFunc
}

func (ch *Channel) runHooks(kind HookKind, episode *cassette.Episode) {
	for _, h := range ch.hooks {
		if h.Kind == kind {
			h.Handler(episode)
		}
	}
}

func (ch *Channel) hasHooks(kind HookKind) bool {
	for _, h := range ch.hooks {
		if h.Kind == kind {
			return true
		}
	}
	return false
}
