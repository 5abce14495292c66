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

import "fmt"

// NotFoundError is returned when a Cassette is opened in ModeNone and the
// backing file does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cassette: not found: %s", e.Path)
}

// Is reports whether target is a *NotFoundError, ignoring Path, so
// errors.Is(err, &NotFoundError{}) works as a kind check regardless of
// which file was missing.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ErrNotFound is a zero-value *NotFoundError usable with errors.Is as a
// kind sentinel, e.g. errors.Is(err, cassette.ErrNotFound).
var ErrNotFound = &NotFoundError{}

// NoMatchingInteractionError describes the internal condition of a live
// request for which no recorded episode matches and recording is not
// possible. It is normally only visible as the wrapped cause of a
// RecordingDisabledError.
type NoMatchingInteractionError struct {
	Method           string
	Body             string
	AvailableMethods []string
}

func (e *NoMatchingInteractionError) Error() string {
	return fmt.Sprintf("cassette: no interaction recorded for %s (have episodes for: %v)", e.Method, e.AvailableMethods)
}

// Is reports whether target is a *NoMatchingInteractionError, ignoring
// its fields.
func (e *NoMatchingInteractionError) Is(target error) bool {
	_, ok := target.(*NoMatchingInteractionError)
	return ok
}

// ErrNoMatchingInteraction is a kind sentinel for errors.Is.
var ErrNoMatchingInteraction = &NoMatchingInteractionError{}

// RecordingDisabledError is returned when a live request has no recorded
// match and the cassette's record mode forbids recording (ModeNone, or
// ModeOnce with a non-empty cassette at open time).
type RecordingDisabledError struct {
	Method string
	Cause  error
}

func (e *RecordingDisabledError) Error() string {
	return fmt.Sprintf("cassette: recording disabled, no match for %s", e.Method)
}

func (e *RecordingDisabledError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *RecordingDisabledError, ignoring its
// fields.
func (e *RecordingDisabledError) Is(target error) bool {
	_, ok := target.(*RecordingDisabledError)
	return ok
}

// ErrRecordingDisabled is a kind sentinel for errors.Is.
var ErrRecordingDisabled = &RecordingDisabledError{}

// WriteFailureError wraps an I/O or serialization error encountered while
// saving a cassette.
type WriteFailureError struct {
	Path  string
	Cause error
}

func (e *WriteFailureError) Error() string {
	return fmt.Sprintf("cassette: failed to write %s: %v", e.Path, e.Cause)
}

func (e *WriteFailureError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *WriteFailureError, ignoring its fields.
func (e *WriteFailureError) Is(target error) bool {
	_, ok := target.(*WriteFailureError)
	return ok
}

// ErrWriteFailure is a kind sentinel for errors.Is.
var ErrWriteFailure = &WriteFailureError{}

// SerializationError is returned when the codec cannot parse or emit a
// cassette document.
type SerializationError struct {
	Message string
	Cause   error
}

func (e *SerializationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cassette: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("cassette: %s", e.Message)
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *SerializationError, ignoring its
// fields.
func (e *SerializationError) Is(target error) bool {
	_, ok := target.(*SerializationError)
	return ok
}

// ErrSerializationFailure is a kind sentinel for errors.Is.
var ErrSerializationFailure = &SerializationError{}
