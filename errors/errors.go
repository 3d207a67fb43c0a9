// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package errors defines the error taxonomy surfaced to docdb clients.
// Every error that crosses the wire is one of three kinds: a request
// the server refuses to interpret, a write gate that could not be
// acquired in time, or a failure inside the storage engine.
package errors

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindEngine Kind = iota
	KindBadRequest
	KindLockTimeout
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindLockTimeout:
		return "LockTimeout"
	default:
		return "EngineError"
	}
}

// Error carries the client-facing kind alongside the message. The wire
// response is a direct projection of it.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause; the message includes it.
func WithCause(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Unwrap() error { return e.cause }

// Is reports sentinel identity by kind and message so wrapped copies of
// a sentinel still match it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind && e.msg == t.msg
}

// KindOf resolves the client-facing kind for an arbitrary error.
// Anything that is not an *Error is an engine failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindEngine
}

var (
	ErrInvalidRequest  = New(KindBadRequest, "invalid request format")
	ErrEmptyDatabase   = New(KindBadRequest, "database name cannot be empty")
	ErrMissingData     = New(KindBadRequest, "insert operation requires data array")
	ErrInvalidDocument = New(KindBadRequest, "document must be an object")
	ErrMissingQuery    = New(KindBadRequest, "operation requires query")
	ErrMissingField    = New(KindBadRequest, "create_index operation requires field")

	ErrLockTimeout = New(KindLockTimeout, "database lock timeout")

	ErrPersistenceCorrupt = New(KindEngine, "persisted state corrupted")
	ErrDuplicateKey       = New(KindEngine, "duplicate object key")
)
