// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package messenger

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a messenger error, usable with KindOf or
// errors.As to branch on failure without string-matching Error().
type Kind string

// Error kinds produced by this package and by package twin, which reuses the
// same Kind space instead of inventing a parallel hierarchy.
const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindBadState         Kind = "bad_state"
	KindAllocationFailed Kind = "allocation_failed"
	KindSendFailed       Kind = "send_failed"
	KindTimeout          Kind = "timeout"
	KindCancelled        Kind = "cancelled"
	KindFatal            Kind = "fatal"
)

// Error is a structured messenger failure. Callers that need to branch on
// the failure category should use errors.As or KindOf rather than comparing
// Error() strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("messenger: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("messenger: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the Kind carried by err, and ok=true, if err is (or wraps)
// a *Error. Ported from the bureau-foundation IsMatrixError shape: a single
// helper that hides the errors.As dance from callers.
func KindOf(err error) (Kind, bool) {
	var merr *Error
	if errors.As(err, &merr) {
		return merr.Kind, true
	}
	return "", false
}

// Is reports whether err is a *Error of the given kind. Useful in tests and
// in callers that only care about one kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinel errors for conditions with no useful extra context.
var (
	ErrMessengerDestroyed = errors.New("messenger: destroyed")
	ErrNoReceiver         = errors.New("messenger: no receiver link")
)
