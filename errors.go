// FILE: errors.go
// Package main – shared error types. Callers branch with errors.Is/errors.As;
// the HTTP layer maps them onto status codes in api.go.

package main

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by every store lookup that misses.
var ErrOrderNotFound = errors.New("order not found")

// ErrAlreadyRunning is returned when a start call races an already-active loop.
var ErrAlreadyRunning = errors.New("already running")

// ValidationError rejects bad input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TerminalStateError reports a rejected transition out of a sink state.
// The store swallows no-op terminal updates silently; this error only
// surfaces through the HTTP layer when a client explicitly requests a
// conflicting transition and wants to know it did nothing.
type TerminalStateError struct {
	ID        string
	Status    OrderStatus
	Requested OrderStatus
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("order %s is %s and cannot move to %s", e.ID, e.Status, e.Requested)
}

// RemoteError wraps a failed call to the exchange testnet. Transient is set
// for network faults and 5xx responses so the sync loop can downgrade the
// log severity and retry on the next tick.
type RemoteError struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("testnet %s: http %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("testnet %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
