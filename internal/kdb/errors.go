package kdb

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no document exists for a test case.
var ErrNotFound = errors.New("kdb: test case not found")

// ErrNameCollision is returned when a test case's document belongs to a
// different test case.
var ErrNameCollision = errors.New("kdb: document name collision")

// MalformedEntryError describes a failure payload that cannot be merged.
// Batch merges skip such entries and count them.
type MalformedEntryError struct {
	Index  int
	Reason string
}

func (e *MalformedEntryError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("kdb: malformed entry %d: %s", e.Index, e.Reason)
	}
	return "kdb: malformed entry: " + e.Reason
}

// StoreIOError is a persistence failure. Merged reports how many entries of
// the current operation were already applied when it happened, when known.
type StoreIOError struct {
	Op     string
	Path   string
	Merged int
	Err    error
}

func (e *StoreIOError) Error() string {
	msg := fmt.Sprintf("kdb: %s %s: %v", e.Op, e.Path, e.Err)
	if e.Merged > 0 {
		msg += fmt.Sprintf(" (%d entries merged before failure)", e.Merged)
	}
	return msg
}

func (e *StoreIOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	return &StoreIOError{Op: op, Path: path, Err: err}
}

// IsMalformed reports whether err is a MalformedEntryError.
func IsMalformed(err error) bool {
	var me *MalformedEntryError
	return errors.As(err, &me)
}

// IsStoreIO reports whether err is a StoreIOError.
func IsStoreIO(err error) bool {
	var se *StoreIOError
	return errors.As(err, &se)
}
