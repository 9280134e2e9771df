// Package xflaterr defines the error taxonomy surfaced by the XFlat core.
//
// Call sites return these sentinels directly or wrap one with
// fmt.Errorf("...: %w", ...); either way callers can errors.Is against the
// sentinel.
package xflaterr

import "errors"

var (
	// ErrDuplicateKey is returned when inserting a row whose id already has
	// a visible (non-tombstone) version.
	ErrDuplicateKey = errors.New("xflat: duplicate key")

	// ErrKeyNotFound is returned when an operation requires a visible row
	// that does not exist.
	ErrKeyNotFound = errors.New("xflat: key not found")

	// ErrWriteConflict is returned by a snapshot-isolated commit that
	// raced with a concurrent writer on the same row.
	ErrWriteConflict = errors.New("xflat: write conflict")

	// ErrTransactionState is returned when a second transaction attempts
	// to commit while another is mid-commit on the same engine.
	ErrTransactionState = errors.New("xflat: transaction state")

	// ErrIllegalTransactionState is returned for operations attempted
	// against a transaction that is not in the state they require
	// (e.g. committing a reverted transaction).
	ErrIllegalTransactionState = errors.New("xflat: illegal transaction state")

	// ErrEngineState is returned when an operation is attempted against an
	// engine that is not Running, and is not eligible for readiness wait
	// (SpunDown, or it transitioned to SpunDown while a caller waited).
	ErrEngineState = errors.New("xflat: engine state")

	// ErrConversion is returned when a shard-property value cannot be
	// converted to the shard's configured value type.
	ErrConversion = errors.New("xflat: conversion error")
)

// XFlatError wraps any other failure (IO, XML parsing, etc.) that does not
// fit one of the sentinels above but must still be identifiable as coming
// from the XFlat core.
type XFlatError struct {
	Op  string
	Err error
}

func (e *XFlatError) Error() string {
	if e.Op == "" {
		return "xflat: " + e.Err.Error()
	}
	return "xflat: " + e.Op + ": " + e.Err.Error()
}

func (e *XFlatError) Unwrap() error { return e.Err }

// Wrap produces an *XFlatError tagging err with the operation that failed.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &XFlatError{Op: op, Err: err}
}
