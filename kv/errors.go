package kv

import "errors"

// Common errors used throughout the store.
var (
	// Transaction errors
	ErrTxnNotActive = errors.New("transaction is not active")
	ErrTxnConflict  = errors.New("transaction conflict: key written by a concurrent transaction")

	// Store errors
	ErrStoreClosed = errors.New("store is closed")

	// Record errors
	ErrRecordNotFound = errors.New("record not found")
)
