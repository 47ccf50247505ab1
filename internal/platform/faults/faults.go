// Package faults defines the error kinds shared across the intake layers.
// Callers wrap these sentinels with context and test for them with errors.Is,
// which keeps system faults distinguishable from the expected REJECTED and
// SKIPPED pipeline outcomes.
package faults

import "errors"

var (
	// ErrConfiguration marks a missing or invalid setting detected before any
	// outbound call is made.
	ErrConfiguration = errors.New("configuration error")

	// ErrRemoteService marks a transport failure or a non-success response from
	// the auditor model or the clinical store.
	ErrRemoteService = errors.New("remote service error")
)
