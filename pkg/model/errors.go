// Copyright © 2024 Zyncio

package model

import "errors"

type errString string

func (e errString) Error() string { return string(e) }

// Error taxonomy. Store and transport layers classify raw failures into
// these sentinels; the replication pipeline decides retry-vs-fail on them.
const (
	// ErrNotFound: the dataset or snapshot does not exist.
	ErrNotFound errString = "dataset or snapshot does not exist"

	// ErrBusy: the dataset is temporarily busy (receive or destroy in
	// progress). Retryable.
	ErrBusy errString = "dataset is busy"

	// ErrPermission: the store refused the operation. Permanent.
	ErrPermission errString = "permission denied"

	// ErrExists: create refused because the object already exists.
	ErrExists errString = "already exists"

	// ErrConfiguration: malformed configuration or contradictory
	// credential requirements. Aborts the affected target only.
	ErrConfiguration errString = "invalid configuration"

	// ErrLock: the host-wide lock is held by a live process. Aborts the
	// whole run before any target executes.
	ErrLock errString = "lock held by another process"

	// ErrTransport: network or remote shell failure. Retryable.
	ErrTransport errString = "transport failure"

	// ErrIntegrity: post-transfer guid mismatch. Never retried.
	ErrIntegrity errString = "integrity verification failed"
)

// Retryable reports whether an error is transient per the pipeline retry
// policy. Everything outside the transient kinds is permanent.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrTransport)
}
