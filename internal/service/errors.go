package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest rejects a request before any store access. Never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStoreFailure matches every StoreError.
	ErrStoreFailure = errors.New("store failure")

	// ErrInconsistentCluster means no single canonical primary could be identified
	// after selection and reconciliation. It indicates corrupt data.
	ErrInconsistentCluster = errors.New("inconsistent cluster")

	// ErrBusy means the identity locks could not be taken before the deadline.
	ErrBusy = errors.New("identity busy")

	// ErrContactNotFound is returned by Cluster for unknown or deleted contacts.
	ErrContactNotFound = errors.New("contact not found")
)

// StoreError wraps a failed store operation with its name.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
