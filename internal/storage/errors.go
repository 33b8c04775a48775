package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested table or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaging is returned when the staging table cannot be reset or bulk loaded.
	// The destination table has not been touched.
	ErrStaging = errors.New("staging failed")

	// ErrReconciliation is returned when the merge into the destination table fails.
	// The destination keeps its pre-statement state.
	ErrReconciliation = errors.New("reconciliation failed")

	// ErrCleanup is returned when the staging table cannot be dropped after a merge.
	// Never fatal: the next run drops the leftover before loading.
	ErrCleanup = errors.New("staging cleanup failed")
)
