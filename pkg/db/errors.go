// Package db pkg/db/errors.go provides errors for the db package.

package db

import "errors"

var (
	// Core database errors.

	ErrDatabaseError = errors.New("database error")
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("unique constraint violated")

	// Operation errors.

	ErrFailedToBeginTx = errors.New("failed to begin transaction")
	ErrFailedToScan    = errors.New("failed to scan")
	ErrFailedToQuery   = errors.New("failed to query")
	ErrFailedToInsert  = errors.New("failed to insert")
	ErrFailedToUpdate  = errors.New("failed to update")
	ErrFailedToClean   = errors.New("failed to clean")
	ErrFailedToInit    = errors.New("failed to initialize schema")
	ErrFailedOpenDB    = errors.New("failed to open database")

	// ErrJobNotRunning is returned when a terminal transition targets a job
	// that is missing or already COMPLETED/FAILED.
	ErrJobNotRunning = errors.New("sync job is not running")
)
