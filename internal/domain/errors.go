// Package domain contains the core domain models for the harvester service.
package domain

import "errors"

// Common errors
var (
	// ErrNotFound is returned when an entity is not found in the database.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a unique constraint is violated.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidTarget is returned when a scrape target cannot be parsed into a
	// platform-appropriate account identifier.
	ErrInvalidTarget = errors.New("invalid scrape target")

	// ErrUnsupportedService is returned when the requested platform/service
	// combination is not in the enabled capability set.
	ErrUnsupportedService = errors.New("unsupported platform/service combination")

	// ErrUnknownCorrelation is returned when a result payload cannot be matched
	// to any scrape request by snapshot id or request id.
	ErrUnknownCorrelation = errors.New("unknown correlation id")

	// ErrInvalidTransition is returned when a request status transition would
	// move backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSnapshotAlreadySet is returned when dispatch tries to assign a snapshot
	// id to a request that already has one.
	ErrSnapshotAlreadySet = errors.New("snapshot id already set")
)
