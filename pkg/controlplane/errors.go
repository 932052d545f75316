package controlplane

import "errors"

var (
	// ErrNotFound is returned when a database identity resolves to nothing.
	ErrNotFound = errors.New("controlplane: database not found")
	// ErrNameTaken is returned by Publish when (owner, name) already names a
	// live database.
	ErrNameTaken = errors.New("controlplane: database name already published by this owner")
	// ErrNotOwner is returned when a caller attempts a lifecycle operation
	// (delete, migrate) on a database it does not own.
	ErrNotOwner = errors.New("controlplane: caller does not own this database")
)
