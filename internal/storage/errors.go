package storage

import "errors"

// ErrNotFound is returned when a query matches no rows, e.g. asking for
// the latest check date of a TLD that has never been ingested.
var ErrNotFound = errors.New("storage: not found")
