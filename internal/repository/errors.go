package repository

import "errors"

// ErrNotFound indicates a record was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrImmutable indicates an attempted update or delete of a persisted
// telemetry record. Records are append-only; the only permitted transition is
// the crash mark-recovered flip.
var ErrImmutable = errors.New("repository: telemetry records are immutable")
