package store

import "errors"

// ErrNotFound is returned when a lookup by id finds no matching record.
var ErrNotFound = errors.New("store: not found")
