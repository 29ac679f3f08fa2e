package storage

import "errors"

// ErrNotFound is returned when a ledger row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when saving a row whose ID already exists.
var ErrConflict = errors.New("record already exists")
