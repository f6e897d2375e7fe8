package store

import "errors"

// ErrStorage wraps every read or write failure of the label table.
var ErrStorage = errors.New("label storage failure")

// ErrUnsupportedDSN is returned by Open for an unknown DSN scheme.
var ErrUnsupportedDSN = errors.New("unsupported database dsn")
