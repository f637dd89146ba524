package database

import "errors"

// ErrArchiveNotFound is returned by Open when the database does not exist
// and Options.CreateIfNotExists is false.
var ErrArchiveNotFound = errors.New("archive not found")
