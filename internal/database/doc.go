// Package database provides the SQLite run archive of skrob.
//
// The archive stores:
//   - one row per run: the script, its start input, timing and counters
//   - one row per fetch of a run: locator, status, content type, size, a
//     SHA3-256 digest of the body and the error, if any
//
// The archive is write-only from the point of view of a run. Nothing in it
// is consulted to decide whether a locator is fetched; deduplication is
// scoped to a single run.
//
// Design decision: We use SQLite (via modernc.org/sqlite) because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. WAL mode lets history queries run while a crawl is recording
package database
