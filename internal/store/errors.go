package store

import "strings"

// isSQLiteBusyError checks for SQLITE_BUSY, raised when the database
// is locked by another connection.
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// isSQLiteLockedError checks for the "database is locked" form of the
// same concurrency failure.
func isSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// isSQLiteConflictError reports whether err is a SQLite concurrency
// error that warrants a retry.
func isSQLiteConflictError(err error) bool {
	return isSQLiteBusyError(err) || isSQLiteLockedError(err)
}
