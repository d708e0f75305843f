// Package quota enforces the optional disk ceiling of the storage root.
//
// Before a run, CheckBeforeStart returns Fatal at or above the ceiling and
// Warn from 70% upward. Before each file, CheckBeforeFile denies a write
// that would cross the ceiling.
package quota
