// Package favorites tracks the roster of favorited creators between runs.
//
// A Snapshot of the roster is kept per source. Each run the fresh roster is
// diffed against it and only creators that are new or whose "updated"
// marker changed are synced. Snapshot entries are advanced by the sync
// driver once a creator has been mirrored cleanly.
package favorites
