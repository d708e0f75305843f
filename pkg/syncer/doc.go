// Package syncer drives one incremental mirror run against a source.
//
// A run resolves a Selection into creators (the favorites roster diff, or
// creators named on the command line), looks up their post counts, then walks
// each creator sequentially:
//
//	PENDING → ENUMERATING → DOWNLOADING_POST (per post) → COMMIT_CREATOR
//
// Posts already present in the creator's download record are skipped
// without touching the network. The attachments of a new post are handed
// to the download pool together, and the post ID is recorded only when
// every one of them succeeded. At commit the record is rewritten and, when
// the pass finished cleanly, the favorites snapshot entry is advanced to the
// freshly observed marker.
//
// The context passed to Run is checked between posts. Cancelling it lets
// the current post finish and flushes state before Run returns.
//
// Usage:
//
//	driver, err := syncer.New(cfg, client, pool, store, guard, log)
//	if err != nil {
//	    return err
//	}
//	driver.SetProgress(ui.NewProgressDisplay(os.Stdout, false))
//
//	summary, err := driver.Run(ctx, syncer.Favorites{})
//	if errors.Is(err, syncer.ErrQuotaExceeded) {
//	    // stop everything
//	}
package syncer
