// Package storage owns the mirror's on-disk layout and the write-to-temp then
// rename primitive every persisted document goes through. Readers never see a
// half-written snapshot, download record or metadata file.
//
//	mgr, err := storage.NewManager(cfg.Storage.Root)
//	dir, err := mgr.CreatorDir("kemono", "Alice", "patreon")
//	err = storage.WriteJSONAtomic(filepath.Join(dir, "downloaded_posts.json"), ids)
package storage
