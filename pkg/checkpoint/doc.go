// Package checkpoint keeps the per-creator download record.
//
// Each creator service folder holds a downloaded_posts.json listing the ids
// of posts whose attachments all completed. A post id is only added after
// its last attachment succeeded, and the whole file is rewritten through a
// temp file and rename, so an interrupted run leaves either the old or the
// new record behind.
package checkpoint
