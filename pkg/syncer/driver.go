package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"partysync/internal/downloader"
	"partysync/pkg/checkpoint"
	"partysync/pkg/config"
	"partysync/pkg/favorites"
	"partysync/pkg/kemono"
	"partysync/pkg/logger"
	"partysync/pkg/metadata"
	"partysync/pkg/quota"
	"partysync/pkg/storage"
	"partysync/pkg/ui"
)

// ErrQuotaExceeded ends the whole run: the storage root reached the disk
// quota.
var ErrQuotaExceeded = errors.New("disk quota exceeded")

// Summary describes a finished run
type Summary struct {
	RunID          string
	Creators       int
	FailedCreators int
	PostsDone      int
	PostsSkipped   int
	PostsFailed    int
	Files          int
	Bytes          int64
	Interrupted    bool
	Duration       time.Duration
}

// Driver syncs the creators of one source
type Driver struct {
	api      API
	pool     Downloader
	store    *storage.Manager
	guard    *quota.Guard
	records  *checkpoint.Manager
	snapshot *favorites.Snapshot
	progress Progress
	cfg      *config.Config
	logger   logger.Logger
	runID    string
}

// New creates a driver for api's source. The favorites snapshot of the
// source is loaded from the storage state directory.
func New(cfg *config.Config, api API, pool Downloader, store *storage.Manager, guard *quota.Guard, log logger.Logger) (*Driver, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	snapshot, err := favorites.LoadSnapshot(store.SnapshotPath(api.Source()))
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log = log.WithFields(map[string]interface{}{
		"run_id": runID,
		"source": api.Source(),
	})

	return &Driver{
		api:      api,
		pool:     pool,
		store:    store,
		guard:    guard,
		records:  checkpoint.NewManager(log),
		snapshot: snapshot,
		progress: nopProgress{},
		cfg:      cfg,
		logger:   log,
		runID:    runID,
	}, nil
}

// SetProgress sets where creator and post updates are shown
func (d *Driver) SetProgress(p Progress) {
	if p == nil {
		p = nopProgress{}
	}
	d.progress = p
}

// RunID identifies this driver's run in logs
func (d *Driver) RunID() string { return d.runID }

// Snapshot returns the favorites snapshot the driver commits to
func (d *Driver) Snapshot() *favorites.Snapshot { return d.snapshot }

// Run syncs every creator of sel. Per-creator failures are logged and do
// not stop the run; ErrQuotaExceeded does. A cancelled ctx stops the run
// between posts and is reported through Summary.Interrupted.
func (d *Driver) Run(ctx context.Context, sel Selection) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: d.runID}
	defer func() { sum.Duration = time.Since(start) }()

	logger.LogComponentStart(d.logger, "sync driver", map[string]interface{}{
		"storage_root":    d.store.Root(),
		"post_limit":      d.cfg.Storage.PostLimitPerCreator,
		"per_post_folder": d.cfg.Storage.CreatePerPostFolder,
		"quota_bytes":     d.guard.Ceiling(),
	})

	switch d.guard.CheckBeforeStart() {
	case quota.Fatal:
		logger.LogComponentStop(d.logger, "sync driver", "disk quota exceeded")
		return sum, ErrQuotaExceeded
	case quota.Warn:
		ui.PrintWarning(fmt.Sprintf("Disk usage is above %.0f%% of the quota", quota.WarnRatio*100))
	}

	creators, err := d.resolve(ctx, sel)
	if err != nil {
		logger.LogComponentStop(d.logger, "sync driver", "selection failed")
		return sum, fmt.Errorf("failed to select creators: %w", err)
	}
	d.logger.InfoWithFields("Creators selected for sync", map[string]interface{}{
		"count": len(creators),
	})

	creators, counts := d.lookupProfiles(ctx, creators)

	var runErr error
	for _, c := range creators {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}

		res, err := d.syncCreator(ctx, c, counts[c.Key()])
		sum.Creators++
		sum.add(res)
		if res.interrupted {
			sum.Interrupted = true
		}

		if errors.Is(err, ErrQuotaExceeded) {
			runErr = ErrQuotaExceeded
			break
		}
		if err != nil {
			sum.FailedCreators++
			d.logger.WithError(err).WithField("creator", c.Key()).Error("Creator sync failed")
			ui.PrintError(fmt.Sprintf("Failed to sync %s", c.DisplayName()), err)
		}
	}

	d.progress.Complete(sum.Creators, sum.PostsDone, sum.PostsFailed, sum.Bytes)
	logger.LogMetrics(d.logger, "sync", map[string]interface{}{
		"creators":        sum.Creators,
		"failed_creators": sum.FailedCreators,
		"posts_done":      sum.PostsDone,
		"posts_skipped":   sum.PostsSkipped,
		"posts_failed":    sum.PostsFailed,
		"files":           sum.Files,
		"bytes":           sum.Bytes,
		"interrupted":     sum.Interrupted,
		"duration":        time.Since(start).String(),
	})

	reason := "completed"
	switch {
	case runErr != nil:
		reason = runErr.Error()
	case sum.Interrupted:
		reason = "interrupted"
	}
	logger.LogComponentStop(d.logger, "sync driver", reason)

	return sum, runErr
}

// lookupProfiles fetches profiles of the selected creators in parallel. Post counts
// size the progress output; names and markers missing from a manual
// selection are filled in from the profile.
func (d *Driver) lookupProfiles(ctx context.Context, creators []kemono.Creator) ([]kemono.Creator, map[string]int) {
	profiles := make([]*kemono.Profile, len(creators))

	limit := d.cfg.Download.ProfileConcurrency
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, c := range creators {
		if c.IsChannelType() {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p, err := d.api.FetchProfile(ctx, c.Service, string(c.ID))
			if err != nil {
				d.logger.DebugWithFields("Post count lookup failed", map[string]interface{}{
					"creator": c.Key(),
					"error":   err.Error(),
				})
				return nil
			}
			profiles[i] = p
			return nil
		})
	}
	g.Wait()

	out := make([]kemono.Creator, len(creators))
	counts := make(map[string]int, len(creators))
	for i, c := range creators {
		if p := profiles[i]; p != nil {
			if strings.TrimSpace(c.Name) == "" {
				c.Name = p.Name
			}
			if c.Updated == "" {
				c.Updated = p.Updated
			}
			counts[c.Key()] = p.PostCount
		}
		out[i] = c
	}
	return out, counts
}

// syncCreator runs one creator from ENUMERATING through COMMIT_CREATOR
func (d *Driver) syncCreator(ctx context.Context, c kemono.Creator, totalPosts int) (creatorResult, error) {
	name := c.DisplayName()
	log := d.logger.WithFields(map[string]interface{}{
		"creator": c.Key(),
		"name":    name,
	})

	dir, err := d.store.CreatorDir(d.api.Source(), name, c.Service)
	if err != nil {
		return creatorResult{}, err
	}
	rec, err := d.records.Load(dir)
	if err != nil {
		return creatorResult{}, err
	}

	pass := &creatorPass{
		creator: c,
		dir:     dir,
		record:  rec,
		limit:   d.cfg.Storage.PostLimitPerCreator,
		logger:  log,
		clean:   true,
	}

	log.InfoWithFields("Creator sync started", map[string]interface{}{
		"dir":          dir,
		"known_posts":  rec.Len(),
		"total_posts":  totalPosts,
		"channel_type": c.IsChannelType(),
	})
	d.progress.StartCreator(name, totalPosts)

	var walkErr error
	if c.IsChannelType() {
		walkErr = d.syncChannels(ctx, pass)
	} else {
		walkErr = d.walk(ctx, kemono.NewPageEnumerator(d.api, c), dir, pass)
	}
	if walkErr != nil {
		pass.clean = false
	}

	d.progress.FinishCreator()
	logger.LogSyncProgress(log, name, pass.visited, totalPosts)

	return pass.result, errors.Join(walkErr, d.commit(pass))
}

// syncChannels walks every channel of a discord server into its own folder
func (d *Driver) syncChannels(ctx context.Context, pass *creatorPass) error {
	channels, err := d.api.ListChannels(ctx, string(pass.creator.ID))
	if err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	for _, ch := range channels {
		if pass.stopped() {
			return nil
		}
		if ch.ID == "" {
			pass.logger.Warn("Skipping channel without id")
			ui.PrintWarning("Skipping a channel with no id")
			continue
		}

		folder := storage.SanitizeName(ch.Name, storage.MaxNameLength)
		if folder == "" {
			folder = storage.SanitizeName(string(ch.ID), storage.MaxNameLength)
		}
		dir := filepath.Join(pass.dir, folder)
		if err := storage.EnsureDir(dir); err != nil {
			return err
		}

		pages := kemono.NewChannelEnumerator(d.api, string(ch.ID))
		if err := d.walk(ctx, pages, dir, pass); err != nil {
			return err
		}
	}
	return nil
}

type pageSource interface {
	Next(ctx context.Context) (kemono.Page, bool, error)
}

// walk pulls pages and handles their posts in order until the listing
// ends, the context is cancelled, the post limit is reached or the quota
// runs out.
func (d *Driver) walk(ctx context.Context, pages pageSource, dir string, pass *creatorPass) error {
	for !pass.stopped() {
		if ctx.Err() != nil {
			pass.interrupt()
			return nil
		}

		page, ok, err := pages.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				pass.interrupt()
				return nil
			}
			// the creator keeps its old marker so the next run tries again
			pass.clean = false
			pass.logger.WithError(err).WithField("offset", page.Offset).Warn("Listing stopped early")
			return nil
		}
		if !ok {
			return nil
		}

		for _, post := range page.Posts {
			if ctx.Err() != nil {
				pass.interrupt()
				return nil
			}
			if pass.limitReached() {
				pass.limited = true
				pass.logger.InfoWithFields("Post limit reached", map[string]interface{}{
					"limit": pass.limit,
				})
				return nil
			}
			if d.guard.Exhausted() {
				pass.clean = false
				return ErrQuotaExceeded
			}
			d.syncPost(ctx, post, dir, pass)
		}
	}
	return nil
}

// syncPost is DOWNLOADING_POST for one post
func (d *Driver) syncPost(ctx context.Context, post kemono.Post, dir string, pass *creatorPass) {
	id := string(post.ID)
	if id == "" {
		pass.logger.Warn("Skipping listing entry without post id")
		ui.PrintWarning("Skipping a post with no id")
		return
	}
	pass.visited++

	title := postTitle(post)
	if pass.record.Has(id) {
		pass.result.skipped++
		d.progress.SkipPost(title)
		return
	}

	folder := PostFolderName(post)
	postDir, prefix := dir, folder+"_"
	if d.cfg.Storage.CreatePerPostFolder {
		postDir, prefix = filepath.Join(dir, folder), ""
		if err := storage.EnsureDir(postDir); err != nil {
			pass.fail(title, err)
			d.progress.FailPost(title, err)
			return
		}
	}

	files := post.Files()
	names := fileNames(files)
	jobs := make([]downloader.Job, len(files))
	for i, f := range files {
		jobs[i] = downloader.Job{
			RemotePath: f.Path,
			FileName:   prefix + names[i],
			Dir:        postDir,
			Creator:    pass.creator.DisplayName(),
			PostID:     id,
		}
	}

	d.progress.StartPost(title)
	results := d.pool.DownloadAll(ctx, jobs)

	var (
		firstErr error
		size     int64
		stored   = make([]metadata.File, 0, len(results))
	)
	for _, r := range results {
		if !r.Success {
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		size += r.Size
		stored = append(stored, metadata.File{
			Name:       r.Job.FileName,
			RemotePath: r.Job.RemotePath,
			Size:       r.Size,
			Skipped:    r.Skipped,
		})
	}

	if len(stored) != len(results) {
		if firstErr == nil {
			firstErr = fmt.Errorf("attachment download failed")
		}
		pass.fail(title, firstErr)
		d.progress.FailPost(title, firstErr)
		return
	}

	meta := metadata.FromPost(d.api.Source(), pass.creator, post, stored)
	if err := meta.Save(postDir, prefix); err != nil {
		pass.logger.WithError(err).WithField("post_id", id).Warn("Failed to write post metadata")
	}
	if d.cfg.Storage.WriteContentFile {
		if err := metadata.SaveContent(postDir, prefix, post.Content); err != nil {
			pass.logger.WithError(err).WithField("post_id", id).Warn("Failed to write post content")
		}
	}

	pass.record.Add(id)
	pass.result.done++
	pass.result.files += len(stored)
	pass.result.bytes += size
	d.progress.CompletePost(title, len(stored), size)
}

// commit is COMMIT_CREATOR: the record is always flushed, the snapshot
// marker only advances after a clean pass.
func (d *Driver) commit(pass *creatorPass) error {
	if err := d.records.Save(pass.record); err != nil {
		return err
	}

	if !pass.clean {
		pass.logger.InfoWithFields("Creator pass incomplete, keeping previous marker", map[string]interface{}{
			"failed_posts": pass.result.failed,
			"interrupted":  pass.result.interrupted,
		})
		return nil
	}

	d.snapshot.Upsert(pass.creator)
	if err := d.snapshot.Save(); err != nil {
		return err
	}

	pass.logger.InfoWithFields("Creator sync committed", map[string]interface{}{
		"marker":        string(pass.creator.Updated),
		"posts_done":    pass.result.done,
		"posts_skipped": pass.result.skipped,
	})
	return nil
}
