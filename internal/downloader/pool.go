package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	errs "partysync/pkg/errors"
	"partysync/pkg/logger"
	"partysync/pkg/storage"
)

// Job is one attachment to fetch into Dir/FileName
type Job struct {
	RemotePath string
	FileName   string
	Dir        string
	Creator    string
	PostID     string
}

// Path returns the final location of the file
func (j Job) Path() string {
	return filepath.Join(j.Dir, j.FileName)
}

// Result is the outcome of a job. Failures never escape as panics or
// errors; they are reported here.
type Result struct {
	Job      Job
	Success  bool
	Skipped  bool
	Err      error
	Size     int64
	Duration time.Duration
}

// FileSource opens an attachment for streaming
type FileSource interface {
	OpenFile(ctx context.Context, remotePath string) (*http.Response, error)
}

// QuotaGuard admits writes against the disk ceiling
type QuotaGuard interface {
	CheckBeforeFile(size int64) error
	Add(n int64)
}

type task struct {
	ctx   context.Context
	job   Job
	index int
	out   chan<- indexedResult
}

type indexedResult struct {
	index  int
	result Result
}

// WorkerPool downloads attachments with a fixed number of workers
type WorkerPool struct {
	numWorkers int
	jobQueue   chan task
	wg         sync.WaitGroup
	client     FileSource
	quota      QuotaGuard
	policy     Policy
	logger     logger.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewWorkerPool creates a new download worker pool. quota may be nil.
func NewWorkerPool(numWorkers int, client FileSource, quota QuotaGuard, policy Policy, log logger.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers: numWorkers,
		jobQueue:   make(chan task, numWorkers*2),
		client:     client,
		quota:      quota,
		policy:     policy,
		logger:     log.WithField("component", "downloader"),
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true

	logger.LogComponentStart(wp.logger, "worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop waits for queued jobs to finish and shuts the workers down
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started || wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	close(wp.jobQueue)
	wp.wg.Wait()
	logger.LogComponentStop(wp.logger, "worker pool", "stopped")
}

// DownloadAll runs jobs on the pool and returns their results in job
// order. Downloads already handed to the pool are not interrupted when ctx
// is cancelled; the caller decides between batches whether to go on.
func (wp *WorkerPool) DownloadAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}
	wp.Start()

	detached := context.WithoutCancel(ctx)
	out := make(chan indexedResult, len(jobs))
	for i, job := range jobs {
		wp.jobQueue <- task{ctx: detached, job: job, index: i, out: out}
	}
	for range jobs {
		r := <-out
		results[r.index] = r.result
	}
	return results
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for t := range wp.jobQueue {
		result := wp.Download(t.ctx, t.job)
		logger.LogDownload(wp.logger.WithField("worker_id", id), t.job.Creator, t.job.PostID, t.job.FileName,
			result.Success, result.Skipped, result.Err)
		t.out <- indexedResult{index: t.index, result: result}
	}
}

// Download runs the full pipeline for one attachment: type filter, quota
// pre-check, stale temp cleanup, existing-file short cut, bounded streaming
// into the temp file, length verification and rename.
func (wp *WorkerPool) Download(ctx context.Context, job Job) Result {
	start := time.Now()
	result := Result{Job: job}
	finish := func(err error) Result {
		result.Err = err
		result.Success = err == nil
		result.Duration = time.Since(start)
		return result
	}

	if !wp.policy.Allows(job.FileName) {
		// counts against the post like any other failure
		result.Skipped = true
		return finish(errs.New(errs.ErrorTypePolicy, 0, "file type %q of %s is not allowed", wp.policy.Category(job.FileName), job.FileName))
	}

	if err := wp.checkQuota(0); err != nil {
		return finish(err)
	}

	final := job.Path()
	tmp := storage.TempPath(final)
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return finish(fmt.Errorf("failed to remove stale temp file: %w", err))
	}

	exists, err := storage.Exists(final)
	if err != nil {
		return finish(fmt.Errorf("failed to stat %s: %w", final, err))
	}
	if exists {
		result.Skipped = true
		return finish(nil)
	}

	if err := storage.EnsureDir(job.Dir); err != nil {
		return finish(err)
	}

	resp, err := wp.client.OpenFile(ctx, job.RemotePath)
	if err != nil {
		return finish(err)
	}
	defer resp.Body.Close()

	declared := resp.ContentLength
	if declared >= 0 {
		if err := wp.checkSize(declared); err != nil {
			return finish(err)
		}
		if err := wp.checkQuota(declared); err != nil {
			return finish(err)
		}
	}

	n, err := wp.streamToTemp(resp.Body, tmp)
	if err != nil {
		os.Remove(tmp)
		return finish(err)
	}

	if declared >= 0 && n != declared {
		os.Remove(tmp)
		return finish(errs.New(errs.ErrorTypeNetwork, 0, "incomplete download: got %d of %d bytes", n, declared))
	}
	if declared < 0 {
		if err := wp.checkSize(n); err != nil {
			os.Remove(tmp)
			return finish(err)
		}
		if err := wp.checkQuota(n); err != nil {
			os.Remove(tmp)
			return finish(err)
		}
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return finish(fmt.Errorf("failed to move download into place: %w", err))
	}

	if wp.quota != nil {
		wp.quota.Add(n)
	}
	result.Size = n
	return finish(nil)
}

func (wp *WorkerPool) streamToTemp(body io.Reader, tmp string) (int64, error) {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	src := body
	if wp.policy.MaxBytes > 0 {
		src = io.LimitReader(body, wp.policy.MaxBytes+1)
	}

	n, copyErr := io.Copy(f, src)
	if copyErr == nil && wp.policy.MaxBytes > 0 && n > wp.policy.MaxBytes {
		copyErr = errs.New(errs.ErrorTypePolicy, 0, "file exceeds maximum size of %d bytes", wp.policy.MaxBytes)
	}
	if copyErr == nil {
		copyErr = f.Sync()
	}
	if closeErr := f.Close(); copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		if errs.Is(copyErr, errs.ErrorTypePolicy) {
			return n, copyErr
		}
		return n, errs.New(errs.ErrorTypeNetwork, 0, "download interrupted after %d bytes: %v", n, copyErr)
	}
	return n, nil
}

func (wp *WorkerPool) checkSize(size int64) error {
	if wp.policy.MinBytes > 0 && size < wp.policy.MinBytes {
		return errs.New(errs.ErrorTypePolicy, 0, "file of %d bytes is below minimum size of %d bytes", size, wp.policy.MinBytes)
	}
	if wp.policy.MaxBytes > 0 && size > wp.policy.MaxBytes {
		return errs.New(errs.ErrorTypePolicy, 0, "file of %d bytes exceeds maximum size of %d bytes", size, wp.policy.MaxBytes)
	}
	return nil
}

func (wp *WorkerPool) checkQuota(size int64) error {
	if wp.quota == nil {
		return nil
	}
	return wp.quota.CheckBeforeFile(size)
}

// GetQueueSize returns the current number of jobs in the queue
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

// GetActiveWorkers returns the number of workers
func (wp *WorkerPool) GetActiveWorkers() int {
	return wp.numWorkers
}
