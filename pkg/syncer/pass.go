package syncer

import (
	"partysync/pkg/checkpoint"
	"partysync/pkg/kemono"
	"partysync/pkg/logger"
)

type creatorResult struct {
	done        int
	skipped     int
	failed      int
	files       int
	bytes       int64
	interrupted bool
}

// creatorPass is the working state of one creator between PENDING and
// COMMIT_CREATOR
type creatorPass struct {
	creator kemono.Creator
	dir     string
	record  *checkpoint.Record
	limit   int
	logger  logger.Logger

	visited int
	limited bool
	clean   bool
	result  creatorResult
}

func (p *creatorPass) limitReached() bool {
	return p.limit > 0 && p.visited >= p.limit
}

func (p *creatorPass) stopped() bool {
	return p.limited || p.result.interrupted
}

func (p *creatorPass) interrupt() {
	p.result.interrupted = true
	p.clean = false
}

func (p *creatorPass) fail(title string, err error) {
	p.result.failed++
	p.clean = false
	p.logger.WithError(err).WithField("post", title).Warn("Post incomplete, it will be retried next run")
}

func (s *Summary) add(r creatorResult) {
	s.PostsDone += r.done
	s.PostsSkipped += r.skipped
	s.PostsFailed += r.failed
	s.Files += r.files
	s.Bytes += r.bytes
}
