package kemono

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	errs "partysync/pkg/errors"
)

// idleBody fails a streamed body once no byte arrived for timeout. The
// request context is cancelled when the deadline passes or the body is
// closed, whichever comes first.
type idleBody struct {
	body    io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
	once    sync.Once
}

func newIdleBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{body: body, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	if b.expired.Load() {
		return 0, b.stalled()
	}
	b.timer.Reset(b.timeout)

	n, err := b.body.Read(p)
	if err != nil && err != io.EOF && b.expired.Load() {
		return n, b.stalled()
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.once.Do(func() {
		b.timer.Stop()
		b.cancel()
	})
	return b.body.Close()
}

func (b *idleBody) stalled() error {
	return errs.New(errs.ErrorTypeNetwork, 0, "no data received for %s", b.timeout)
}
