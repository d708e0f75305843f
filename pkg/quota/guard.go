package quota

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	errs "partysync/pkg/errors"
	"partysync/pkg/logger"
)

// WarnRatio is the usage share at which a run starts with a warning
const WarnRatio = 0.70

// Verdict is the outcome of the run-level check
type Verdict int

const (
	Allow Verdict = iota
	Warn
	Fatal
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Warn:
		return "warn"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Guard enforces a disk usage ceiling on the storage root. Usage is the sum
// of regular file sizes under the root, symlinks excluded; it is measured
// once and then kept current through Add.
type Guard struct {
	root    string
	ceiling int64
	logger  logger.Logger

	mu    sync.Mutex
	usage int64
}

// NewGuard measures root and returns a guard. A ceiling of 0 disables all
// checks.
func NewGuard(root string, ceiling int64, log logger.Logger) (*Guard, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	g := &Guard{root: root, ceiling: ceiling, logger: log.WithField("component", "quota")}
	if err := g.Refresh(); err != nil {
		return nil, err
	}
	return g, nil
}

// Enabled reports whether a ceiling is configured
func (g *Guard) Enabled() bool { return g.ceiling > 0 }

// Ceiling returns the configured limit in bytes
func (g *Guard) Ceiling() int64 { return g.ceiling }

// Usage returns the current usage in bytes
func (g *Guard) Usage() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

// Refresh re-walks the storage root
func (g *Guard) Refresh() error {
	if !g.Enabled() {
		return nil
	}
	used, err := DirSize(g.root)
	if err != nil {
		return fmt.Errorf("failed to measure storage usage: %w", err)
	}
	g.mu.Lock()
	g.usage = used
	g.mu.Unlock()
	return nil
}

// Add accounts for n freshly written bytes
func (g *Guard) Add(n int64) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	g.usage += n
	g.mu.Unlock()
}

// Exhausted reports whether usage has reached the ceiling
func (g *Guard) Exhausted() bool {
	return g.Enabled() && g.Usage() >= g.ceiling
}

// CheckBeforeStart decides whether a run may begin
func (g *Guard) CheckBeforeStart() Verdict {
	if !g.Enabled() {
		return Allow
	}
	used := g.Usage()
	ratio := float64(used) / float64(g.ceiling)

	fields := map[string]interface{}{
		"usage_bytes":   used,
		"ceiling_bytes": g.ceiling,
		"percent":       fmt.Sprintf("%.1f", ratio*100),
	}
	switch {
	case used >= g.ceiling:
		g.logger.ErrorWithFields("Disk quota exhausted", fields)
		return Fatal
	case ratio >= WarnRatio:
		g.logger.WarnWithFields("Disk quota nearly exhausted", fields)
		return Warn
	default:
		g.logger.DebugWithFields("Disk quota check passed", fields)
		return Allow
	}
}

// CheckBeforeFile returns a quota error when writing size more bytes would
// cross the ceiling. Size 0 checks that there is any room left at all.
func (g *Guard) CheckBeforeFile(size int64) error {
	if !g.Enabled() {
		return nil
	}
	if size < 0 {
		size = 0
	}
	used := g.Usage()
	if used+size > g.ceiling || (size == 0 && used >= g.ceiling) {
		return errs.New(errs.ErrorTypeQuota, 0, "writing %d bytes would exceed the disk quota (%d of %d bytes used)", size, used, g.ceiling)
	}
	return nil
}

// DirSize sums the sizes of regular files under root. Symlinks are not
// followed or counted; a missing root has size 0.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
