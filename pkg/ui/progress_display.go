package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressDisplay prints one updating line per creator and a final summary
type ProgressDisplay struct {
	mu  sync.Mutex
	out io.Writer

	creator    string
	totalPosts int
	donePosts  int
	skipped    int
	failed     int
	bytes      int64
	current    string
	started    time.Time

	runStarted time.Time
	isDebug    bool
}

// NewProgressDisplay creates a new progress display writing to out
func NewProgressDisplay(out io.Writer, debug bool) *ProgressDisplay {
	if out == nil {
		out = Output
	}
	return &ProgressDisplay{
		out:        out,
		runStarted: time.Now(),
		isDebug:    debug,
	}
}

// StartCreator resets the line for a new creator. totalPosts may be 0 when
// the count is unknown.
func (p *ProgressDisplay) StartCreator(name string, totalPosts int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.creator = name
	p.totalPosts = totalPosts
	p.donePosts, p.skipped, p.failed = 0, 0, 0
	p.bytes = 0
	p.current = ""
	p.started = time.Now()

	if IsQuietMode() {
		return
	}
	fmt.Fprintf(p.out, "\n%s %s\n", Magenta("→"), Cyan(name))
}

// StartPost marks the post being downloaded
func (p *ProgressDisplay) StartPost(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = title
	p.printProgress()
}

// CompletePost counts a fully downloaded post
func (p *ProgressDisplay) CompletePost(title string, files int, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.donePosts++
	p.bytes += size
	if p.isDebug && !IsQuietMode() {
		fmt.Fprintf(p.out, "\n%s %s • %d files • %s\n", Green("✓"), title, files, FormatBytes(size))
		return
	}
	p.printProgress()
}

// SkipPost counts a post completed in an earlier run
func (p *ProgressDisplay) SkipPost(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.skipped++
	p.printProgress()
}

// FailPost counts a post with at least one failed attachment
func (p *ProgressDisplay) FailPost(title string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed++
	if p.isDebug && !IsQuietMode() {
		fmt.Fprintf(p.out, "\n%s Failed: %s - %v\n", Red("✗"), title, err)
		return
	}
	p.printProgress()
}

// FinishCreator closes the creator's line
func (p *ProgressDisplay) FinishCreator() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = ""
	p.printProgress()
	if !IsQuietMode() {
		fmt.Fprintf(p.out, "\n  %s %s in %s\n", Dim("•"), FormatBytes(p.bytes), FormatDuration(time.Since(p.started)))
	}
}

func (p *ProgressDisplay) printProgress() {
	if IsQuietMode() {
		return
	}

	seen := p.donePosts + p.skipped + p.failed
	total := p.totalPosts
	if total < seen {
		total = seen
	}

	line := fmt.Sprintf("\r%s [%s] %d/%d posts • %s",
		Cyan(p.creator),
		Bar(seen, total, 20),
		seen,
		total,
		FormatBytes(p.bytes),
	)
	if p.skipped > 0 {
		line += fmt.Sprintf(" • %s", Dim(fmt.Sprintf("%d already mirrored", p.skipped)))
	}
	if p.current != "" {
		current := []rune(p.current)
		if len(current) > 40 {
			current = append(current[:37], []rune("...")...)
		}
		line += fmt.Sprintf(" • %s", string(current))
	}
	if p.failed > 0 {
		line += fmt.Sprintf(" • %s", Red(fmt.Sprintf("%d failed", p.failed)))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// Complete prints the run summary
func (p *ProgressDisplay) Complete(creators, posts, failed int, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if IsQuietMode() {
		return
	}
	elapsed := time.Since(p.runStarted)
	fmt.Fprintf(p.out, "\n\n%s Synced %d creators, %d new posts\n", Green("✓"), creators, posts)
	fmt.Fprintf(p.out, "  %s %s in %s\n", Dim("•"), FormatBytes(bytes), FormatDuration(elapsed))
	if failed > 0 {
		fmt.Fprintf(p.out, "  %s %d posts incomplete, they will be retried next run\n", Dim("•"), failed)
	}
}
