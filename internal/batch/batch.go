// Package batch runs a list of panorama downloads sequentially, continuing
// past individual failures and reporting a summary at the end.
package batch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryStatus tracks where an entry is in its lifecycle.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusRunning   EntryStatus = "running"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// Entry is one download job read from the batch file.
type Entry struct {
	ID         string
	URL        string
	Line       int
	Status     EntryStatus
	Err        error
	OutputPath string
	Elapsed    time.Duration
}

// Load reads a batch file: one Maps URL or panorama ID per line. Blank
// lines and lines starting with # are skipped.
func Load(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		entries = append(entries, &Entry{
			ID:     uuid.NewString(),
			URL:    text,
			Line:   line,
			Status: StatusPending,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("batch file %s contains no entries", path)
	}
	return entries, nil
}

// ProcessFunc downloads one entry and returns the written output path.
type ProcessFunc func(ctx context.Context, entry *Entry) (string, error)

// Summary aggregates a finished batch run.
type Summary struct {
	Completed int
	Failed    int
	Elapsed   time.Duration
}

// Runner executes entries one at a time. Failures are recorded on the
// entry and the run moves on; only context cancellation stops it early.
type Runner struct {
	process ProcessFunc

	// OnStart and OnDone, when set, are called around each entry.
	OnStart func(entry *Entry, index, total int)
	OnDone  func(entry *Entry, index, total int)
}

// NewRunner creates a Runner around the given per-entry download function.
func NewRunner(process ProcessFunc) *Runner {
	return &Runner{process: process}
}

// Run processes every entry in order. It returns the summary and the
// context error if the run was cancelled mid-batch.
func (r *Runner) Run(ctx context.Context, entries []*Entry) (Summary, error) {
	start := time.Now()
	var summary Summary
	total := len(entries)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}

		entry.Status = StatusRunning
		if r.OnStart != nil {
			r.OnStart(entry, i, total)
		}

		entryStart := time.Now()
		path, err := r.process(ctx, entry)
		entry.Elapsed = time.Since(entryStart)

		if err != nil {
			entry.Status = StatusFailed
			entry.Err = err
			summary.Failed++
		} else {
			entry.Status = StatusCompleted
			entry.OutputPath = path
			summary.Completed++
		}
		if r.OnDone != nil {
			r.OnDone(entry, i, total)
		}
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}
