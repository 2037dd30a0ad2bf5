package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fileWorker is the demo critical section: work is needed while the target
// file is absent; executing holds the mutex for a while and then writes
// the file. Racing clients therefore demonstrate the protocol end to end:
// exactly one of them should create the file.
type fileWorker struct {
	path string
	hold time.Duration
}

func newFileWorker(path string, hold time.Duration) *fileWorker {
	if path == "" {
		path = filepath.Join(os.TempDir(), "spanlock-demo.txt")
	}
	return &fileWorker{path: path, hold: hold}
}

func (w *fileWorker) MutexNeeded(ctx context.Context) (bool, error) {
	_, err := os.Stat(w.path)
	if err == nil {
		return false, nil
	}
	if os.IsNotExist(err) {
		return true, nil
	}
	return false, fmt.Errorf("stat %s: %w", w.path, err)
}

func (w *fileWorker) ExecuteCriticalSection(ctx context.Context, deadline time.Time) error {
	hold := w.hold
	if remaining := time.Until(deadline); hold > remaining {
		hold = remaining
	}
	if hold > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(hold):
		}
	}
	body := fmt.Sprintf("written at %s (deadline %s)\n",
		time.Now().UTC().Format(time.RFC3339), deadline.Format(time.RFC3339))
	return os.WriteFile(w.path, []byte(body), 0o644)
}
