// Package runlog stores completed dispatch runs.
package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/willemschots/stockdigest/internal/dispatch"
)

// FileLog appends runs to a JSON Lines file, one run per line.
// It is safe for concurrent use within a single process.
type FileLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFile opens (or creates) the run log at path.
func OpenFile(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	return &FileLog{
		path: path,
		f:    f,
	}, nil
}

// Append writes run as a single line and syncs the file.
func (l *FileLog) Append(ctx context.Context, run dispatch.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.f.Write(line)
	if err != nil {
		return fmt.Errorf("failed to write run: %w", err)
	}

	err = l.f.Sync()
	if err != nil {
		return fmt.Errorf("failed to sync run log: %w", err)
	}

	return nil
}

// List returns at most limit runs, newest first. A limit <= 0 returns all runs.
// A missing file is an empty log.
func (l *FileLog) List(ctx context.Context, limit int) ([]dispatch.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return readFile(ctx, l.path, limit)
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.f.Close()
}

// ReadFile lists the runs in the file at path without opening it for writing.
func ReadFile(ctx context.Context, path string, limit int) ([]dispatch.Run, error) {
	return readFile(ctx, path, limit)
}

func readFile(ctx context.Context, path string, limit int) ([]dispatch.Run, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []dispatch.Run{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	var runs []dispatch.Run
	scanner := bufio.NewScanner(f)
	// runs with many recipients make for long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)

	n := 0
	for scanner.Scan() {
		n++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(scanner.Bytes()) == 0 {
			continue
		}

		var run dispatch.Run
		err := json.Unmarshal(scanner.Bytes(), &run)
		if err != nil {
			return nil, fmt.Errorf("failed to decode run on line %d: %w", n, err)
		}

		runs = append(runs, run)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}

	return newestFirst(runs, limit), nil
}

// MemoryLog keeps runs in memory.
type MemoryLog struct {
	mu   sync.Mutex
	runs []dispatch.Run
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, run dispatch.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.runs = append(l.runs, run)
	return nil
}

func (l *MemoryLog) List(_ context.Context, limit int) ([]dispatch.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	runs := make([]dispatch.Run, len(l.runs))
	copy(runs, l.runs)

	return newestFirst(runs, limit), nil
}

// newestFirst orders runs in reverse append order, ties in StartedAt keep that order.
func newestFirst(runs []dispatch.Run, limit int) []dispatch.Run {
	out := make([]dispatch.Run, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}
