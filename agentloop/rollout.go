package agentloop

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// rolloutQueueSize bounds how many batches the writer can fall behind.
const rolloutQueueSize = 256

// errRolloutClosed is returned by RecordItems once Shutdown has begun.
var errRolloutClosed = errors.New("rollout recorder closed")

// FileRolloutRecorder persists the session transcript as JSON lines. Writes
// happen on a dedicated goroutine so turn processing never blocks on disk;
// Shutdown waits for the writer to drain before returning.
//
// The queue channel is never closed: aborted tasks tear down detached and may
// record concurrently with Shutdown, so stopping is signalled on a separate
// channel instead.
type FileRolloutRecorder struct {
	queue chan []RolloutItem
	stop  chan struct{}
	done  chan struct{}

	closeOnce sync.Once

	mu     sync.Mutex
	wrErr  error
	logger *slog.Logger
}

// NewFileRolloutRecorder opens (or creates) the rollout file at path and
// starts the background writer.
func NewFileRolloutRecorder(path string, logger *slog.Logger) (*FileRolloutRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open rollout file: %w", err)
	}
	r := &FileRolloutRecorder{
		queue:  make(chan []RolloutItem, rolloutQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.writeLoop(f)
	return r, nil
}

func (r *FileRolloutRecorder) writeLoop(f *os.File) {
	defer close(r.done)
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	enc := json.NewEncoder(w)
	write := func(batch []RolloutItem) bool {
		for _, item := range batch {
			if err := enc.Encode(item); err != nil {
				r.setErr(err)
				return false
			}
		}
		if err := w.Flush(); err != nil {
			r.setErr(err)
			return false
		}
		return true
	}

	for {
		select {
		case batch := <-r.queue:
			if !write(batch) {
				return
			}
		case <-r.stop:
			// Drain batches queued before the stop, then exit.
			for {
				select {
				case batch := <-r.queue:
					if !write(batch) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (r *FileRolloutRecorder) setErr(err error) {
	r.mu.Lock()
	if r.wrErr == nil {
		r.wrErr = err
	}
	r.mu.Unlock()
	r.logger.Error("rollout write failed", "error", err)
}

func (r *FileRolloutRecorder) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wrErr
}

// RecordItems queues items for persistence. Once Shutdown has begun it
// returns errRolloutClosed instead of queueing.
func (r *FileRolloutRecorder) RecordItems(ctx context.Context, items []RolloutItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := r.err(); err != nil {
		return err
	}
	select {
	case <-r.stop:
		return errRolloutClosed
	default:
	}
	select {
	case r.queue <- items:
		return nil
	case <-r.stop:
		return errRolloutClosed
	case <-r.done:
		if err := r.err(); err != nil {
			return err
		}
		return errRolloutClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting items and waits for queued writes to reach disk.
func (r *FileRolloutRecorder) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
		return r.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
