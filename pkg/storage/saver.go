package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

const defaultSaveTimeout = 10 * time.Second

type saveJob struct {
	meta ProjectMeta
	snap vfs.Snapshot
}

type savedState struct {
	digest      string
	name        string
	description string
	template    string
}

func stateOf(meta ProjectMeta, digest string) savedState {
	return savedState{digest: digest, name: meta.Name, description: meta.Description, template: meta.Template}
}

// Saver writes project snapshots in the background. Schedule never blocks on
// I/O: repeated schedules for one project collapse into the latest snapshot and
// a single worker drains them in FIFO order. Failed writes are logged and not
// retried.
type Saver struct {
	adapter Adapter
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]saveJob
	queue    []string
	inflight string
	busy     bool
	waiters  []chan struct{}
	saved    map[string]savedState
	closed   bool
	onSaved  func(meta ProjectMeta, digest string)

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewSaver starts the worker goroutine.
func NewSaver(adapter Adapter, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Saver{
		adapter: adapter,
		logger:  logger,
		timeout: defaultSaveTimeout,
		pending: make(map[string]saveJob),
		saved:   make(map[string]savedState),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// OnSaved registers a hook called by the worker after each successful write.
func (s *Saver) OnSaved(fn func(meta ProjectMeta, digest string)) {
	s.mu.Lock()
	s.onSaved = fn
	s.mu.Unlock()
}

// Schedule queues a snapshot for writing. It reports false once the saver is closed.
func (s *Saver) Schedule(meta ProjectMeta, snap vfs.Snapshot) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.pending[meta.ID]; !ok {
		s.queue = append(s.queue, meta.ID)
	}
	s.pending[meta.ID] = saveJob{meta: meta, snap: snap}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// MarkSaved records a write made outside the saver so identical snapshots are
// not written again.
func (s *Saver) MarkSaved(meta ProjectMeta, snap vfs.Snapshot) {
	s.mu.Lock()
	s.saved[meta.ID] = stateOf(meta, Digest(snap))
	s.mu.Unlock()
}

// Pending reports whether a write for id is queued or in progress.
func (s *Saver) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, queued := s.pending[id]
	return queued || (s.busy && s.inflight == id)
}

// Forget drops a queued write for id and its saved state.
func (s *Saver) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	delete(s.saved, id)
	for i, qid := range s.queue {
		if qid == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
}

// Flush waits until every queued write, including one in progress, has finished.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.queue) == 0 && !s.busy {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the worker.
func (s *Saver) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.quit)
	<-s.done
	return nil
}

func (s *Saver) run() {
	defer close(s.done)
	for {
		if job, ok := s.next(); ok {
			s.write(job)
			continue
		}
		select {
		case <-s.wake:
		case <-s.quit:
			for {
				job, ok := s.next()
				if !ok {
					return
				}
				s.write(job)
			}
		}
	}
}

// next pops the oldest queued project. When the queue is empty it marks the
// worker idle and releases Flush waiters.
func (s *Saver) next() (saveJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		s.busy = false
		s.inflight = ""
		for _, ch := range s.waiters {
			close(ch)
		}
		s.waiters = nil
		return saveJob{}, false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	job := s.pending[id]
	delete(s.pending, id)
	s.busy = true
	s.inflight = id
	return job, true
}

func (s *Saver) write(job saveJob) {
	id := job.meta.ID
	digest := Digest(job.snap)

	s.mu.Lock()
	prev, ok := s.saved[id]
	s.mu.Unlock()
	if ok && prev == stateOf(job.meta, digest) {
		s.logger.Debug("Skipping unchanged project save", "id", id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	if err := s.adapter.Save(ctx, job.meta, job.snap); err != nil {
		s.logger.Warn("Background project save failed", "id", id, "error", err)
		return
	}
	s.logger.Debug("Project saved", "id", id, "files", len(job.snap.Files), "elapsed", time.Since(start))

	s.mu.Lock()
	s.saved[id] = stateOf(job.meta, digest)
	hook := s.onSaved
	s.mu.Unlock()
	if hook != nil {
		hook(job.meta, digest)
	}
}
