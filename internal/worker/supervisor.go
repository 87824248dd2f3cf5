//go:generate go run go.uber.org/mock/mockgen -source=supervisor.go -destination=../mocks/mock_worker.go -package=mocks

// Package worker runs long-lived background tasks under supervision.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// ErrWorkerPanic is reported when a worker's Run panicked and was recovered.
var ErrWorkerPanic = errors.New("worker panic")

// DefaultRestartDelay is the pause before a crashed worker is restarted.
const DefaultRestartDelay = 200 * time.Millisecond

// Worker is a background task. Run blocks until ctx is canceled or the work
// is done; a nil return means the worker finished and must not be restarted.
type Worker interface {
	Run(ctx context.Context) error
}

// Name returns the type name of w for logging.
func Name(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Supervisor runs each worker in its own goroutine, recovers panics,
// restarts workers that fail and stops everything when its context ends.
type Supervisor struct {
	mu           sync.Mutex
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	log          *slog.Logger
	restartDelay time.Duration
	workers      []Worker
}

// NewSupervisor creates a supervisor. A non-positive restartDelay falls back
// to DefaultRestartDelay.
func NewSupervisor(log *slog.Logger, restartDelay time.Duration) *Supervisor {
	if restartDelay <= 0 {
		restartDelay = DefaultRestartDelay
	}
	return &Supervisor{log: log, restartDelay: restartDelay}
}

// Add queues workers to be started by Run.
func (s *Supervisor) Add(workers ...Worker) *Supervisor {
	s.workers = append(s.workers, workers...)
	return s
}

// Run starts every added worker and blocks until all of them returned.
// Canceling ctx or calling Stop ends the supervised workers.
func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	for _, w := range s.workers {
		s.Start(supervisedCtx, w)
	}
	s.wg.Wait()
}

// Start runs one worker under supervision in a dedicated goroutine.
func (s *Supervisor) Start(ctx context.Context, w Worker) {
	s.wg.Add(1)
	name := Name(w)

	go func() {
		defer s.wg.Done()

		for {
			if ctx.Err() != nil {
				s.log.Info("Stopping worker", "name", name)
				return
			}

			err := s.runOnce(ctx, w)
			if err == nil {
				s.log.Info("Worker finished", "name", name)
				return
			}
			if ctx.Err() != nil {
				s.log.Info("Worker stopped (context canceled)", "name", name)
				return
			}

			s.log.Warn("Worker crashed, restarting", "name", name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartDelay):
			}
		}
	}()
}

func (s *Supervisor) runOnce(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()
	return w.Run(ctx)
}

// Stop cancels every supervised worker. Run returns once they all exited.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
