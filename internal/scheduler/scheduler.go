// Package scheduler implements the Part Scheduler (C6): a bounded-
// concurrency worker pool driven by a single shared failure counter that
// sets the exponential backoff every worker waits before its next attempt.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/ltsu/internal/log"
)

// MaxRetryDelay bounds the exponential backoff (§4.6).
const MaxRetryDelay = 300 * time.Second

// MaxConsecutiveMismatches escalates a per-part checksum mismatch streak
// into a fatal error instead of retrying forever (SPEC_FULL.md's
// resolution of the persistent-corruption open question).
const MaxConsecutiveMismatches = 10

// Clock abstracts time so backoff is testable without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// temporaryError is implemented by backend errors that know whether a retry
// could ever succeed (e.g. glacier.Error.Temporary). A bad-auth or malformed-
// request failure will fail identically on every future attempt, so it is
// treated as fatal rather than retried until the caller gives up waiting.
type temporaryError interface {
	Temporary() bool
}

// MismatchDetector lets a task report whether its failure was a checksum
// mismatch on a specific part index, so the scheduler can track
// per-part consecutive-mismatch streaks independently of the shared
// backoff counter.
type MismatchDetector interface {
	// IsChecksumMismatch reports whether err represents a checksum
	// mismatch (as opposed to any other transient failure).
	IsChecksumMismatch(err error) bool
}

// Task is one unit of schedulable work: uploading a single part.
type Task struct {
	// PartIndex identifies the part for mismatch-streak tracking and logging.
	PartIndex int
	// Run performs the upload attempt. A nil error means success.
	Run func(ctx context.Context) error
}

// ErrPersistentCorruption is returned by Run when a
// single part fails checksum verification MaxConsecutiveMismatches times in
// a row, indicating in-flight corruption that retries cannot resolve.
type ErrPersistentCorruption struct {
	PartIndex int
}

func (e *ErrPersistentCorruption) Error() string {
	return "scheduler: part has a persistent checksum mismatch and will not be retried further"
}

// Scheduler runs Tasks with at most Concurrency in flight, using a single
// global failure counter for backoff (§4.6, §9).
type Scheduler struct {
	logger      log.Logger
	concurrency int
	clock       Clock
	detector    MismatchDetector

	failures int64 // shared exponent f, atomic

	mu             sync.Mutex
	mismatchStreak map[int]int
}

// New builds a Scheduler with the given maximum concurrency.
func New(logger log.Logger, concurrency int, detector MismatchDetector) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		logger:         logger,
		concurrency:    concurrency,
		clock:          RealClock,
		detector:       detector,
		mismatchStreak: make(map[int]int),
	}
}

// WithClock overrides the Scheduler's clock; used by tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// Run drains tasks, retrying each indefinitely until it succeeds, a part
// escalates to persistent corruption, or a part's error reports itself as
// non-temporary. It returns the first such fatal error (an
// *ErrPersistentCorruption or the non-temporary error itself), ctx's error
// if ctx is cancelled first, or nil once every task has succeeded. Run
// blocks until the queue is idle or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tasks []Task) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)

	var mu sync.Mutex
	var fatalErr error

	runTask := func(t Task) {
		defer wg.Done()
		defer func() { <-sem }()

		for {
			select {
			case <-runCtx.Done():
				return
			default:
			}

			f := atomic.LoadInt64(&s.failures)
			wait := backoff(f)
			if wait > 0 {
				s.clock.Sleep(wait)
			}

			err := t.Run(runCtx)
			if err == nil {
				atomic.StoreInt64(&s.failures, 0)
				s.clearMismatch(t.PartIndex)
				return
			}

			atomic.AddInt64(&s.failures, 1)

			var te temporaryError
			if errors.As(err, &te) && !te.Temporary() {
				mu.Lock()
				if fatalErr == nil {
					fatalErr = err
				}
				mu.Unlock()
				cancel()
				return
			}

			if s.detector != nil && s.detector.IsChecksumMismatch(err) {
				if s.bumpMismatch(t.PartIndex) >= MaxConsecutiveMismatches {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = &ErrPersistentCorruption{PartIndex: t.PartIndex}
					}
					mu.Unlock()
					cancel()
					return
				}
			} else {
				s.clearMismatch(t.PartIndex)
			}

			s.logger.Warnf("scheduler: part %d failed, will retry: %v", t.PartIndex, err)
		}
	}

	// Every task gets its own retry-until-success goroutine; sem bounds how
	// many run concurrently. A task that keeps failing holds its slot
	// through its own backoff rather than yielding to a different pending
	// part, which is equivalent under the single shared failure counter:
	// the wait is identical no matter which pending part a freed slot picks.
launch:
	for _, t := range tasks {
		select {
		case <-runCtx.Done():
			break launch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go runTask(t)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fatalErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return fatalErr
}

// backoff returns min(MaxRetryDelay, 2^f) seconds (§4.6). f is the shared
// failure counter, not a per-part attempt count: attempt k in an unbroken
// failure streak waits 2^(k-1) seconds because f has been incremented k-1
// times by the point attempt k starts.
func backoff(f int64) time.Duration {
	if f < 0 {
		f = 0
	}
	if f >= 9 { // 2^9s = 512s already exceeds MaxRetryDelay=300s
		return MaxRetryDelay
	}
	wait := (time.Duration(1) << uint(f)) * time.Second
	if wait > MaxRetryDelay {
		return MaxRetryDelay
	}
	return wait
}

func (s *Scheduler) bumpMismatch(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mismatchStreak[index]++
	return s.mismatchStreak[index]
}

func (s *Scheduler) clearMismatch(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mismatchStreak, index)
}
