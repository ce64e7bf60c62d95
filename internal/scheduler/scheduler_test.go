package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wilsonzlin/ltsu/internal/log"
)

type fakeClock struct {
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return time.Time{} }
func (f *fakeClock) Sleep(d time.Duration) {
	f.sleeps = append(f.sleeps, d)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, MaxRetryDelay, backoff(9))
	assert.Equal(t, MaxRetryDelay, backoff(100))
}

func TestScheduler_AllSucceedEventually(t *testing.T) {
	clock := &fakeClock{}
	s := New(log.Nop{}, 2, nil).WithClock(clock)

	var attempts [3]int32
	tasks := make([]Task, 3)
	for i := range tasks {
		i := i
		tasks[i] = Task{PartIndex: i, Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&attempts[i], 1)
			if n < 2 {
				return assert.AnError
			}
			return nil
		}}
	}

	err := s.Run(context.Background(), tasks)
	require.NoError(t, err)
	for i, n := range attempts {
		assert.Equal(t, int32(2), n, "part %d", i)
	}
}

type alwaysMismatch struct{}

func (alwaysMismatch) IsChecksumMismatch(err error) bool { return true }

func TestScheduler_EscalatesPersistentMismatch(t *testing.T) {
	clock := &fakeClock{}
	s := New(log.Nop{}, 1, alwaysMismatch{}).WithClock(clock)

	tasks := []Task{{PartIndex: 0, Run: func(ctx context.Context) error {
		return assert.AnError
	}}}

	err := s.Run(context.Background(), tasks)
	require.Error(t, err)
	var pc *ErrPersistentCorruption
	require.ErrorAs(t, err, &pc)
	assert.Equal(t, 0, pc.PartIndex)
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "permanent failure" }
func (permanentErr) Temporary() bool { return false }

func TestScheduler_AbortsOnNonTemporaryError(t *testing.T) {
	clock := &fakeClock{}
	s := New(log.Nop{}, 2, nil).WithClock(clock)

	var attempts int32
	tasks := []Task{
		{PartIndex: 0, Run: func(ctx context.Context) error {
			atomic.AddInt32(&attempts, 1)
			return permanentErr{}
		}},
	}

	err := s.Run(context.Background(), tasks)
	require.Error(t, err)
	assert.Equal(t, permanentErr{}, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "should not retry a non-temporary error")
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	clock := &fakeClock{}
	s := New(log.Nop{}, 2, nil).WithClock(clock)

	var inFlight, maxInFlight int32
	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{PartIndex: i, Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		}}
	}

	require.NoError(t, s.Run(context.Background(), tasks))
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}
