package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterRunsOnce(t *testing.T) {
	eng := NewEngine()
	var ranAt []uint64
	eng.After(3, func() { ranAt = append(ranAt, eng.CurrentTick()) })

	for range 6 {
		eng.Step()
	}
	assert.Equal(t, []uint64{3}, ranAt)
	assert.Zero(t, eng.Pending())
}

func TestEveryRepeatsUntilCancelled(t *testing.T) {
	eng := NewEngine()
	var ranAt []uint64
	var cancel func()
	cancel = eng.Every(2, func() {
		ranAt = append(ranAt, eng.CurrentTick())
		if len(ranAt) == 3 {
			cancel()
		}
	})

	for range 10 {
		eng.Step()
	}
	assert.Equal(t, []uint64{2, 4, 6}, ranAt)
}

func TestTasksScheduledFromTasks(t *testing.T) {
	eng := NewEngine()
	var order []string
	eng.After(1, func() {
		order = append(order, "first")
		eng.After(1, func() { order = append(order, "second") })
	})

	eng.Step()
	assert.Equal(t, []string{"first"}, order)
	eng.Step()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestOnTickSeesEveryTick(t *testing.T) {
	eng := NewEngine()
	var seen []uint64
	eng.OnTick = func(tick uint64) { seen = append(seen, tick) }
	for range 3 {
		eng.Step()
	}
	assert.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestCallWaitsForMainContext(t *testing.T) {
	eng := NewEngine()
	t.Cleanup(eng.Stop)

	counter := 0
	errc := make(chan error, 1)
	go func() {
		errc <- eng.Call(context.Background(), func() { counter++ })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		eng.Drain()
		select {
		case err := <-errc:
			require.NoError(t, err)
			assert.Equal(t, 1, counter)
			return
		default:
		}
		require.True(t, time.Now().Before(deadline), "call never completed")
		time.Sleep(time.Millisecond)
	}
}

func TestCallAfterStop(t *testing.T) {
	eng := NewEngine()
	eng.Stop()

	err := eng.Call(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrStopped)

	// Post after stop is dropped rather than blocking forever.
	for range 2000 {
		eng.Post(func() {})
	}
}

func TestCallHonoursContext(t *testing.T) {
	eng := NewEngine()
	t.Cleanup(eng.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Either select arm may win when the queue has room; a cancelled ctx
	// must never hang.
	err := eng.Call(ctx, func() {})
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestCallThatGivesUpNeverRuns(t *testing.T) {
	eng := NewEngine()
	t.Cleanup(eng.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ran := false
	// Nothing drains the queue, so the task is still waiting when ctx ends.
	err := eng.Call(ctx, func() { ran = true })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	eng.Drain()
	assert.False(t, ran)
}

func TestCallCompletesOnceStarted(t *testing.T) {
	eng := NewEngine()
	t.Cleanup(eng.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	errc := make(chan error, 1)
	counter := 0
	go func() {
		errc <- eng.Call(ctx, func() {
			close(started)
			time.Sleep(20 * time.Millisecond)
			counter++
		})
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				eng.Drain()
				time.Sleep(time.Millisecond)
			}
		}
	}()
	<-started
	cancel()

	require.NoError(t, <-errc)
	assert.Equal(t, 1, counter)
}

func TestPanickingTaskDoesNotStopLoop(t *testing.T) {
	eng := NewEngine()
	ran := false
	eng.After(1, func() { panic("boom") })
	eng.After(1, func() { ran = true })

	assert.NotPanics(t, eng.Step)
	assert.True(t, ran)
}

func TestRunStopsOnContext(t *testing.T) {
	eng := NewEngine()
	eng.Interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return eng.CurrentTick() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.ErrorIs(t, eng.Call(context.Background(), func() {}), ErrStopped)
}

func TestUptime(t *testing.T) {
	assert.Equal(t, "0s", Uptime(0))
	assert.Equal(t, "1m0s", Uptime(20*60))
}
