package main

import (
	"context"
	"errors"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryansname/agate2mqtt/src/sunspec"
	"github.com/ryansname/agate2mqtt/src/timing"
)

// scriptedPoller runs a fixed number of cycles, recording every sleep
type scriptedPoller struct {
	*Poller
	reads     int
	published [][]Pair
	waits     []time.Duration
}

func newScriptedPoller(cycles int) (*scriptedPoller, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	sp := &scriptedPoller{}
	sp.Poller = &Poller{
		sleep:      30 * time.Second,
		errorSleep: 60 * time.Second,
		durations:  timing.NewRollingMinMax(),
		read: func(ctx context.Context) (Registry, error) {
			sp.reads++
			return Registry{701: sunspec.Fields{"ID": int64(701), "W": int64(sp.reads * 100)}}, nil
		},
		publish: func(ctx context.Context, pairs iter.Seq[Pair]) error {
			sp.published = append(sp.published, slices.Collect(pairs))
			return nil
		},
		wait: func(ctx context.Context, d time.Duration) bool {
			sp.waits = append(sp.waits, d)
			if len(sp.waits) >= cycles {
				cancel()
				return false
			}
			return true
		},
	}
	return sp, ctx
}

func TestPollWorker_SuccessSleepsNormalInterval(t *testing.T) {
	sp, ctx := newScriptedPoller(2)

	pollWorker(ctx, sp.Poller)

	assert.Equal(t, 2, sp.reads)
	assert.Len(t, sp.published, 2)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sp.waits)
}

func TestPollWorker_DeviceErrorSleepsErrorIntervalThenRetries(t *testing.T) {
	sp, ctx := newScriptedPoller(2)
	read := sp.read
	sp.read = func(ctx context.Context) (Registry, error) {
		if sp.reads == 0 {
			sp.reads++
			return nil, &DeviceError{Op: "connect", Err: errors.New("connection refused")}
		}
		return read(ctx)
	}

	pollWorker(ctx, sp.Poller)

	assert.Equal(t, 2, sp.reads)
	require.Len(t, sp.published, 1)
	assert.Equal(t, []time.Duration{60 * time.Second, 30 * time.Second}, sp.waits)
}

func TestPollWorker_PublishErrorSleepsErrorInterval(t *testing.T) {
	sp, ctx := newScriptedPoller(3)
	sp.publish = func(ctx context.Context, pairs iter.Seq[Pair]) error {
		return &PublishError{Op: "connect", Err: errors.New("broker down")}
	}

	pollWorker(ctx, sp.Poller)

	assert.Equal(t, 3, sp.reads)
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second, 60 * time.Second}, sp.waits)
}

func TestPollWorker_RegistryRebuiltEachCycle(t *testing.T) {
	sp, ctx := newScriptedPoller(2)

	pollWorker(ctx, sp.Poller)

	require.Len(t, sp.published, 2)
	assert.Equal(t, []Pair{{Topic: "FranklinWH/AGate/DERMeasureAC/W", Value: int64(100)}}, sp.published[0])
	assert.Equal(t, []Pair{{Topic: "FranklinWH/AGate/DERMeasureAC/W", Value: int64(200)}}, sp.published[1])
}

func TestPollWorker_StopsWhenCancelled(t *testing.T) {
	sp, _ := newScriptedPoller(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pollWorker(ctx, sp.Poller)

	assert.Equal(t, 0, sp.reads)
	assert.Empty(t, sp.waits)
}

func TestPollWorker_ErrorAfterCancelDoesNotSleep(t *testing.T) {
	sp, _ := newScriptedPoller(10)
	ctx, cancel := context.WithCancel(context.Background())
	sp.publish = func(ctx context.Context, pairs iter.Seq[Pair]) error {
		cancel()
		return &PublishError{Op: "ack wait", Err: ctx.Err()}
	}

	pollWorker(ctx, sp.Poller)

	assert.Equal(t, 1, sp.reads)
	assert.Empty(t, sp.waits)
}

func TestRunCycle_SendsSnapshot(t *testing.T) {
	sp, ctx := newScriptedPoller(1)
	snapshots := make(chan Snapshot, 1)
	sp.snapshots = snapshots

	require.NoError(t, sp.runCycle(ctx))

	snap := <-snapshots
	assert.Equal(t, []uint16{701}, snap.Models)
	assert.Equal(t, map[string]string{"FranklinWH/AGate/DERMeasureAC/W": "100"}, snap.Values)
}

func TestRunCycle_SnapshotDroppedWhenConsoleBusy(t *testing.T) {
	sp, ctx := newScriptedPoller(1)
	snapshots := make(chan Snapshot) // unbuffered, nobody reading
	sp.snapshots = snapshots

	assert.NoError(t, sp.runCycle(ctx))
}

func TestRunCycle_ReadErrorSkipsPublish(t *testing.T) {
	sp, ctx := newScriptedPoller(1)
	sp.read = func(ctx context.Context) (Registry, error) {
		return nil, &DeviceError{Op: "scan", Err: sunspec.ErrNotSunSpec}
	}

	err := sp.runCycle(ctx)

	assert.ErrorIs(t, err, sunspec.ErrNotSunSpec)
	assert.Equal(t, "DeviceError", errorKind(err))
	assert.Empty(t, sp.published)
}

func TestSleepContext(t *testing.T) {
	assert.True(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepContext(ctx, time.Hour))
}

func TestPollWorker_PanicInCycleSleepsErrorInterval(t *testing.T) {
	sp, ctx := newScriptedPoller(2)
	read := sp.read
	sp.read = func(ctx context.Context) (Registry, error) {
		if sp.reads == 0 {
			sp.reads++
			var fields sunspec.Fields
			fields["W"] = int64(1) // nil map write
		}
		return read(ctx)
	}

	pollWorker(ctx, sp.Poller)

	assert.Equal(t, 2, sp.reads)
	require.Len(t, sp.published, 1)
	assert.Equal(t, []time.Duration{60 * time.Second, 30 * time.Second}, sp.waits)
}

func TestRunCycle_PublishPanicReturnsError(t *testing.T) {
	sp, ctx := newScriptedPoller(1)
	sp.publish = func(ctx context.Context, pairs iter.Seq[Pair]) error {
		panic("broker client blew up")
	}

	err := sp.runCycle(ctx)

	assert.ErrorContains(t, err, "cycle panic: broker client blew up")
}

func TestPollWorker_AlwaysPanickingCycleKeepsRunningUnderSupervisor(t *testing.T) {
	sp, ctx := newScriptedPoller(15)
	sp.read = func(ctx context.Context) (Registry, error) {
		sp.reads++
		panic("decode failure")
	}

	superviseWorker(ctx, func() {}, "poll-worker", time.Microsecond, func(ctx context.Context) {
		pollWorker(ctx, sp.Poller)
	})

	// Every panic was handled inside the loop; the supervisor never restarted it
	assert.Equal(t, 15, sp.reads)
	require.Len(t, sp.waits, 15)
	for _, d := range sp.waits {
		assert.Equal(t, 60*time.Second, d)
	}
}
