package supervise

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

var fastOpts = Options{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func TestRun_RestartsAfterErrorAndPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	fn := func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("worse")
		case 3:
			return nil // Early exit also restarts
		default:
			<-ctx.Done()
			return nil
		}
	}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, "test", fn, fastOpts, testLogger()) }()

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	assert.Equal(t, int32(4), calls.Load())
}

func TestRun_StopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	fn := func(context.Context) error {
		calls.Add(1)
		cancel()
		return errors.New("fail then stop")
	}
	opts := Options{InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, "test", fn, opts, testLogger()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunSafe(t *testing.T) {
	err := runSafe(context.Background(), func(context.Context) error { panic("x") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: x")
}
