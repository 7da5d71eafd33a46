package steptimer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"klipper-go-movequeue/pkg/reactor"
)

func TestReactorTimerFiresAndDisarms(t *testing.T) {
	r := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Run(ctx)

	tm := New(r, 1000, 1)
	defer tm.Close()

	var fired atomic.Int32
	tm.SetHandler(func() {
		if fired.Add(1) == 3 {
			tm.Disarm()
		}
	})
	require.False(t, tm.Armed())
	tm.SetPeriod(2)
	require.True(t, tm.Armed())

	require.Eventually(t, func() bool { return !tm.Armed() }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(3), fired.Load())
}

func TestReactorTimerRearm(t *testing.T) {
	r := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Run(ctx)

	tm := New(r, 1000, 1)
	var fired atomic.Int32
	tm.SetHandler(func() {
		fired.Add(1)
		tm.Disarm()
	})

	for i := 1; i <= 3; i++ {
		tm.SetPeriod(1)
		want := int32(i)
		require.Eventually(t, func() bool { return fired.Load() == want && !tm.Armed() }, 2*time.Second, time.Millisecond)
	}
}
