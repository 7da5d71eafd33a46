package steptimer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"klipper-go-movequeue/pkg/errors"
)

func TestManualPeriodic(t *testing.T) {
	m := NewManual()
	count := 0
	m.SetHandler(func() { count++ })

	require.False(t, m.Fire(), "idle timer must not fire")

	m.SetPeriod(100)
	require.Equal(t, 1, m.Arms())
	require.Equal(t, 3, m.Advance(350))
	require.Equal(t, 3, count)
	require.Equal(t, uint64(350), m.Now())
	require.Equal(t, uint64(400), m.Next())
}

func TestManualReprogramFromHandler(t *testing.T) {
	m := NewManual()
	var at []uint64
	m.SetHandler(func() {
		at = append(at, m.Now())
		switch len(at) {
		case 1:
			m.SetPeriod(50)
		case 3:
			m.Disarm()
		}
	})
	m.SetPeriod(10)

	n, err := m.RunUntilIdle(10)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []uint64{10, 60, 110}, at)
	require.Equal(t, 1, m.Arms())
	require.Equal(t, 1, m.Disarms())
}

func TestManualRunUntilIdleLimit(t *testing.T) {
	m := NewManual()
	m.SetPeriod(1)
	n, err := m.RunUntilIdle(5)
	require.Equal(t, 5, n)
	require.True(t, errors.Is(err, errors.ErrTimer))
}
