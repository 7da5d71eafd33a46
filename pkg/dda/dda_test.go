package dda

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"klipper-go-movequeue/pkg/config"
)

type countIrq struct{ enabled int }

func (i *countIrq) Enable() { i.enabled++ }

func newMover(t *testing.T) (*Mover, *Counter) {
	t.Helper()
	c := &Counter{}
	m, err := New(DefaultConfig(), c)
	require.NoError(t, err)
	return m, c
}

func run(m *Mover, s *Slot, irq *countIrq) int {
	m.Start(s)
	ticks := 0
	for s.Live() {
		m.Step(s, irq)
		ticks++
	}
	return ticks
}

func TestBresenhamDistributesSteps(t *testing.T) {
	for _, steps := range [][MaxAxes]int32{
		{10, 3, 0, 0},
		{7, -7, 2, 1},
		{-100, 33, -1, 99},
		{1, 1, 1, 1},
		{0, 0, 5, 0},
	} {
		m, c := newMover(t)
		var s Slot
		m.Create(&s, Target{Steps: steps, Rate: 1000})
		require.True(t, s.Live())

		irq := &countIrq{}
		ticks := run(m, &s, irq)

		var dominant uint32
		for axis, want := range steps {
			abs := want
			if abs < 0 {
				abs = -abs
			}
			if uint32(abs) > dominant {
				dominant = uint32(abs)
			}
			require.Equal(t, uint64(abs), c.Steps(axis), "axis %d of %v", axis, steps)
			require.Equal(t, int64(want), m.Position()[axis], "position axis %d", axis)
			if abs > 0 {
				require.Equal(t, want > 0, c.Forward(axis))
			}
		}
		require.Equal(t, int(dominant), ticks)
		require.Equal(t, ticks, irq.enabled, "interrupts re-enabled once per tick")
	}
}

func TestStepsAreSpreadEvenly(t *testing.T) {
	m, c := newMover(t)
	var s Slot
	m.Create(&s, Target{Steps: [MaxAxes]int32{10, 5}})
	m.Start(&s)

	var pattern []uint64
	for s.Live() {
		before := c.Steps(1)
		m.Step(&s, &countIrq{})
		pattern = append(pattern, c.Steps(1)-before)
	}
	require.Equal(t, []uint64{1, 0, 1, 0, 1, 0, 1, 0, 1, 0}, pattern)
}

func TestZeroLengthRetiresAtStart(t *testing.T) {
	m, c := newMover(t)
	var s Slot
	m.Create(&s, Target{})
	require.True(t, s.Live())
	m.Start(&s)
	require.False(t, s.Live())
	require.Zero(t, c.Steps(0))
}

func TestInterval(t *testing.T) {
	m, _ := newMover(t)
	var s Slot

	m.Create(&s, Target{Steps: [MaxAxes]int32{1}, Rate: 16000})
	require.Equal(t, uint32(1000), s.Interval)

	m.Create(&s, Target{Steps: [MaxAxes]int32{1}})
	require.Equal(t, uint32(16000), s.Interval, "default rate")

	m.Create(&s, Target{Steps: [MaxAxes]int32{1}, Rate: 1e9})
	require.Equal(t, uint32(200), s.Interval, "clamped to min_interval")
}

func TestAccelerationClampsToMinInterval(t *testing.T) {
	m, _ := newMover(t)
	var s Slot
	m.Create(&s, Target{Steps: [MaxAxes]int32{4}, Rate: 16000, Add: -400})
	m.Start(&s)

	var seen []uint32
	for s.Live() {
		m.Step(&s, &countIrq{})
		seen = append(seen, s.Interval)
	}
	require.Equal(t, []uint32{600, 200, 200, 200}, seen)
}

func TestUnconfiguredAxesIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AxisNames = []string{"x"}
	c := &Counter{}
	m, err := New(cfg, c)
	require.NoError(t, err)

	var s Slot
	m.Create(&s, Target{Steps: [MaxAxes]int32{2, 50}})
	require.Equal(t, uint32(2), s.Move.Total())
	run(m, &s, &countIrq{})
	require.Zero(t, c.Steps(1))
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTrace(&buf, []string{"x", "y"})
	m, err := New(Config{AxisNames: []string{"x", "y"}, ClockHz: 1000, MinInterval: 1, DefaultRate: 10}, tr)
	require.NoError(t, err)

	var s Slot
	m.Create(&s, Target{Steps: [MaxAxes]int32{3, -1}})
	run(m, &s, &countIrq{})
	tr.Flush()
	require.Equal(t, "x dir +\ny dir -\nx step 3\ny step 1\n", buf.String())
}

func TestLoadConfig(t *testing.T) {
	cfg, err := config.LoadString("[stepper]\naxes: a, b\nmin_interval: 50\ndefault_rate: 250\n")
	require.NoError(t, err)
	sc, err := LoadConfig(cfg, 1000000)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, sc.AxisNames)
	require.Equal(t, uint32(50), sc.MinInterval)
	require.Equal(t, 250.0, sc.DefaultRate)
	require.Equal(t, uint32(1000000), sc.ClockHz)
	idx, ok := sc.AxisIndex("b")
	require.True(t, ok)
	require.Equal(t, 1, idx)

	cfg, err = config.LoadString("[stepper]\naxes: a, b, c, d, e\n")
	require.NoError(t, err)
	_, err = LoadConfig(cfg, 1000000)
	require.Error(t, err)

	sc, err = LoadConfig(config.New(), 16000000)
	require.NoError(t, err)
	require.Equal(t, 4, sc.Axes())

	cfg, err = config.LoadString("[stepper]\nmin_interval: 4294967296\n")
	require.NoError(t, err)
	_, err = LoadConfig(cfg, 16000000)
	require.Error(t, err)
}
