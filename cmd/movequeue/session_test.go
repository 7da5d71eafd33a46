package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/journal"
	"klipper-go-movequeue/pkg/log"
	"klipper-go-movequeue/pkg/safety"
)

const testConfig = `
[movequeue]
capacity: 4
wait_timeout: 120

[stepper]
axes: x, y

[heater extruder]
max_temp: 250
hysteresis: 3
residency: 1s
pid_kp: 0.2
pid_ki: 0.01
pid_kd: 0.1
`

const testJob = `
name: smoke
rate: 2000
steps:
  - heat: {extruder: 80}
  - wait: true
  - move: {x: 400, y: -200}
  - move: {x: -100}
  - move: {y: 50}
  - move: {x: 10}
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func quietLogs(t *testing.T) {
	log.Default().SetWriter(io.Discard)
	t.Cleanup(func() { log.Default().SetWriter(os.Stderr) })
}

func TestVirtualRun(t *testing.T) {
	quietLogs(t)
	dir := writeFiles(t, map[string]string{"printer.cfg": testConfig, "job.yaml": testJob})
	dbPath := filepath.Join(dir, "events.db")

	var out bytes.Buffer
	s, err := newSession(runOptions{
		configPath: filepath.Join(dir, "printer.cfg"),
		jobPath:    filepath.Join(dir, "job.yaml"),
		virtual:    true,
		journal:    dbPath,
		out:        &out,
	})
	require.NoError(t, err)
	require.NoError(t, s.run(context.Background()))

	require.Equal(t, uint64(510), s.counter.Steps(0))
	require.Equal(t, uint64(250), s.counter.Steps(1))
	pos := s.mover.Position()
	require.Equal(t, int64(310), pos[0])
	require.Equal(t, int64(-150), pos[1])
	require.True(t, s.queue.IsEmpty())
	require.False(t, s.manual.Armed())
	require.Contains(t, out.String(), "condition achieved\n")

	s.summary(&out)
	require.Contains(t, out.String(), "position x=310 y=-150")
	s.close()

	r, err := journal.OpenReader(dbPath)
	require.NoError(t, err)
	defer r.Close()
	run, err := r.Latest()
	require.NoError(t, err)
	records, err := r.Records(run)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, rec := range records {
		counts[rec.Type]++
	}
	require.Equal(t, 5, counts["enqueued"])
	require.Equal(t, 4, counts["completed"])
	require.Equal(t, 1, counts["condition_met"])
	require.Zero(t, counts["condition_timeout"])
	require.Equal(t, counts["armed"], counts["disarmed"])
}

func TestVirtualRunHeatingFault(t *testing.T) {
	quietLogs(t)
	dir := writeFiles(t, map[string]string{
		"printer.cfg": `
[movequeue]
capacity: 4
wait_timeout: 120

[stepper]
axes: x

[heater extruder]
max_power: 0.01

[verify_heater extruder]
check_gain_time: 20
`,
		"job.txt": "heat extruder=200\nwait\nmove x=10 rate=1000\n",
	})
	var out bytes.Buffer
	s, err := newSession(runOptions{
		configPath: filepath.Join(dir, "printer.cfg"),
		jobPath:    filepath.Join(dir, "job.txt"),
		virtual:    true,
		out:        &out,
	})
	require.NoError(t, err)
	defer s.close()

	err = s.run(context.Background())
	require.ErrorIs(t, err, safety.ErrShutdown)
	require.Equal(t, string(safety.ReasonHeatingFailed), s.safety.Status().Reason)
	require.Zero(t, s.counter.Steps(0))
	for _, st := range s.heaters.Status() {
		require.Zero(t, st.Target)
	}
	require.NotContains(t, out.String(), "condition timed out")
}

func TestVirtualRunTrace(t *testing.T) {
	quietLogs(t)
	dir := writeFiles(t, map[string]string{
		"printer.cfg": "[stepper]\naxes: x\n",
		"job.txt":     "move x=3 rate=1000\nmove x=-1\n",
	})
	var out bytes.Buffer
	s, err := newSession(runOptions{
		configPath: filepath.Join(dir, "printer.cfg"),
		jobPath:    filepath.Join(dir, "job.txt"),
		virtual:    true,
		trace:      true,
		out:        &out,
	})
	require.NoError(t, err)
	defer s.close()
	require.NoError(t, s.run(context.Background()))
	require.Equal(t, uint64(4), s.counter.Steps(0))
	require.Contains(t, out.String(), "x dir +")
	require.Contains(t, out.String(), "x dir -")
}

func TestSessionNeedsInput(t *testing.T) {
	quietLogs(t)
	dir := writeFiles(t, map[string]string{"printer.cfg": testConfig})
	_, err := newSession(runOptions{configPath: filepath.Join(dir, "printer.cfg"), virtual: true})
	require.True(t, errors.Is(err, errors.ErrJob), "%v", err)
}

func TestSessionRejectsUnknownHeater(t *testing.T) {
	quietLogs(t)
	dir := writeFiles(t, map[string]string{
		"printer.cfg": testConfig,
		"job.yaml":    "steps:\n  - heat: {bed: 60}\n",
	})
	_, err := newSession(runOptions{
		configPath: filepath.Join(dir, "printer.cfg"),
		jobPath:    filepath.Join(dir, "job.yaml"),
		virtual:    true,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `"bed"`)
}

func TestSessionSerialNeedsSection(t *testing.T) {
	quietLogs(t)
	dir := writeFiles(t, map[string]string{"printer.cfg": testConfig})
	_, err := newSession(runOptions{configPath: filepath.Join(dir, "printer.cfg"), serial: true})
	require.True(t, errors.Is(err, errors.ErrConfigSection), "%v", err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunAndReplayCommands(t *testing.T) {
	quietLogs(t)
	dir := writeFiles(t, map[string]string{"printer.cfg": testConfig, "job.yaml": testJob})
	dbPath := filepath.Join(dir, "events.db")

	out, err := execute(t, "run", filepath.Join(dir, "printer.cfg"),
		"--job", filepath.Join(dir, "job.yaml"), "--virtual", "--journal", dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "Q")

	out, err = execute(t, "replay", dbPath, "--list")
	require.NoError(t, err)
	require.Contains(t, out, "smoke")

	out, err = execute(t, "replay", dbPath)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "run "))
	require.Contains(t, out, "condition_met")
	require.Contains(t, out, "started seq=3 move")
}

func TestReplayEmptyJournal(t *testing.T) {
	quietLogs(t)
	_, err := execute(t, "replay", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	quietLogs(t)
	dir := writeFiles(t, map[string]string{
		"printer.cfg": testConfig + "\n[heater bed]\nmax_temp: 100\nbogus: 1\n",
		"job.yaml":    testJob,
	})
	out, err := execute(t, "validate", filepath.Join(dir, "printer.cfg"), filepath.Join(dir, "job.yaml"))
	require.NoError(t, err)
	require.Contains(t, out, "warning: unused option 'bogus' in section [heater bed]")
	require.Contains(t, out, "config ok: capacity 4, wait budget 120000 ticks, axes x,y, heaters bed,extruder")
	require.Contains(t, out, "job smoke: 4 moves, 1 waits, 1 heats")
	require.Contains(t, out, "  x: 510 steps")

	_, err = execute(t, "validate", filepath.Join(dir, "missing.cfg"))
	require.Error(t, err)
}
