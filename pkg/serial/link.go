package serial

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"klipper-go-movequeue/pkg/log"
)

var (
	ErrTimeout = errors.New("serial: operation timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Flow control characters.
const (
	XON  byte = 0x11
	XOFF byte = 0x13
)

// Link is the host-facing side of the queue. Writes are status lines, Lines
// yields received command lines, and PauseInput/ResumeInput send XOFF/XON.
type Link struct {
	rw   io.ReadWriter
	flow bool
	log  *log.Logger

	mu     sync.Mutex
	paused bool
	xoffs  int
}

// NewLink wraps rw. With flow set to FlowNone, PauseInput and ResumeInput
// send nothing.
func NewLink(rw io.ReadWriter, flow string) *Link {
	return &Link{
		rw:   rw,
		flow: flow != FlowNone,
		log:  log.GetLogger("serial"),
	}
}

// Write sends notification text.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.Write(p)
}

// PauseInput sends XOFF once per pause.
func (l *Link) PauseInput() {
	l.setPaused(true, XOFF)
}

// ResumeInput sends XON if input is paused.
func (l *Link) ResumeInput() {
	l.setPaused(false, XON)
}

func (l *Link) setPaused(paused bool, ch byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused == paused {
		return
	}
	l.paused = paused
	if paused {
		l.xoffs++
	}
	if !l.flow {
		return
	}
	if _, err := l.rw.Write([]byte{ch}); err != nil {
		l.log.WithError(err).Warn("flow control write failed")
	}
}

// Paused reports whether the last flow control sent was XOFF.
func (l *Link) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Pauses counts XOFF transitions.
func (l *Link) Pauses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.xoffs
}

// Lines reads newline-terminated commands until ctx is done or the reader
// fails. Blank lines are skipped; read timeouts are retried.
func (l *Link) Lines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		defer close(errc)
		sc := bufio.NewScanner(timeoutReader{ctx: ctx, r: l.rw})
		for sc.Scan() {
			line := strings.TrimSpace(strings.TrimRight(sc.Text(), "\r"))
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
			errc <- err
		}
	}()
	return lines, errc
}

// timeoutReader retries port read timeouts so a scanner keeps waiting on an
// idle line, and gives up once ctx is done.
type timeoutReader struct {
	ctx context.Context
	r   io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	for {
		n, err := t.r.Read(p)
		if n > 0 || (err != nil && !errors.Is(err, ErrTimeout)) {
			return n, err
		}
		if err := t.ctx.Err(); err != nil {
			return 0, err
		}
	}
}
