// Package journal records queue lifecycle events in a sqlite database so a
// run can be inspected or replayed afterwards.
package journal

import (
	"database/sql"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/log"
	"klipper-go-movequeue/pkg/movequeue"
	"klipper-go-movequeue/pkg/pool"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_ns INTEGER NOT NULL,
	note       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run       TEXT NOT NULL REFERENCES runs(id),
	at_ns     INTEGER NOT NULL,
	type      TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	idx       INTEGER NOT NULL,
	head      INTEGER NOT NULL,
	tail      INTEGER NOT NULL,
	occupancy INTEGER NOT NULL,
	tick      INTEGER NOT NULL,
	waited_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_run ON events(run, id);
`

// Record is one stored event.
type Record struct {
	ID        int64
	Run       string
	At        time.Time
	Type      string
	Seq       uint64
	Kind      string
	Index     uint32
	Head      uint32
	Tail      uint32
	Occupancy int
	Tick      uint64
	Waited    time.Duration
}

// Run describes one recorded session.
type Run struct {
	ID      string
	Started time.Time
	Note    string
	Events  int
}

type pending struct {
	ev movequeue.Event
	at time.Time
}

// Journal is a movequeue.Observer backed by sqlite. Observe only queues the
// event; a writer goroutine inserts them in batches.
type Journal struct {
	db  *sql.DB
	run string
	log *log.Logger

	mu      sync.RWMutex // guards closed against sends on ch
	closed  bool
	ch      chan pending
	wg      sync.WaitGroup
	dropped atomic.Uint64

	errMu sync.Mutex
	werr  error // first write error
}

// Open opens or creates the database at cfg.Path and starts a new run.
func Open(cfg Config, note string) (*Journal, error) {
	db, err := openDB(cfg.Path)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	run := started.UTC().Format("20060102T150405.000000000")
	if _, err := db.Exec("INSERT INTO runs(id, started_ns, note) VALUES(?, ?, ?)", run, started.UnixNano(), note); err != nil {
		db.Close()
		return nil, errors.JournalError("start run", err)
	}

	j := &Journal{
		db:  db,
		run: run,
		log: log.GetLogger("journal"),
		ch:  make(chan pending, cfg.Buffer),
	}
	j.wg.Add(1)
	go j.writer()
	return j, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.JournalError("open", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.JournalError("create schema", err)
	}
	return db, nil
}

// Run returns the id of the run being recorded.
func (j *Journal) Run() string { return j.run }

// Dropped counts events discarded because the buffer was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Observe implements movequeue.Observer.
func (j *Journal) Observe(ev movequeue.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- pending{ev: ev, at: time.Now()}:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) writer() {
	defer j.wg.Done()
	batch := make([]pending, 0, 64)
	for p := range j.ch {
		batch = append(batch[:0], p)
	drain:
		for len(batch) < cap(batch) {
			select {
			case more, ok := <-j.ch:
				if !ok {
					break drain
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		if err := j.insert(batch); err != nil {
			j.errMu.Lock()
			if j.werr == nil {
				j.werr = err
			}
			j.errMu.Unlock()
			j.log.WithError(err).Error("journal write failed")
		}
	}
}

func (j *Journal) insert(batch []pending) error {
	tx, err := j.db.Begin()
	if err != nil {
		return errors.JournalError("begin", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO events
		(run, at_ns, type, seq, kind, idx, head, tail, occupancy, tick, waited_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.JournalError("prepare", err)
	}
	defer stmt.Close()
	for _, p := range batch {
		ev := p.ev
		kind := ""
		if ev.Seq != 0 {
			kind = ev.Kind.String()
		}
		if _, err := stmt.Exec(j.run, p.at.UnixNano(), ev.Type.String(), ev.Seq, kind,
			ev.Index, ev.Head, ev.Tail, ev.Occupancy, ev.Tick, int64(ev.Waited)); err != nil {
			tx.Rollback()
			return errors.JournalError("insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.JournalError("commit", err)
	}
	return nil
}

// Close flushes queued events and closes the database. Events observed
// after Close are ignored.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()
	j.wg.Wait()
	if n := j.Dropped(); n > 0 {
		j.log.WithField("dropped", n).Warn("journal buffer overflowed")
	}
	err := j.db.Close()
	j.errMu.Lock()
	defer j.errMu.Unlock()
	if j.werr != nil {
		return j.werr
	}
	return err
}

// Reader queries a journal database without recording.
type Reader struct {
	db *sql.DB
}

// OpenReader opens an existing journal.
func OpenReader(path string) (*Reader, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

// Close closes the database.
func (r *Reader) Close() error { return r.db.Close() }

// Runs lists recorded runs, oldest first.
func (r *Reader) Runs() ([]Run, error) {
	rows, err := r.db.Query(`SELECT r.id, r.started_ns, r.note, COUNT(e.id)
		FROM runs r LEFT JOIN events e ON e.run = r.id
		GROUP BY r.id ORDER BY r.started_ns`)
	if err != nil {
		return nil, errors.JournalError("list runs", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var run Run
		var started int64
		if err := rows.Scan(&run.ID, &started, &run.Note, &run.Events); err != nil {
			return nil, errors.JournalError("list runs", err)
		}
		run.Started = time.Unix(0, started)
		out = append(out, run)
	}
	return out, rows.Err()
}

// Latest returns the id of the newest run, or "" if there is none.
func (r *Reader) Latest() (string, error) {
	var id string
	err := r.db.QueryRow("SELECT id FROM runs ORDER BY started_ns DESC LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.JournalError("latest run", err)
	}
	return id, nil
}

// Records returns the events of run in the order they were observed.
func (r *Reader) Records(run string) ([]Record, error) {
	rows, err := r.db.Query(`SELECT id, run, at_ns, type, seq, kind, idx, head, tail, occupancy, tick, waited_ns
		FROM events WHERE run = ? ORDER BY id`, run)
	if err != nil {
		return nil, errors.JournalError("read events", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var at, waited int64
		if err := rows.Scan(&rec.ID, &rec.Run, &at, &rec.Type, &rec.Seq, &rec.Kind, &rec.Index,
			&rec.Head, &rec.Tail, &rec.Occupancy, &rec.Tick, &waited); err != nil {
			return nil, errors.JournalError("read events", err)
		}
		rec.At = time.Unix(0, at)
		rec.Waited = time.Duration(waited)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Replay writes one line per record with the time offset from the first
// event, e.g. "+0.001234s tick=3 started seq=1 move slot=1 occ=1".
func Replay(w io.Writer, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	t0 := records[0].At
	for _, rec := range records {
		buf.Reset()
		fmt.Fprintf(buf, "+%.6fs tick=%d %s", rec.At.Sub(t0).Seconds(), rec.Tick, rec.Type)
		if rec.Seq != 0 {
			fmt.Fprintf(buf, " seq=%d %s", rec.Seq, rec.Kind)
		}
		fmt.Fprintf(buf, " slot=%d occ=%d", rec.Index, rec.Occupancy)
		if rec.Waited > 0 {
			fmt.Fprintf(buf, " waited=%s", rec.Waited)
		}
		buf.WriteByte('\n')
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
