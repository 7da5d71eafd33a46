// Size-based log file rotation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the active log file.
	Filename string

	// MaxSize is the size in bytes at which the file is rotated.
	// Default is 10 MiB.
	MaxSize int64

	// MaxBackups is the number of rotated files kept as Filename.1 ..
	// Filename.N, newest first. Default is 5.
	MaxBackups int

	// Compress gzips rotated files (Filename.N.gz).
	Compress bool
}

func (c RotationConfig) withDefaults() RotationConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = 10 << 20
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	return c
}

// RotatingFileWriter is an io.Writer that rotates its file once it would grow
// past MaxSize.
type RotatingFileWriter struct {
	mu   sync.Mutex
	cfg  RotationConfig
	file *os.File
	size int64
}

// NewRotatingFileWriter opens (or appends to) cfg.Filename.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log rotation: filename is required")
	}
	w := &RotatingFileWriter{cfg: cfg.withDefaults()}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Filename), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer. A single write larger than MaxSize still lands
// in one file.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.cfg.MaxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFileWriter) backupName(i int) string {
	name := fmt.Sprintf("%s.%d", w.cfg.Filename, i)
	if w.cfg.Compress {
		name += ".gz"
	}
	return name
}

// rotate shifts Filename.i to Filename.i+1, dropping the oldest, then moves
// the active file to Filename.1.
func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	os.Remove(w.backupName(w.cfg.MaxBackups))
	for i := w.cfg.MaxBackups - 1; i >= 1; i-- {
		os.Rename(w.backupName(i), w.backupName(i+1))
	}

	first := fmt.Sprintf("%s.1", w.cfg.Filename)
	if err := os.Rename(w.cfg.Filename, first); err != nil {
		w.open()
		return err
	}
	if w.cfg.Compress {
		if err := gzipFile(first); err != nil {
			return err
		}
	}
	return w.open()
}

func gzipFile(name string) error {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(name + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(name + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// Close closes the active file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Size returns the size of the active file.
func (w *RotatingFileWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Filename returns the active log path.
func (w *RotatingFileWriter) Filename() string {
	return w.cfg.Filename
}

// AttachFile tees l's output into a rotating file. Colour is turned off
// since both outputs share one formatted line.
func AttachFile(l *Logger, cfg RotationConfig, console io.Writer) (*RotatingFileWriter, error) {
	fw, err := NewRotatingFileWriter(cfg)
	if err != nil {
		return nil, err
	}
	if console != nil {
		l.SetWriter(io.MultiWriter(console, fw))
	} else {
		l.SetWriter(fw)
	}
	l.SetColorize(false)
	return fw, nil
}
