// Object pools for the command and replay hot paths
//
// Serial input parses one line command per move, and replay formats one line
// per journal record. Both reuse their scratch storage through these pools:
//
//	steps := pool.GetStepsMap()
//	defer pool.PutStepsMap(steps)
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"sync"
)

// StepsMap pool - for per-axis step arguments
var stepsMapPool = sync.Pool{
	New: func() any {
		return make(map[string]int64, 4)
	},
}

// GetStepsMap gets an empty axis-to-steps map from the pool
func GetStepsMap() map[string]int64 {
	return stepsMapPool.Get().(map[string]int64)
}

// PutStepsMap returns a map to the pool after clearing it
func PutStepsMap(m map[string]int64) {
	if m == nil {
		return
	}
	clear(m)
	stepsMapPool.Put(m)
}

// StringSlice pool - for strings.Fields style splitting
var stringSlicePool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 8)
		return &s
	},
}

// GetStringSlice gets an empty string slice from the pool
func GetStringSlice() *[]string {
	s := stringSlicePool.Get().(*[]string)
	*s = (*s)[:0]
	return s
}

// PutStringSlice returns a string slice to the pool
func PutStringSlice(s *[]string) {
	if s == nil || cap(*s) > 256 {
		return
	}
	// Clear to allow GC of string contents
	clear(*s)
	*s = (*s)[:0]
	stringSlicePool.Put(s)
}

// ByteBuffer is an append-only scratch buffer
type ByteBuffer struct {
	buf []byte
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{buf: make([]byte, 0, 128)}
	},
}

// GetByteBuffer gets an empty byte buffer from the pool
func GetByteBuffer() *ByteBuffer {
	b := byteBufferPool.Get().(*ByteBuffer)
	b.buf = b.buf[:0]
	return b
}

// PutByteBuffer returns a byte buffer to the pool
func PutByteBuffer(b *ByteBuffer) {
	if b == nil {
		return
	}
	// Don't pool oversized buffers (> 4KB)
	if cap(b.buf) > 4096 {
		return
	}
	byteBufferPool.Put(b)
}

// Bytes returns the buffer's byte slice
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// Write appends bytes to the buffer
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte
func (b *ByteBuffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// WriteString appends a string
func (b *ByteBuffer) WriteString(s string) (int, error) {
	b.buf = append(b.buf, s...)
	return len(s), nil
}

// Len returns the buffer length
func (b *ByteBuffer) Len() int {
	return len(b.buf)
}

// Reset clears the buffer
func (b *ByteBuffer) Reset() {
	b.buf = b.buf[:0]
}
