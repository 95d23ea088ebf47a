// Package mmap maps files into memory read-only and flushes written files to
// disk.
package mmap

import (
	"errors"
	"os"
)

type Options uint

const (
	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << iota

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Incompatible with SequentialAccess. Maps to MADV_RANDOM on Unix.
	RandomAccess

	// Prefault asks for the whole mapping to be read in up front. Maps to
	// MAP_POPULATE on Linux and is ignored elsewhere.
	Prefault
)

var ErrTooLarge = errors.New("mmap: mapping too large")

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Mmap maps the first size bytes of f read-only. The mapping stays valid
// after f is closed, until Munmap.
func Mmap(f *os.File, offset, size int, opt Options) ([]byte, error) {
	if offset != 0 {
		panic("non-zero offset not yet supported")
	}
	if size <= 0 {
		return nil, errors.New("mmap: empty mapping")
	}
	if int64(size) > MaxSize {
		return nil, ErrTooLarge
	}
	return mmap(f, size, opt)
}

// Munmap unmaps the given slice from memory. The slice must have been returned
// by Mmap.
func Munmap(b []byte) error {
	return munmap(b)
}
