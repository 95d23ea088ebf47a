package mmap

import "os"

// Fdatasync flushes the data written to f to stable storage, skipping
// metadata such as modification times where the OS allows it.
//
// If mapping is not nil, it must be a mapping of f, which some systems sync
// through msync instead.
//
// An error means the file's contents on disk are unknown. Treat it as fatal
// for the file, don't retry.
func Fdatasync(f *os.File, mapping []byte) error {
	return fdatasync(f, mapping)
}
