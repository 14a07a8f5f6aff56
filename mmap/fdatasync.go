package mmap

import "os"

// Fdatasync flushes the data written to f, or to mapping when the platform
// syncs mappings separately, skipping metadata where the OS allows it.
//
// A failed sync leaves the file in an unknown state: the kernel may already
// have dropped the dirty pages. Callers should treat the error as fatal for
// the file rather than retry.
func Fdatasync(f *os.File, mapping []byte) error {
	return fdatasync(f, mapping)
}
