package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenBSD has no unified buffer cache, so mapped pages are flushed on their
// own.
func fdatasync(f *os.File, mapping []byte) error {
	if mapping == nil {
		return f.Sync()
	}
	return unix.Msync(mapping, unix.MS_INVALIDATE)
}
