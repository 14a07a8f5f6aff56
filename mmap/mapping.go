package mmap

import (
	"fmt"
	"io"
	"os"
)

// Mapping is a read-only memory mapping of a whole file.
type Mapping struct {
	data []byte
	f    *os.File
}

// Open maps the file at path read-only. The Writable option is ignored.
// Empty files are not mapped; Bytes returns nil for them.
func Open(path string, opt Options) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{f: f}, nil
	}
	if size > MaxSize {
		f.Close()
		return nil, fmt.Errorf("mmap: %s is %d bytes, larger than the %d bytes supported", path, size, int64(MaxSize))
	}
	data, err := mmap(f, int(size), opt&^Writable)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Mapping{data: data, f: f}, nil
}

// Bytes returns the mapped contents. The slice is valid until Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

func (m *Mapping) Len() int {
	return len(m.data)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the memory and closes the file.
func (m *Mapping) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.data != nil {
		err = munmap(m.data)
		m.data = nil
	}
	if m.f != nil {
		if cerr := m.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}
