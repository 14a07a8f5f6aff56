package mailstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andreyvit/mailstore/mmap"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// FSBlobStore keeps each blob in its own file, named after the hex-encoded
// key under a two-level fan-out (root/xx/yy/key). Writes go to a temporary
// file that is synced and renamed into place, so readers see either the old
// or the new body. Reads map the file into memory and copy out the range.
type FSBlobStore struct {
	root string
}

func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, err
	}
	return &FSBlobStore{root: root}, nil
}

func (s *FSBlobStore) path(key []byte) string {
	h := xxhash.Sum64(key)
	return filepath.Join(s.root, fmt.Sprintf("%02x", byte(h>>56)), fmt.Sprintf("%02x", byte(h>>48)), hex.EncodeToString(key))
}

func (s *FSBlobStore) GetBlob(ctx context.Context, key []byte, r BlobRange) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m, err := mmap.Open(s.path(key), mmap.RandomAccess)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, internalErrf("get_blob", key, err, "")
	}
	defer m.Close()

	data := m.Bytes()
	start, end := r.clip(int64(len(data)))
	out := make([]byte, end-start)
	copy(out, data[start:end])
	countBlobBytes(BlobStoreFS, "read", len(out))
	return out, true, nil
}

func (s *FSBlobStore) PutBlob(ctx context.Context, key []byte, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return internalErrf("put_blob", key, err, "")
	}
	tmp := filepath.Join(s.root, "tmp", uuid.NewString())
	if err := writeSynced(tmp, data); err != nil {
		os.Remove(tmp)
		return internalErrf("put_blob", key, err, "")
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return internalErrf("put_blob", key, err, "")
	}
	countBlobBytes(BlobStoreFS, "write", len(data))
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := mmap.Fdatasync(f, nil); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *FSBlobStore) DeleteBlob(ctx context.Context, key []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, internalErrf("delete_blob", key, err, "")
	}
	return true, nil
}
