package mailstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
)

// MinioBlobStore keeps each blob in an object named prefix/hex(key) on MinIO
// or any S3-compatible service.
type MinioBlobStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioBlobStore(client *minio.Client, bucket, prefix string) *MinioBlobStore {
	return &MinioBlobStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioBlobStore) objectKey(key []byte) string {
	return path.Join(s.prefix, fmt.Sprintf("%x", key))
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioBlobStore) stat(ctx context.Context, key []byte) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return -1, nil
		}
		return 0, err
	}
	return info.Size, nil
}

func (s *MinioBlobStore) GetBlob(ctx context.Context, key []byte, r BlobRange) ([]byte, bool, error) {
	size, err := s.stat(ctx, key)
	if err != nil {
		return nil, false, internalErrf("get_blob", key, err, "")
	} else if size < 0 {
		return nil, false, nil
	}
	start, end := r.clip(size)
	if start == end {
		return []byte{}, true, nil
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end-1); err != nil {
		return nil, false, internalErrf("get_blob", key, err, "")
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), opts)
	if err != nil {
		return nil, false, internalErrf("get_blob", key, err, "")
	}
	defer obj.Close()

	out := make([]byte, end-start)
	if _, err := io.ReadFull(obj, out); err != nil {
		if isMinioNotFound(err) {
			return nil, false, nil
		}
		return nil, false, internalErrf("get_blob", key, err, "reading range %d-%d", start, end)
	}
	countBlobBytes(BlobStoreMinio, "read", len(out))
	return out, true, nil
}

func (s *MinioBlobStore) PutBlob(ctx context.Context, key []byte, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return internalErrf("put_blob", key, err, "")
	}
	countBlobBytes(BlobStoreMinio, "write", len(data))
	return nil
}

func (s *MinioBlobStore) DeleteBlob(ctx context.Context, key []byte) (bool, error) {
	size, err := s.stat(ctx, key)
	if err != nil {
		return false, internalErrf("delete_blob", key, err, "")
	} else if size < 0 {
		return false, nil
	}
	err = s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return false, internalErrf("delete_blob", key, err, "")
	}
	return true, nil
}
