package mailstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is the subset of the S3 API the blob store uses. Uploads go
// through manager.Uploader, hence the multipart methods.
type S3Client interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3BlobStore keeps each blob in an object named prefix/hex(key).
type S3BlobStore struct {
	client   S3Client
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

func NewS3BlobStore(client S3Client, bucket, prefix string) *S3BlobStore {
	return &S3BlobStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 8 * 1024 * 1024
			u.Concurrency = 5
		}),
	}
}

func (s *S3BlobStore) objectKey(key []byte) string {
	return path.Join(s.prefix, fmt.Sprintf("%x", key))
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// head returns the object size, or -1 if the object does not exist.
func (s *S3BlobStore) head(ctx context.Context, key []byte) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isS3NotFound(err) {
		return -1, nil
	} else if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3BlobStore) GetBlob(ctx context.Context, key []byte, r BlobRange) ([]byte, bool, error) {
	size, err := s.head(ctx, key)
	if err != nil {
		return nil, false, internalErrf("get_blob", key, err, "")
	} else if size < 0 {
		return nil, false, nil
	}
	start, end := r.clip(size)
	if start == end {
		return []byte{}, true, nil
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if isS3NotFound(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, internalErrf("get_blob", key, err, "")
	}
	defer func() { _ = resp.Body.Close() }()

	out := make([]byte, end-start)
	if _, err := io.ReadFull(resp.Body, out); err != nil {
		return nil, false, internalErrf("get_blob", key, err, "reading range %d-%d", start, end)
	}
	countBlobBytes(BlobStoreS3, "read", len(out))
	return out, true, nil
}

func (s *S3BlobStore) PutBlob(ctx context.Context, key []byte, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return internalErrf("put_blob", key, err, "")
	}
	countBlobBytes(BlobStoreS3, "write", len(data))
	return nil
}

// DeleteBlob checks for the object first, since S3 deletes succeed whether or
// not the object exists.
func (s *S3BlobStore) DeleteBlob(ctx context.Context, key []byte) (bool, error) {
	size, err := s.head(ctx, key)
	if err != nil {
		return false, internalErrf("delete_blob", key, err, "")
	} else if size < 0 {
		return false, nil
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return false, internalErrf("delete_blob", key, err, "")
	}
	return true, nil
}
