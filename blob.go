package mailstore

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStore persists opaque blob bodies under caller-chosen keys, usually
// BlobHash.Key(). It never hashes content itself.
type BlobStore interface {
	// GetBlob returns the bytes of r, clipped to the blob size. ok is false
	// when the blob does not exist.
	GetBlob(ctx context.Context, key []byte, r BlobRange) (data []byte, ok bool, err error)

	// PutBlob stores data under key, replacing any previous body.
	PutBlob(ctx context.Context, key []byte, data []byte) error

	// DeleteBlob removes the blob and reports whether it existed.
	DeleteBlob(ctx context.Context, key []byte) (bool, error)
}

// BlobRange selects the bytes [Start, End) of a blob.
type BlobRange struct {
	Start uint32
	End   uint32
}

// WholeBlob selects an entire blob.
var WholeBlob = BlobRange{Start: 0, End: math.MaxUint32}

// ByteRange returns the range of n bytes starting at off.
func ByteRange(off, n uint32) BlobRange {
	end := uint64(off) + uint64(n)
	if end > math.MaxUint32 {
		end = math.MaxUint32
	}
	return BlobRange{Start: off, End: uint32(end)}
}

func (r BlobRange) String() string {
	if r == WholeBlob {
		return "all"
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// clip returns the offsets of the range within a blob of size bytes.
func (r BlobRange) clip(size int64) (start, end int64) {
	start, end = int64(r.Start), int64(r.End)
	if start > size {
		start = size
	}
	if end > size {
		end = size
	}
	if end < start {
		end = start
	}
	return start, end
}

// Blob store kinds accepted by BlobConfig.Kind.
const (
	BlobStoreKV    = "kv"
	BlobStoreFS    = "fs"
	BlobStoreS3    = "s3"
	BlobStoreMinio = "minio"
)

type BlobConfig struct {
	Kind string

	// Codec compresses chunks of the kv store.
	Codec BlobCodec

	// Dir is the root directory of the fs store.
	Dir string

	// Bucket and Prefix locate blobs of the s3 and minio stores.
	Bucket string
	Prefix string

	// Region and Endpoint configure the S3 client; Endpoint is host:port
	// for minio.
	Region   string
	Endpoint string

	// Minio credentials. Empty values fall back to MINIO_ACCESS_KEY and
	// MINIO_SECRET_KEY.
	AccessKey string
	SecretKey string
	Secure    bool

	// S3Client, when set, is used instead of building one from the AWS
	// default configuration.
	S3Client S3Client

	// CacheSize, when positive, wraps the store in a CachedBlobStore holding
	// that many ranges.
	CacheSize int
}

// OpenBlobStore creates the blob store described by cfg. The kv store keeps
// its chunks in store, which the other kinds ignore.
func OpenBlobStore(ctx context.Context, cfg BlobConfig, store *Store) (BlobStore, error) {
	bs, err := openBlobStore(ctx, cfg, store)
	if err != nil {
		return nil, internalErrf("open", nil, err, "cannot open %s blob store", cfg.Kind)
	}
	if cfg.CacheSize > 0 {
		cached, err := NewCachedBlobStore(bs, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return bs, nil
}

func openBlobStore(ctx context.Context, cfg BlobConfig, store *Store) (BlobStore, error) {
	switch cfg.Kind {
	case BlobStoreKV:
		if store == nil {
			return nil, fmt.Errorf("kv blob store requires a Store")
		}
		return NewKVBlobStore(store, cfg.Codec)

	case BlobStoreFS:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("fs blob store requires a directory")
		}
		return NewFSBlobStore(cfg.Dir)

	case BlobStoreS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 blob store requires a bucket")
		}
		client := cfg.S3Client
		if client == nil {
			awsCfg, err := loadAWSConfig(ctx, cfg.Region)
			if err != nil {
				return nil, err
			}
			client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
				if cfg.Endpoint != "" {
					o.BaseEndpoint = aws.String(cfg.Endpoint)
					o.UsePathStyle = true
				}
			})
		}
		return NewS3BlobStore(client, cfg.Bucket, cfg.Prefix), nil

	case BlobStoreMinio:
		if cfg.Bucket == "" || cfg.Endpoint == "" {
			return nil, fmt.Errorf("minio blob store requires an endpoint and a bucket")
		}
		access, secret := cfg.AccessKey, cfg.SecretKey
		if access == "" {
			access = os.Getenv("MINIO_ACCESS_KEY")
		}
		if secret == "" {
			secret = os.Getenv("MINIO_SECRET_KEY")
		}
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(access, secret, ""),
			Secure: cfg.Secure,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, err
		}
		return NewMinioBlobStore(client, cfg.Bucket, cfg.Prefix), nil

	default:
		return nil, fmt.Errorf("unknown blob store %q", cfg.Kind)
	}
}

func countBlobBytes(store, dir string, n int) {
	if n > 0 {
		BlobBytes.WithLabelValues(store, dir).Add(float64(n))
	}
}
