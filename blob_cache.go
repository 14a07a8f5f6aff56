package mailstore

import (
	"bytes"
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type blobCacheKey struct {
	key string
	r   BlobRange
}

// CachedBlobStore keeps recently read blob ranges in memory. Writes and
// deletes through the cache drop every cached range of the blob; writes that
// bypass it are not observed.
type CachedBlobStore struct {
	next  BlobStore
	cache *lru.Cache[blobCacheKey, []byte]

	// mu orders fills against invalidations. gen changes on every
	// invalidation, and a fill is only added if gen did not change while
	// the blob was being read.
	mu  sync.Mutex
	gen uint64

	// rmu guards ranges and is taken inside mu (the eviction callback runs
	// under cache.Add).
	rmu    sync.Mutex
	ranges map[string]map[BlobRange]struct{}
}

// NewCachedBlobStore wraps next with an LRU cache of size ranges.
func NewCachedBlobStore(next BlobStore, size int) (*CachedBlobStore, error) {
	s := &CachedBlobStore{
		next:   next,
		ranges: make(map[string]map[BlobRange]struct{}),
	}
	cache, err := lru.NewWithEvict[blobCacheKey, []byte](size, s.evicted)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *CachedBlobStore) evicted(k blobCacheKey, _ []byte) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if rs := s.ranges[k.key]; rs != nil {
		delete(rs, k.r)
		if len(rs) == 0 {
			delete(s.ranges, k.key)
		}
	}
}

func (s *CachedBlobStore) Len() int {
	return s.cache.Len()
}

func (s *CachedBlobStore) GetBlob(ctx context.Context, key []byte, r BlobRange) ([]byte, bool, error) {
	ck := blobCacheKey{string(key), r}
	if data, ok := s.cache.Get(ck); ok {
		return bytes.Clone(data), true, nil
	}
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	data, ok, err := s.next.GetBlob(ctx, key, r)
	if err != nil || !ok {
		return data, ok, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cache.Add(ck, bytes.Clone(data))
		s.rmu.Lock()
		rs := s.ranges[ck.key]
		if rs == nil {
			rs = make(map[BlobRange]struct{})
			s.ranges[ck.key] = rs
		}
		rs[r] = struct{}{}
		s.rmu.Unlock()
	}
	return data, true, nil
}

func (s *CachedBlobStore) invalidate(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.rmu.Lock()
	rs := s.ranges[string(key)]
	delete(s.ranges, string(key))
	s.rmu.Unlock()
	for r := range rs {
		s.cache.Remove(blobCacheKey{string(key), r})
	}
}

// PutBlob invalidates both before and after the write: the first rejects
// fills that read the old body, the second drops fills that raced the write.
func (s *CachedBlobStore) PutBlob(ctx context.Context, key []byte, data []byte) error {
	s.invalidate(key)
	defer s.invalidate(key)
	return s.next.PutBlob(ctx, key, data)
}

func (s *CachedBlobStore) DeleteBlob(ctx context.Context, key []byte) (bool, error) {
	s.invalidate(key)
	defer s.invalidate(key)
	return s.next.DeleteBlob(ctx, key)
}
