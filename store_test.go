package mailstore

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

var testBackends = []string{BackendMemory, BackendBolt, BackendPebble, BackendDynamoDB}

func testConfig(t testing.TB, kind string) Config {
	cfg := Config{Backend: kind, NoSync: true}
	switch kind {
	case BackendBolt:
		cfg.Path = filepath.Join(t.TempDir(), "store.db")
	case BackendPebble:
		cfg.Path = filepath.Join(t.TempDir(), "pebble")
	case BackendDynamoDB:
		cfg.DynamoDB = DynamoDBConfig{Table: "mailstore", Client: newFakeDynamo()}
	}
	return cfg
}

func openTestStoreWith(t testing.TB, cfg Config) *Store {
	t.Helper()
	s, err := Open(context.Background(), cfg, Options{Verbose: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openTestStore(t testing.TB, kind string) *Store {
	t.Helper()
	return openTestStoreWith(t, testConfig(t, kind))
}

// forEachBackend runs fn against a fresh store of every backend kind.
func forEachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	for _, kind := range testBackends {
		t.Run(kind, func(t *testing.T) {
			fn(t, openTestStore(t, kind))
		})
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "floppy"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)

	_, err = Open(context.Background(), Config{Backend: BackendBolt}, Options{})
	assert.ErrorIs(t, err, ErrInternal)
}

func TestStore_GetSetDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		key := ValueKey[Property]{AccountID: 1, Collection: 2, DocumentID: 3, Class: Property(4)}

		v, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, v)

		require.NoError(t, s.Set(ctx, key, []byte("hello")))
		v, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), v)

		require.NoError(t, s.Set(ctx, key, nil))
		v, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.NotNil(t, v, "empty values exist")
		assert.Empty(t, v)

		require.NoError(t, s.Delete(ctx, key))
		v, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}

func TestStore_GetValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		key := ValueKey[Named]{AccountID: 1, Class: Named("quota")}

		_, ok, err := GetValue[Uint64](ctx, s, key)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set(ctx, key, Uint64(1<<40).Serialize()))
		v, ok, err := GetValue[Uint64](ctx, s, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Uint64(1<<40), v)

		require.NoError(t, s.Set(ctx, key, []byte{1, 2}))
		_, _, err = GetValue[Uint64](ctx, s, key)
		assert.ErrorIs(t, err, ErrInternal)
	})
}

func TestStore_BatchAssertions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		b := NewBatch().WithAccount(1).WithCollection(1).CreateDocument(5).
			AssertValue(Property(1), nil).
			SetValue(Property(1), String("v1"))
		require.NoError(t, s.Write(ctx, b))

		// stale expectation: nothing from the batch may be applied
		b = NewBatch().WithAccount(1).WithCollection(1).UpdateDocument(5).
			SetValue(Property(2), String("other")).
			AssertValue(Property(1), String("v0")).
			SetValue(Property(1), String("v2"))
		err := s.Write(ctx, b)
		require.Error(t, err)
		assert.True(t, IsAssertValueFailed(err))
		assert.False(t, errors.Is(err, ErrInternal))

		v, _, err := GetValue[String](ctx, s, ValueKey[Property]{AccountID: 1, Collection: 1, DocumentID: 5, Class: Property(1)})
		require.NoError(t, err)
		assert.Equal(t, String("v1"), v)
		raw, err := s.Get(ctx, ValueKey[Property]{AccountID: 1, Collection: 1, DocumentID: 5, Class: Property(2)})
		require.NoError(t, err)
		assert.Nil(t, raw)

		b = NewBatch().WithAccount(1).WithCollection(1).UpdateDocument(5).
			AssertValue(Property(1), String("v1")).
			SetValue(Property(1), String("v2"))
		require.NoError(t, s.Write(ctx, b))

		// absent assertion on an existing value
		b = NewBatch().WithAccount(1).WithCollection(1).UpdateDocument(5).AssertValue(Property(1), nil)
		assert.True(t, IsAssertValueFailed(s.Write(ctx, b)))
	})
}

func TestStore_AssertSeesEarlierWritesOfBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		key := ValueKey[Property]{AccountID: 9, DocumentID: 1, Class: Property(1)}
		b := NewBatch().
			Set(key, []byte("a")).
			Assert(key, []byte("a")).
			Set(key, []byte("b"))
		require.NoError(t, s.Write(ctx, b))
		v, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), v)
	})
}

func TestStore_EmptyBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		require.NoError(t, s.Write(context.Background(), NewBatch()))
	})
}

func TestStore_ConcurrentCAS(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		key := ValueKey[Property]{AccountID: 3, DocumentID: 1, Class: Property(1)}
		const workers, increments = 4, 10

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < increments; i++ {
					for {
						cur, ok, err := GetValue[Uint64](ctx, s, key)
						if !assert.NoError(t, err) {
							return
						}
						b := NewBatch()
						if ok {
							b.Assert(key, cur.Serialize())
						} else {
							b.Assert(key, nil)
						}
						b.Set(key, (cur + 1).Serialize())
						err = s.Write(ctx, b)
						if err == nil {
							break
						}
						if !assert.True(t, IsAssertValueFailed(err), "unexpected error: %v", err) {
							return
						}
					}
				}
			}()
		}
		wg.Wait()

		v, _, err := GetValue[Uint64](ctx, s, key)
		require.NoError(t, err)
		assert.Equal(t, Uint64(workers*increments), v)
	})
}

func TestStore_Counters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		n, err := s.GetCounter(ctx, 1, 1, 1, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		require.NoError(t, s.Write(ctx, NewBatch().WithAccount(1).WithCollection(1).UpdateDocument(1).AddCounter(7, 5)))
		require.NoError(t, s.Write(ctx, NewBatch().WithAccount(1).WithCollection(1).UpdateDocument(1).AddCounter(7, -8).AddCounter(7, 1)))
		n, err = s.GetCounter(ctx, 1, 1, 1, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(-2), n)
	})
}

func TestStore_BitmapBlocks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		b := NewBatch().WithAccount(2).WithCollection(1)
		for _, doc := range []uint32{1, 2, 65535, 65536, 200000} {
			b.CreateDocument(doc).SetTag(3, TagID(42))
		}
		require.NoError(t, s.Write(ctx, b))

		ids, err := s.DocumentIDs(ctx, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 2, 65535, 65536, 200000}, ids.ToArray())

		tagged, err := s.GetBitmap(ctx, 2, 1, Tag{Field: 3, Value: TagID(42)})
		require.NoError(t, err)
		assert.Equal(t, ids.ToArray(), tagged.ToArray())

		// emptying a block deletes its key
		b = NewBatch().WithAccount(2).WithCollection(1).DeleteDocument(200000).ClearTag(3, TagID(42))
		require.NoError(t, s.Write(ctx, b))
		key := BitmapKey[DocumentIDs]{AccountID: 2, Collection: 1, BlockNum: BitmapBlock(200000)}
		raw, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, raw)

		ids, err = s.DocumentIDs(ctx, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, []uint32{1, 2, 65535, 65536}, ids.ToArray())

		other, err := s.DocumentIDs(ctx, 3, 1)
		require.NoError(t, err)
		assert.True(t, other.IsEmpty())
	})
}

func TestStore_BlobReferences(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		hash := HashBlob([]byte("attachment"))

		require.NoError(t, s.Write(ctx, NewBatch().WithAccount(4).ReserveBlob(hash, time.Now().Add(time.Hour))))
		ok, err := s.HasBlob(ctx, hash, Reserved{AccountID: 4})
		require.NoError(t, err)
		assert.True(t, ok)

		link := NewBatch().WithAccount(4).WithCollection(1).CreateDocument(10).LinkBlob(hash)
		require.NoError(t, s.Write(ctx, link))

		ok, err = s.HasBlob(ctx, hash, Linked{AccountID: 4, Collection: 1, DocumentID: 10})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.HasBlob(ctx, hash, Reserved{AccountID: 4})
		require.NoError(t, err)
		assert.False(t, ok, "linking drops the reservation")

		again := NewBatch().WithAccount(4).WithCollection(1).UpdateDocument(10).LinkBlob(hash)
		assert.True(t, IsAssertValueFailed(s.Write(ctx, again)))

		require.NoError(t, s.Write(ctx, NewBatch().WithAccount(4).WithCollection(1).UpdateDocument(10).UnlinkBlob(hash)))
		ok, err = s.HasBlob(ctx, hash, Linked{AccountID: 4, Collection: 1, DocumentID: 10})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_CanceledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.Write(ctx, NewBatch().Set(ValueKey[Property]{AccountID: 1, Class: Property(1)}, []byte("x")))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
