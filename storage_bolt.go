package mailstore

import (
	"go.etcd.io/bbolt"
)

// boltBucketName is the single bucket holding the whole keyspace. Subspace
// bytes already partition it, so nested buckets would only add overhead.
var boltBucketName = []byte("kv")

type boltStorage struct {
	bdb *bbolt.DB
}

func openBoltStorage(path string, opt *bbolt.Options) (*boltStorage, error) {
	bdb, err := bbolt.Open(path, 0o666, opt)
	if err != nil {
		return nil, err
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(boltBucketName)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return &boltStorage{bdb: bdb}, nil
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltStorageTx{btx: btx, b: btx.Bucket(boltBucketName)}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
	b   *bbolt.Bucket
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) Get(key []byte) ([]byte, error) { return tx.b.Get(key), nil }

func (tx *boltStorageTx) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return tx.b.Put(key, value)
}

func (tx *boltStorageTx) Delete(key []byte) error { return tx.b.Delete(key) }

func (tx *boltStorageTx) Cursor() storageCursor { return boltCursor{c: tx.b.Cursor()} }

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) SeekBefore(limit []byte) ([]byte, []byte) {
	k, _ := c.c.Seek(limit)
	if k == nil {
		return c.c.Last()
	}
	return c.c.Prev()
}

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func (c boltCursor) Close() error { return nil }
