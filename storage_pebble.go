package mailstore

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// pebbleStorage runs read transactions on snapshots and write transactions
// on indexed batches. Pebble has no conflict detection of its own, so
// writers are serialized by writeMu; that is what makes the batch
// preconditions checked inside a write transaction hold until commit.
type pebbleStorage struct {
	db      *pebble.DB
	writeMu sync.Mutex
	sync    bool
}

func openPebbleStorage(path string, opts *pebble.Options, sync bool) (*pebbleStorage, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleStorage{db: db, sync: sync}, nil
}

func (s *pebbleStorage) BeginTx(writable bool) (storageTx, error) {
	if !writable {
		return &pebbleReadTx{snap: s.db.NewSnapshot()}, nil
	}
	s.writeMu.Lock()
	return &pebbleWriteTx{s: s, batch: s.db.NewIndexedBatch()}, nil
}

func (s *pebbleStorage) Close() error {
	return s.db.Close()
}

func (s *pebbleStorage) writeOptions() *pebble.WriteOptions {
	if s.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func pebbleGet(r pebble.Reader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	v = bytes.Clone(v)
	if v == nil {
		v = []byte{}
	}
	return v, closer.Close()
}

type pebbleReadTx struct {
	snap *pebble.Snapshot
}

func (tx *pebbleReadTx) Writable() bool { return false }

func (tx *pebbleReadTx) Get(key []byte) ([]byte, error) { return pebbleGet(tx.snap, key) }

func (tx *pebbleReadTx) Put(key, value []byte) error { return fmt.Errorf("tx not writable") }

func (tx *pebbleReadTx) Delete(key []byte) error { return fmt.Errorf("tx not writable") }

func (tx *pebbleReadTx) Cursor() storageCursor {
	it, err := tx.snap.NewIter(&pebble.IterOptions{})
	return &pebbleCursor{it: it, err: err}
}

func (tx *pebbleReadTx) Commit() error { return fmt.Errorf("tx not writable") }

func (tx *pebbleReadTx) Rollback() error {
	if tx.snap == nil {
		return nil
	}
	err := tx.snap.Close()
	tx.snap = nil
	return err
}

type pebbleWriteTx struct {
	s     *pebbleStorage
	batch *pebble.Batch
}

func (tx *pebbleWriteTx) Writable() bool { return true }

func (tx *pebbleWriteTx) Get(key []byte) ([]byte, error) { return pebbleGet(tx.batch, key) }

func (tx *pebbleWriteTx) Put(key, value []byte) error { return tx.batch.Set(key, value, nil) }

func (tx *pebbleWriteTx) Delete(key []byte) error { return tx.batch.Delete(key, nil) }

func (tx *pebbleWriteTx) Cursor() storageCursor {
	it, err := tx.batch.NewIter(&pebble.IterOptions{})
	return &pebbleCursor{it: it, err: err}
}

func (tx *pebbleWriteTx) Commit() error {
	if tx.batch == nil {
		return nil
	}
	err := tx.batch.Commit(tx.s.writeOptions())
	tx.release()
	return err
}

func (tx *pebbleWriteTx) Rollback() error {
	tx.release()
	return nil
}

func (tx *pebbleWriteTx) release() {
	if tx.batch == nil {
		return
	}
	tx.batch.Close()
	tx.batch = nil
	tx.s.writeMu.Unlock()
}

// pebbleCursor adapts a pebble iterator. A failure to open the iterator is
// reported by Close.
type pebbleCursor struct {
	it  *pebble.Iterator
	err error
}

func (c *pebbleCursor) kv(ok bool) ([]byte, []byte) {
	if !ok {
		return nil, nil
	}
	return c.it.Key(), c.it.Value()
}

func (c *pebbleCursor) First() ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.kv(c.it.First())
}

func (c *pebbleCursor) Last() ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.kv(c.it.Last())
}

func (c *pebbleCursor) Seek(seek []byte) ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.kv(c.it.SeekGE(seek))
}

func (c *pebbleCursor) SeekBefore(limit []byte) ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.kv(c.it.SeekLT(limit))
}

func (c *pebbleCursor) Next() ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.kv(c.it.Next())
}

func (c *pebbleCursor) Prev() ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.kv(c.it.Prev())
}

func (c *pebbleCursor) Close() error {
	if c.it == nil {
		return c.err
	}
	err := c.it.Close()
	c.it = nil
	return err
}
