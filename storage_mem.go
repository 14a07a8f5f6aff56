package mailstore

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// memStorage is a transient in-memory storage. Committed state is an
// immutable sorted slice: readers share it, a writer works on a private copy
// and swaps it in on commit. One writer at a time.
type memStorage struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []memKV
	closed bool
	writer bool
}

func newMemStorage() *memStorage {
	s := &memStorage{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if !writable {
		return &memTx{base: s, items: s.items}, nil
	}
	for s.writer && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	s.writer = true
	return &memTx{
		base:     s,
		writable: true,
		items:    slices.Clone(s.items),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	s.cond.Broadcast()
	return nil
}

type memKV struct {
	key   []byte
	value []byte
}

type memTx struct {
	base     *memStorage
	writable bool
	items    []memKV // sorted by key
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) find(key []byte) (idx int, ok bool) {
	items := tx.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

func (tx *memTx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, fmt.Errorf("tx is closed")
	}
	i, ok := tx.find(key)
	if !ok {
		return nil, nil
	}
	return tx.items[i].value, nil
}

func (tx *memTx) Put(key, value []byte) error {
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	// values are never mutated in place, so the cloned slice may keep
	// sharing the old ones
	key = slices.Clone(key)
	value = bytes.Clone(value)
	if value == nil {
		value = []byte{}
	}

	i, ok := tx.find(key)
	if ok {
		tx.items[i].value = value
		return nil
	}
	tx.items = slices.Insert(tx.items, i, memKV{key: key, value: value})
	return nil
}

func (tx *memTx) Delete(key []byte) error {
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	i, ok := tx.find(key)
	if !ok {
		return nil
	}
	tx.items = slices.Delete(tx.items, i, i+1)
	return nil
}

func (tx *memTx) Cursor() storageCursor {
	return &memCursor{items: tx.items, pos: -1}
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.items = tx.items
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

// memCursor walks the slice captured when the cursor was opened.
type memCursor struct {
	items []memKV
	pos   int
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	c.pos = i
	if i < 0 || i >= len(c.items) {
		return nil, nil
	}
	kv := c.items[i]
	return kv.key, kv.value
}

func (c *memCursor) search(key []byte) int {
	items := c.items
	return sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
}

func (c *memCursor) First() ([]byte, []byte) { return c.at(0) }

func (c *memCursor) Last() ([]byte, []byte) { return c.at(len(c.items) - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) { return c.at(c.search(seek)) }

func (c *memCursor) SeekBefore(limit []byte) ([]byte, []byte) {
	return c.at(c.search(limit) - 1)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos >= len(c.items) {
		return nil, nil
	}
	return c.at(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	return c.at(c.pos - 1)
}

func (c *memCursor) Close() error { return nil }
