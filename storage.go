package mailstore

// storage is an embedded ordered key-value engine (bbolt, pebble, in-memory).
// localBackend turns any storage into a Backend.
type storage interface {
	// BeginTx starts a new transaction. Read-only transactions observe a
	// consistent snapshot.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction. Byte slices returned by Get
// and by cursors are only valid until the transaction ends.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Cursor returns a cursor over all keys of the transaction.
	Cursor() storageCursor

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times
	// and after Commit.
	Rollback() error
}

// storageCursor iterates over the sorted keyspace. All positioning methods
// return nil key when they run off either end.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekBefore moves to the last key strictly less than limit.
	SeekBefore(limit []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Close releases the cursor.
	Close() error
}
