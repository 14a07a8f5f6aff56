package mailstore

import (
	"fmt"
)

// Key is anything that serializes into the ordered keyspace.
type Key interface {
	// Serialize encodes the key. With includeSubspace the first byte is
	// Subspace(), which is what backends store.
	Serialize(includeSubspace bool) []byte
	Subspace() byte
}

const (
	blobHashLen = 32

	// bitmapBlockShift splits a document id into a block number (high 16
	// bits) and a position inside the block.
	bitmapBlockShift = 16
)

// BitmapBlock returns the number of the bitmap block that holds documentID.
func BitmapBlock(documentID uint32) uint32 {
	return documentID >> bitmapBlockShift
}

func startKey(includeSubspace bool, subspace byte, capacity int) keyBuilder {
	kb := newKeyBuilder(capacity)
	if includeSubspace {
		kb.AppendByte(subspace)
	}
	return kb
}

// BitmapKey addresses one block of a bitmap. Each block is a serialized
// roaring bitmap of the document ids d with BitmapBlock(d) == BlockNum.
type BitmapKey[C BitmapClass] struct {
	AccountID  uint32
	Collection uint8
	Class      C
	BlockNum   uint32
}

func (k BitmapKey[C]) Subspace() byte { return SubspaceBitmaps }

func (k BitmapKey[C]) Serialize(includeSubspace bool) []byte {
	kb := k.prefix(includeSubspace)
	kb.AppendUint32(k.BlockNum)
	return kb.Buf
}

// Prefix returns the serialized key without the block number, i.e. the
// common prefix of all blocks of this bitmap.
func (k BitmapKey[C]) Prefix() []byte {
	kb := k.prefix(true)
	return kb.Buf
}

func (k BitmapKey[C]) prefix(includeSubspace bool) keyBuilder {
	kb := startKey(includeSubspace, SubspaceBitmaps, 24)
	kb.AppendUint32(k.AccountID)
	kb.AppendByte(k.Collection)
	k.Class.appendBitmapClass(&kb)
	return kb
}

func (k BitmapKey[C]) String() string {
	return fmt.Sprintf("bitmap(%d/%d/%T/%d)", k.AccountID, k.Collection, k.Class, k.BlockNum)
}

// IndexKey is one entry of a sorted secondary index. Entries of a field sort
// by Key first and DocumentID second.
type IndexKey struct {
	AccountID  uint32
	Collection uint8
	DocumentID uint32
	Field      uint8
	Key        []byte
}

func (k IndexKey) Subspace() byte { return SubspaceIndexes }

func (k IndexKey) Serialize(includeSubspace bool) []byte {
	kb := startKey(includeSubspace, SubspaceIndexes, 16+len(k.Key))
	kb.AppendUint32(k.AccountID)
	kb.AppendByte(k.Collection)
	kb.AppendByte(k.Field)
	kb.AppendEscaped(k.Key)
	kb.AppendUint32(k.DocumentID)
	return kb.Buf
}

// DecodeIndexKey parses a serialized IndexKey (with the subspace byte).
func DecodeIndexKey(key []byte) (IndexKey, error) {
	var k IndexKey
	d := makeByteDecoder(key)
	if err := expectSubspace(&d, SubspaceIndexes); err != nil {
		return k, err
	}
	var err error
	if k.AccountID, err = d.Uint32(); err != nil {
		return k, err
	}
	if k.Collection, err = d.Byte(); err != nil {
		return k, err
	}
	if k.Field, err = d.Byte(); err != nil {
		return k, err
	}
	if k.Key, err = d.Escaped(); err != nil {
		return k, err
	}
	if k.DocumentID, err = d.Uint32(); err != nil {
		return k, err
	}
	return k, d.End()
}

// indexKeyDocumentID extracts the document id of a serialized index key
// without unescaping the payload.
func indexKeyDocumentID(key []byte) (uint32, error) {
	if len(key) < 1+4+1+1+2+4 || key[0] != SubspaceIndexes {
		return 0, dataErrf(key, 0, nil, "not an index key")
	}
	d := makeByteDecoder(key[len(key)-4:])
	return d.Uint32()
}

// IndexKeyPrefix is the common prefix of all index entries of one field.
type IndexKeyPrefix struct {
	AccountID  uint32
	Collection uint8
	Field      uint8
}

func (k IndexKeyPrefix) Subspace() byte { return SubspaceIndexes }

func (k IndexKeyPrefix) Serialize(includeSubspace bool) []byte {
	kb := startKey(includeSubspace, SubspaceIndexes, 8)
	kb.AppendUint32(k.AccountID)
	kb.AppendByte(k.Collection)
	kb.AppendByte(k.Field)
	return kb.Buf
}

// Range returns the half-open bounds [begin, end) covering exactly the index
// entries of this field.
func (k IndexKeyPrefix) Range() (begin, end []byte) {
	begin = k.Serialize(true)
	return begin, successor(begin)
}

// ValueKey addresses a single stored value of a document.
type ValueKey[C ValueClass] struct {
	AccountID  uint32
	Collection uint8
	DocumentID uint32
	Class      C
}

func (k ValueKey[C]) Subspace() byte { return k.Class.Subspace() }

func (k ValueKey[C]) Serialize(includeSubspace bool) []byte {
	kb := startKey(includeSubspace, k.Class.Subspace(), 16)
	kb.AppendUint32(k.AccountID)
	kb.AppendByte(k.Collection)
	kb.AppendUint32(k.DocumentID)
	k.Class.appendValueClass(&kb)
	return kb.Buf
}

// DecodeValueKeyDocument returns the document id of a serialized ValueKey
// from any of the value subspaces.
func DecodeValueKeyDocument(key []byte) (uint32, error) {
	d := makeByteDecoder(key)
	sub, err := d.Byte()
	if err != nil {
		return 0, err
	}
	if sub != SubspaceValues && sub != SubspaceACLs && sub != SubspaceCounters {
		return 0, dataErrf(key, 0, nil, "not a value key (subspace %s)", SubspaceName(sub))
	}
	if _, err := d.Raw(5); err != nil {
		return 0, err
	}
	return d.Uint32()
}

// BlobOp distinguishes the records kept for a blob hash.
type BlobOp uint8

const (
	// BlobOpReserve marks a blob uploaded for an account but not yet
	// attached to any document.
	BlobOpReserve BlobOp = 0
	// BlobOpLink attaches a blob to a document.
	BlobOpLink BlobOp = 1
)

func (op BlobOp) String() string {
	switch op {
	case BlobOpReserve:
		return "reserve"
	case BlobOpLink:
		return "link"
	default:
		return fmt.Sprintf("BlobOp(%d)", uint8(op))
	}
}

// BlobKey is a blob reference record.
type BlobKey struct {
	AccountID  uint32
	Collection uint8
	DocumentID uint32
	Hash       BlobHash
	Op         BlobOp
}

func (k BlobKey) Subspace() byte { return SubspaceBlobs }

func (k BlobKey) Serialize(includeSubspace bool) []byte {
	kb := startKey(includeSubspace, SubspaceBlobs, 1+4+1+4+blobHashLen+1)
	kb.AppendUint32(k.AccountID)
	kb.AppendByte(k.Collection)
	kb.AppendUint32(k.DocumentID)
	kb.AppendRaw(k.Hash[:])
	kb.AppendByte(byte(k.Op))
	return kb.Buf
}

func DecodeBlobKey(key []byte) (BlobKey, error) {
	var k BlobKey
	d := makeByteDecoder(key)
	if err := expectSubspace(&d, SubspaceBlobs); err != nil {
		return k, err
	}
	var err error
	if k.AccountID, err = d.Uint32(); err != nil {
		return k, err
	}
	if k.Collection, err = d.Byte(); err != nil {
		return k, err
	}
	if k.DocumentID, err = d.Uint32(); err != nil {
		return k, err
	}
	raw, err := d.Raw(blobHashLen)
	if err != nil {
		return k, err
	}
	copy(k.Hash[:], raw)
	op, err := d.Byte()
	if err != nil {
		return k, err
	}
	k.Op = BlobOp(op)
	return k, d.End()
}

// LogKey addresses one change log entry of a collection.
type LogKey struct {
	AccountID  uint32
	Collection uint8
	ChangeID   uint64
}

func (k LogKey) Subspace() byte { return SubspaceLogs }

func (k LogKey) Serialize(includeSubspace bool) []byte {
	kb := startKey(includeSubspace, SubspaceLogs, 14)
	kb.AppendUint32(k.AccountID)
	kb.AppendByte(k.Collection)
	kb.AppendUint64(k.ChangeID)
	return kb.Buf
}

func DecodeLogKey(key []byte) (LogKey, error) {
	var k LogKey
	d := makeByteDecoder(key)
	if err := expectSubspace(&d, SubspaceLogs); err != nil {
		return k, err
	}
	var err error
	if k.AccountID, err = d.Uint32(); err != nil {
		return k, err
	}
	if k.Collection, err = d.Byte(); err != nil {
		return k, err
	}
	if k.ChangeID, err = d.Uint64(); err != nil {
		return k, err
	}
	return k, d.End()
}

func logPrefix(accountID uint32, collection uint8) []byte {
	kb := startKey(true, SubspaceLogs, 6)
	kb.AppendUint32(accountID)
	kb.AppendByte(collection)
	return kb.Buf
}

func expectSubspace(d *byteDecoder, want byte) error {
	b, err := d.Byte()
	if err != nil {
		return err
	}
	if b != want {
		return dataErrf(d.Orig, 0, nil, "wrong subspace %s, wanted %s", SubspaceName(b), SubspaceName(want))
	}
	return nil
}
