package mailstore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

type opKind uint8

const (
	opSet opKind = iota + 1
	opDelete
	opAssert
	opBitSet
	opBitClear
	opAdd
)

func (k opKind) String() string {
	switch k {
	case opSet:
		return "set"
	case opDelete:
		return "delete"
	case opAssert:
		return "assert"
	case opBitSet:
		return "bitset"
	case opBitClear:
		return "bitclear"
	case opAdd:
		return "add"
	default:
		return fmt.Sprintf("opKind(%d)", uint8(k))
	}
}

type batchOp struct {
	kind  opKind
	key   []byte
	value []byte // opSet: new value; opAssert: expected value, nil if must be absent
	doc   uint32 // opBitSet, opBitClear
	delta int64  // opAdd
}

// Batch is an ordered list of mutations applied atomically by Store.Write.
// Assertions are checked inside the same transaction as the mutations; if
// any fails, nothing is applied and Write returns ErrAssertValueFailed.
//
// The builder methods keep a current account, collection and document so
// that typical document updates read naturally:
//
//	b := NewBatch().WithAccount(1).WithCollection(CollEmail).
//		CreateDocument(42).
//		SetValue(Property(FieldSubject), String("hi")).
//		SetTag(FieldMailbox, TagID(inbox))
type Batch struct {
	ops []batchOp

	accountID  uint32
	collection uint8
	documentID uint32
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Len() int      { return len(b.ops) }
func (b *Batch) IsEmpty() bool { return len(b.ops) == 0 }

// Keys returns the distinct keys touched by the batch, in first-use order.
func (b *Batch) Keys() [][]byte {
	seen := make(map[string]bool, len(b.ops))
	var keys [][]byte
	for _, op := range b.ops {
		if !seen[string(op.key)] {
			seen[string(op.key)] = true
			keys = append(keys, op.key)
		}
	}
	return keys
}

func (b *Batch) add(op batchOp) *Batch {
	b.ops = append(b.ops, op)
	return b
}

// SetRaw stores value under a fully serialized key.
func (b *Batch) SetRaw(key, value []byte) *Batch {
	if value == nil {
		value = []byte{}
	}
	return b.add(batchOp{kind: opSet, key: key, value: value})
}

func (b *Batch) DeleteRaw(key []byte) *Batch {
	return b.add(batchOp{kind: opDelete, key: key})
}

// AssertRaw requires key to currently hold expected, or to be absent when
// expected is nil.
func (b *Batch) AssertRaw(key, expected []byte) *Batch {
	return b.add(batchOp{kind: opAssert, key: key, value: expected})
}

func (b *Batch) Set(key Key, value []byte) *Batch {
	return b.SetRaw(key.Serialize(true), value)
}

func (b *Batch) Delete(key Key) *Batch {
	return b.DeleteRaw(key.Serialize(true))
}

func (b *Batch) Assert(key Key, expected []byte) *Batch {
	return b.AssertRaw(key.Serialize(true), expected)
}

// Add adjusts the int64 counter stored under key by delta. A missing counter
// counts as zero.
func (b *Batch) Add(key Key, delta int64) *Batch {
	return b.add(batchOp{kind: opAdd, key: key.Serialize(true), delta: delta})
}

// SetBit adds documentID to the bitmap of class in the current account and
// collection.
func (b *Batch) SetBit(class BitmapClass, documentID uint32) *Batch {
	return b.add(batchOp{kind: opBitSet, key: b.bitmapKey(class, documentID), doc: documentID})
}

// ClearBit removes documentID from the bitmap of class. Blocks that become
// empty are deleted.
func (b *Batch) ClearBit(class BitmapClass, documentID uint32) *Batch {
	return b.add(batchOp{kind: opBitClear, key: b.bitmapKey(class, documentID), doc: documentID})
}

func (b *Batch) bitmapKey(class BitmapClass, documentID uint32) []byte {
	return BitmapKey[BitmapClass]{
		AccountID:  b.accountID,
		Collection: b.collection,
		Class:      class,
		BlockNum:   BitmapBlock(documentID),
	}.Serialize(true)
}

func (b *Batch) WithAccount(accountID uint32) *Batch {
	b.accountID = accountID
	return b
}

func (b *Batch) WithCollection(collection uint8) *Batch {
	b.collection = collection
	return b
}

// CreateDocument makes documentID current and adds it to the collection's
// DocumentIDs bitmap.
func (b *Batch) CreateDocument(documentID uint32) *Batch {
	b.documentID = documentID
	return b.SetBit(DocumentIDs{}, documentID)
}

// UpdateDocument makes documentID current.
func (b *Batch) UpdateDocument(documentID uint32) *Batch {
	b.documentID = documentID
	return b
}

// DeleteDocument makes documentID current and removes it from the
// DocumentIDs bitmap. Values, tags and index entries of the document must be
// cleared by the caller, who knows which ones exist.
func (b *Batch) DeleteDocument(documentID uint32) *Batch {
	b.documentID = documentID
	return b.ClearBit(DocumentIDs{}, documentID)
}

func (b *Batch) valueKey(class ValueClass) ValueKey[ValueClass] {
	return ValueKey[ValueClass]{
		AccountID:  b.accountID,
		Collection: b.collection,
		DocumentID: b.documentID,
		Class:      class,
	}
}

func (b *Batch) SetValue(class ValueClass, value Serializer) *Batch {
	return b.Set(b.valueKey(class), value.Serialize())
}

func (b *Batch) ClearValue(class ValueClass) *Batch {
	return b.Delete(b.valueKey(class))
}

// AssertValue requires the current document's value to serialize to
// expected; a nil expected requires the value to be absent.
func (b *Batch) AssertValue(class ValueClass, expected Serializer) *Batch {
	var raw []byte
	if expected != nil {
		raw = expected.Serialize()
		if raw == nil {
			raw = []byte{}
		}
	}
	return b.Assert(b.valueKey(class), raw)
}

func (b *Batch) AddCounter(field uint8, delta int64) *Batch {
	return b.Add(b.valueKey(Counter(field)), delta)
}

func (b *Batch) SetTag(field uint8, value TagValue) *Batch {
	return b.SetBit(Tag{Field: field, Value: value}, b.documentID)
}

func (b *Batch) ClearTag(field uint8, value TagValue) *Batch {
	return b.ClearBit(Tag{Field: field, Value: value}, b.documentID)
}

func (b *Batch) indexKey(field uint8, key []byte) IndexKey {
	return IndexKey{
		AccountID:  b.accountID,
		Collection: b.collection,
		DocumentID: b.documentID,
		Field:      field,
		Key:        key,
	}
}

// SetIndex adds a sorted index entry for the current document. A field may
// have several entries per document.
func (b *Batch) SetIndex(field uint8, key []byte) *Batch {
	return b.Set(b.indexKey(field, key), nil)
}

func (b *Batch) ClearIndex(field uint8, key []byte) *Batch {
	return b.Delete(b.indexKey(field, key))
}

// IndexKeyword adds the current document to the exact-match bitmap of
// keyword, which HasKeyword and HasKeywords query.
func (b *Batch) IndexKeyword(field uint8, keyword string) *Batch {
	return b.SetBit(TextToken{Field: field, Token: keyword}, b.documentID)
}

func (b *Batch) ClearKeyword(field uint8, keyword string) *Batch {
	return b.ClearBit(TextToken{Field: field, Token: keyword}, b.documentID)
}

// IndexText tokenizes text and adds the current document to the bitmap of
// every token and, when lang has a stemmer, of every stem.
func (b *Batch) IndexText(field uint8, text string, lang Language) *Batch {
	b.textOps(field, text, lang, b.SetBit)
	return b
}

// ClearText undoes IndexText for the same text and language.
func (b *Batch) ClearText(field uint8, text string, lang Language) *Batch {
	b.textOps(field, text, lang, b.ClearBit)
	return b
}

func (b *Batch) textOps(field uint8, text string, lang Language, op func(BitmapClass, uint32) *Batch) {
	tokens := uniqueStrings(Tokenize(text))
	for _, tok := range tokens {
		op(TextToken{Field: field, Token: tok}, b.documentID)
	}
	if stemmer := stemmerFor(lang); stemmer != nil {
		var stems []string
		for _, tok := range tokens {
			stems = append(stems, stemmer(tok))
		}
		for _, stem := range uniqueStrings(stems) {
			op(StemToken{Field: field, Token: stem}, b.documentID)
		}
	}
}

// LogChange records a change log entry of the current account and
// collection. Change ids must increase; the entry under an existing id is
// overwritten.
func (b *Batch) LogChange(changeID uint64, entry ChangeLogEntry) *Batch {
	key := LogKey{AccountID: b.accountID, Collection: b.collection, ChangeID: changeID}
	return b.Set(key, MsgPack[ChangeLogEntry]{entry}.Serialize())
}

// ReserveBlob records that the current account uploaded hash and may link it
// until the given time. Reserving an already reserved blob moves the
// deadline.
func (b *Batch) ReserveBlob(hash BlobHash, until time.Time) *Batch {
	key := Reserved{AccountID: b.accountID}.blobKey(hash)
	return b.Set(key, Uint64(until.Unix()).Serialize())
}

// LinkBlob attaches hash to the current document and drops the account's
// reservation. Linking the same blob to the same document twice fails the
// batch with ErrAssertValueFailed.
func (b *Batch) LinkBlob(hash BlobHash) *Batch {
	link := Linked{AccountID: b.accountID, Collection: b.collection, DocumentID: b.documentID}.blobKey(hash)
	b.Assert(link, nil)
	b.Set(link, nil)
	return b.Delete(Reserved{AccountID: b.accountID}.blobKey(hash))
}

func (b *Batch) UnlinkBlob(hash BlobHash) *Batch {
	link := Linked{AccountID: b.accountID, Collection: b.collection, DocumentID: b.documentID}.blobKey(hash)
	return b.Delete(link)
}

// txnView is the transaction state batch operations are applied to. Reads
// must observe earlier writes of the same batch.
type txnView interface {
	get(key []byte) ([]byte, error)
	set(key, value []byte) error
	del(key []byte) error
}

// applyOps runs the batch against a transaction. The caller commits only if
// it returns nil.
func applyOps(tx txnView, ops []batchOp) error {
	for _, op := range ops {
		switch op.kind {
		case opSet:
			if err := tx.set(op.key, op.value); err != nil {
				return err
			}
		case opDelete:
			if err := tx.del(op.key); err != nil {
				return err
			}
		case opAssert:
			cur, err := tx.get(op.key)
			if err != nil {
				return err
			}
			if (op.value == nil) != (cur == nil) || !bytes.Equal(cur, op.value) {
				return ErrAssertValueFailed
			}
		case opBitSet, opBitClear:
			cur, err := tx.get(op.key)
			if err != nil {
				return err
			}
			bm := roaring.New()
			if cur != nil {
				var v Bitmap
				if err := v.Deserialize(cur); err != nil {
					return err
				}
				bm = v.Bitmap
			}
			if op.kind == opBitSet {
				if bm.Contains(op.doc) && cur != nil {
					continue
				}
				bm.Add(op.doc)
			} else {
				if !bm.Contains(op.doc) {
					continue
				}
				bm.Remove(op.doc)
				if bm.IsEmpty() {
					if err := tx.del(op.key); err != nil {
						return err
					}
					continue
				}
			}
			if err := tx.set(op.key, Bitmap{bm}.Serialize()); err != nil {
				return err
			}
		case opAdd:
			cur, err := tx.get(op.key)
			if err != nil {
				return err
			}
			var v Int64
			if cur != nil {
				if err := v.Deserialize(cur); err != nil {
					return err
				}
			}
			v += Int64(op.delta)
			if err := tx.set(op.key, v.Serialize()); err != nil {
				return err
			}
		default:
			panic(fmt.Sprintf("unknown batch op %v", op.kind))
		}
	}
	return nil
}

func uniqueStrings(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0:0]
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
