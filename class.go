package mailstore

import (
	"fmt"
)

// Bitmap families. The family byte leads every bitmap class encoding.
const (
	BitmapFamilyDocumentIDs byte = 0
	BitmapFamilyTag         byte = 1
	BitmapFamilyText        byte = 2
	BitmapFamilyStem        byte = 3
)

// BitmapClass selects which bitmap of a collection a BitmapKey addresses.
// The set of implementations is closed.
type BitmapClass interface {
	Family() byte
	appendBitmapClass(kb *keyBuilder)
}

// DocumentIDs is the bitmap of all live documents of a collection. It is the
// universe every filter is evaluated against.
type DocumentIDs struct{}

func (DocumentIDs) Family() byte { return BitmapFamilyDocumentIDs }

func (DocumentIDs) appendBitmapClass(kb *keyBuilder) {
	kb.AppendByte(BitmapFamilyDocumentIDs)
}

// Tag is the bitmap of documents carrying a tag value (mailbox id, keyword
// flag, thread id and so on) in a field.
type Tag struct {
	Field uint8
	Value TagValue
}

func (Tag) Family() byte { return BitmapFamilyTag }

func (c Tag) appendBitmapClass(kb *keyBuilder) {
	kb.AppendByte(BitmapFamilyTag)
	kb.AppendByte(c.Field)
	c.Value.appendTagValue(kb)
}

// TextToken is the bitmap of documents containing an exact token (or keyword)
// in a field.
type TextToken struct {
	Field uint8
	Token string
}

func (TextToken) Family() byte { return BitmapFamilyText }

func (c TextToken) appendBitmapClass(kb *keyBuilder) {
	kb.AppendByte(BitmapFamilyText)
	kb.AppendByte(c.Field)
	kb.AppendVarBytes([]byte(c.Token))
}

// StemToken is the bitmap of documents containing a word whose stem is Token.
type StemToken struct {
	Field uint8
	Token string
}

func (StemToken) Family() byte { return BitmapFamilyStem }

func (c StemToken) appendBitmapClass(kb *keyBuilder) {
	kb.AppendByte(BitmapFamilyStem)
	kb.AppendByte(c.Field)
	kb.AppendVarBytes([]byte(c.Token))
}

// RawBitmap addresses a bitmap by its family, field and already encoded
// payload. It lets callers reach bitmaps written by other layers without a
// dedicated class type.
type RawBitmap struct {
	Fam   byte
	Field uint8
	Key   []byte
}

func (c RawBitmap) Family() byte { return c.Fam }

func (c RawBitmap) appendBitmapClass(kb *keyBuilder) {
	kb.AppendByte(c.Fam)
	kb.AppendByte(c.Field)
	kb.AppendRaw(c.Key)
}

// TagValue is the payload of a Tag bitmap class.
type TagValue interface {
	appendTagValue(kb *keyBuilder)
	String() string
}

const (
	tagKindID     byte = 0
	tagKindText   byte = 1
	tagKindStatic byte = 2
)

type (
	TagID     uint32
	TagText   string
	TagStatic uint8
)

func (v TagID) appendTagValue(kb *keyBuilder) {
	kb.AppendByte(tagKindID)
	kb.AppendUint32(uint32(v))
}

func (v TagText) appendTagValue(kb *keyBuilder) {
	kb.AppendByte(tagKindText)
	kb.AppendVarBytes([]byte(v))
}

func (v TagStatic) appendTagValue(kb *keyBuilder) {
	kb.AppendByte(tagKindStatic)
	kb.AppendByte(uint8(v))
}

func (v TagID) String() string     { return fmt.Sprintf("id:%d", uint32(v)) }
func (v TagText) String() string   { return "text:" + string(v) }
func (v TagStatic) String() string { return fmt.Sprintf("static:%d", uint8(v)) }

// EncodeTagValue returns the payload bytes of a tag value, suitable for
// RawBitmap.Key and InBitmap.Key with BitmapFamilyTag.
func EncodeTagValue(v TagValue) []byte {
	kb := newKeyBuilder(8)
	v.appendTagValue(&kb)
	return kb.Buf
}

// ValueClass selects a stored value of a document. The class also decides
// the subspace: properties and named values live in SubspaceValues, ACL
// entries in SubspaceACLs, counters in SubspaceCounters.
type ValueClass interface {
	Subspace() byte
	appendValueClass(kb *keyBuilder)
}

const (
	valueKindProperty byte = 0
	valueKindNamed    byte = 1
)

type (
	// Property is a per-document field value.
	Property uint8
	// Named is a free-form value, e.g. per-collection settings.
	Named string
	// ACL is the access entry granted to the Grantee account.
	ACL uint32
	// Counter is an int64 that batches adjust with AddCounter.
	Counter uint8
)

func (Property) Subspace() byte { return SubspaceValues }
func (Named) Subspace() byte    { return SubspaceValues }
func (ACL) Subspace() byte      { return SubspaceACLs }
func (Counter) Subspace() byte  { return SubspaceCounters }

func (c Property) appendValueClass(kb *keyBuilder) {
	kb.AppendByte(valueKindProperty)
	kb.AppendByte(uint8(c))
}

func (c Named) appendValueClass(kb *keyBuilder) {
	kb.AppendByte(valueKindNamed)
	kb.AppendVarBytes([]byte(c))
}

func (c ACL) appendValueClass(kb *keyBuilder) {
	kb.AppendUint32(uint32(c))
}

func (c Counter) appendValueClass(kb *keyBuilder) {
	kb.AppendByte(uint8(c))
}
