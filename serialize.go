package mailstore

import (
	"bytes"
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Serializer turns a value into the bytes stored under a key.
type Serializer interface {
	Serialize() []byte
}

// Deserializer parses stored bytes. Malformed input yields a *DataError.
type Deserializer interface {
	Deserialize(data []byte) error
}

// Deserialize parses data into a new T.
func Deserialize[T any, PT interface {
	*T
	Deserializer
}](data []byte) (T, error) {
	var v T
	err := PT(&v).Deserialize(data)
	return v, err
}

type (
	Uint32 uint32
	Uint64 uint64
	// Int64 is stored as big-endian two's complement, the format counters use.
	Int64  int64
	String string
	Bytes  []byte
)

func (v Uint32) Serialize() []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(v))
}

func (v *Uint32) Deserialize(data []byte) error {
	if len(data) != 4 {
		return dataErrf(data, 0, nil, "uint32 must be 4 bytes")
	}
	*v = Uint32(binary.BigEndian.Uint32(data))
	return nil
}

func (v Uint64) Serialize() []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func (v *Uint64) Deserialize(data []byte) error {
	if len(data) != 8 {
		return dataErrf(data, 0, nil, "uint64 must be 8 bytes")
	}
	*v = Uint64(binary.BigEndian.Uint64(data))
	return nil
}

func (v Int64) Serialize() []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func (v *Int64) Deserialize(data []byte) error {
	if len(data) != 8 {
		return dataErrf(data, 0, nil, "int64 must be 8 bytes")
	}
	*v = Int64(binary.BigEndian.Uint64(data))
	return nil
}

func (v String) Serialize() []byte {
	return []byte(v)
}

func (v *String) Deserialize(data []byte) error {
	*v = String(data)
	return nil
}

func (v Bytes) Serialize() []byte {
	return bytes.Clone(v)
}

func (v *Bytes) Deserialize(data []byte) error {
	*v = bytes.Clone(data)
	return nil
}

// Bitmap is a roaring bitmap in its portable serialization format.
type Bitmap struct {
	*roaring.Bitmap
}

func (v Bitmap) Serialize() []byte {
	if v.Bitmap == nil {
		return must(roaring.New().ToBytes())
	}
	v.RunOptimize()
	return must(v.ToBytes())
}

func (v *Bitmap) Deserialize(data []byte) error {
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return dataErrf(data, 0, err, "invalid bitmap")
	}
	v.Bitmap = bm
	return nil
}

// MsgPack stores structured values with msgpack, sorting map keys so that
// equal values serialize to equal bytes (which AssertValue relies on).
type MsgPack[T any] struct {
	V T
}

func (v MsgPack[T]) Serialize() []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v.V)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(internalErrf("msgpack", nil, err, "failed to encode %T", v.V))
	}
	return buf.Bytes()
}

func (v *MsgPack[T]) Deserialize(data []byte) error {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	err := dec.Decode(&v.V)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %T", v.V)
	}
	return nil
}
