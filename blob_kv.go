package mailstore

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// BlobCodec is the compression applied to a KVBlobStore chunk.
type BlobCodec byte

const (
	CodecNone BlobCodec = 0
	CodecLZ4  BlobCodec = 1
	CodecZstd BlobCodec = 2
)

func (c BlobCodec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("BlobCodec(%d)", byte(c))
	}
}

const blobChunkSize = 64 << 10

// KVBlobStore keeps blob bodies in the SubspaceBlobData subspace of a Store,
// split into 64 KiB chunks:
//
//	key:   [t][bucket:4][uvarint len][blob key][chunk:4]
//	value: [codec][uvarint raw len][uvarint blob size][xxhash64:8][payload]
//
// bucket is the high half of the xxhash64 of the blob key, which keeps all
// chunks of a blob in one partition of partitioned backends. A chunk is
// stored uncompressed when compression saves less than a tenth of it. An
// empty blob has a single empty chunk.
//
// A put replaces the whole body in one batch, so it is subject to the
// backend's batch limits (100 chunks on DynamoDB).
type KVBlobStore struct {
	store *Store
	codec BlobCodec
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func NewKVBlobStore(store *Store, codec BlobCodec) (*KVBlobStore, error) {
	if codec > CodecZstd {
		return nil, fmt.Errorf("unknown blob codec %v", codec)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &KVBlobStore{store: store, codec: codec, enc: enc, dec: dec}, nil
}

// Close releases the codec state. The underlying Store stays open.
func (s *KVBlobStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

func blobChunkPrefix(key []byte) []byte {
	kb := newKeyBuilder(1 + 4 + binary.MaxVarintLen64 + len(key) + 4)
	kb.AppendByte(SubspaceBlobData)
	kb.AppendUint32(uint32(xxhash.Sum64(key) >> 32))
	kb.AppendVarBytes(key)
	return kb.Buf
}

func blobChunkKey(prefix []byte, chunk uint32) []byte {
	k := make([]byte, len(prefix)+4)
	copy(k, prefix)
	binary.BigEndian.PutUint32(k[len(prefix):], chunk)
	return k
}

func (s *KVBlobStore) encodeChunk(raw []byte, size int) []byte {
	codec, payload := CodecNone, raw
	switch s.codec {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err == nil && n > 0 {
			codec, payload = CodecLZ4, buf[:n]
		}
	case CodecZstd:
		codec, payload = CodecZstd, s.enc.EncodeAll(raw, nil)
	}
	if codec != CodecNone && len(payload)*10 > len(raw)*9 {
		codec, payload = CodecNone, raw
	}

	kb := newKeyBuilder(1 + 2*binary.MaxVarintLen64 + 8 + len(payload))
	kb.AppendByte(byte(codec))
	kb.AppendUvarint(uint64(len(raw)))
	kb.AppendUvarint(uint64(size))
	kb.AppendUint64(xxhash.Sum64(raw))
	kb.AppendRaw(payload)
	return kb.Buf
}

// decodeChunk returns the raw bytes of a chunk and the size of the blob it
// belongs to. The result never aliases data.
func (s *KVBlobStore) decodeChunk(data []byte) (raw []byte, size int64, err error) {
	d := makeByteDecoder(data)
	codec, err := d.Byte()
	if err != nil {
		return nil, 0, err
	}
	rawLen, err := d.Uvarinti()
	if err != nil {
		return nil, 0, err
	}
	total, err := d.Uvarint()
	if err != nil {
		return nil, 0, err
	}
	sum, err := d.Uint64()
	if err != nil {
		return nil, 0, err
	}
	if rawLen > blobChunkSize || total > 1<<32 {
		return nil, 0, dataErrf(data, 0, nil, "blob chunk sizes out of range: %d of %d", rawLen, total)
	}
	payload := d.Buf

	switch BlobCodec(codec) {
	case CodecNone:
		raw = append([]byte(nil), payload...)
	case CodecLZ4:
		raw = make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, 0, dataErrf(data, d.Off(), err, "lz4 blob chunk")
		}
		raw = raw[:n]
	case CodecZstd:
		raw, err = s.dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, 0, dataErrf(data, d.Off(), err, "zstd blob chunk")
		}
	default:
		return nil, 0, dataErrf(data, 0, nil, "unknown blob codec %d", codec)
	}
	if len(raw) != rawLen {
		return nil, 0, dataErrf(data, d.Off(), nil, "blob chunk decoded to %d bytes, wanted %d", len(raw), rawLen)
	}
	if xxhash.Sum64(raw) != sum {
		return nil, 0, dataErrf(data, d.Off(), nil, "blob chunk checksum mismatch")
	}
	return raw, int64(total), nil
}

func (s *KVBlobStore) GetBlob(ctx context.Context, key []byte, r BlobRange) ([]byte, bool, error) {
	prefix := blobChunkPrefix(key)
	first := r.Start / blobChunkSize
	last := uint32((uint64(r.End) + blobChunkSize - 1) / blobChunkSize)
	if last <= first {
		last = first + 1
	}

	var (
		out        []byte
		size       int64 = -1
		start, end int64
		next       = first
	)
	params := RangeParams(blobChunkKey(prefix, first), blobChunkKey(prefix, last))
	err := s.store.Iterate(ctx, params, func(k, v []byte) (bool, error) {
		if len(k) != len(prefix)+4 {
			return false, dataErrf(k, len(prefix), nil, "malformed blob chunk key")
		}
		idx := binary.BigEndian.Uint32(k[len(prefix):])
		if idx != next {
			return false, internalErrf("get_blob", key, nil, "missing chunk %d", next)
		}
		raw, total, err := s.decodeChunk(v)
		if err != nil {
			return false, internalErrf("get_blob", key, err, "chunk %d", idx)
		}
		if size < 0 {
			size = total
			start, end = r.clip(size)
			out = make([]byte, 0, end-start)
		} else if total != size {
			return false, internalErrf("get_blob", key, nil, "chunk %d belongs to a %d byte blob, wanted %d", idx, total, size)
		}
		off := int64(idx) * blobChunkSize
		if want := min(blobChunkSize, size-off); int64(len(raw)) != want {
			return false, internalErrf("get_blob", key, nil, "chunk %d has %d bytes, wanted %d", idx, len(raw), want)
		}
		lo, hi := max(start, off), min(end, off+int64(len(raw)))
		if lo < hi {
			out = append(out, raw[lo-off:hi-off]...)
		}
		next++
		return off+int64(len(raw)) < end, nil
	})
	if err != nil {
		return nil, false, err
	}

	if size < 0 {
		// Nothing in range: the range lies past the end, the blob is gone, or
		// chunks are missing. Chunk 0 tells them apart.
		return s.emptyRead(ctx, key, prefix, r)
	}
	if int64(next)*blobChunkSize < end {
		return nil, false, internalErrf("get_blob", key, nil, "missing chunk %d", next)
	}
	countBlobBytes(BlobStoreKV, "read", len(out))
	return out, true, nil
}

func (s *KVBlobStore) emptyRead(ctx context.Context, key, prefix []byte, r BlobRange) ([]byte, bool, error) {
	v, err := s.store.GetRaw(ctx, blobChunkKey(prefix, 0))
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		exists, err := s.exists(ctx, prefix)
		if err != nil || !exists {
			return nil, false, err
		}
		return nil, false, internalErrf("get_blob", key, nil, "missing chunk 0")
	}
	_, size, err := s.decodeChunk(v)
	if err != nil {
		return nil, false, internalErrf("get_blob", key, err, "chunk 0")
	}
	if start, end := r.clip(size); start < end {
		return nil, false, internalErrf("get_blob", key, nil, "missing chunk %d", start/blobChunkSize)
	}
	return []byte{}, true, nil
}

func (s *KVBlobStore) exists(ctx context.Context, prefix []byte) (bool, error) {
	var found bool
	err := s.store.Iterate(ctx, PrefixParams(prefix).KeysOnly().FirstOnly(), func(_, _ []byte) (bool, error) {
		found = true
		return false, nil
	})
	return found, err
}

// chunkKeys lists the stored chunk keys of a blob starting at chunk from.
func (s *KVBlobStore) chunkKeys(ctx context.Context, prefix []byte, from uint32) ([][]byte, error) {
	var keys [][]byte
	params := RangeParams(blobChunkKey(prefix, from), successor(prefix)).KeysOnly()
	err := s.store.Iterate(ctx, params, func(k, _ []byte) (bool, error) {
		keys = append(keys, append([]byte(nil), k...))
		return true, nil
	})
	return keys, err
}

func (s *KVBlobStore) PutBlob(ctx context.Context, key []byte, data []byte) error {
	if int64(len(data)) > 1<<32-1 {
		return internalErrf("put_blob", key, nil, "blob of %d bytes is too large", len(data))
	}
	prefix := blobChunkPrefix(key)
	n := (len(data) + blobChunkSize - 1) / blobChunkSize
	if n == 0 {
		n = 1
	}

	stale, err := s.chunkKeys(ctx, prefix, uint32(n))
	if err != nil {
		return err
	}

	b := NewBatch()
	for i := 0; i < n; i++ {
		lo := i * blobChunkSize
		hi := min(lo+blobChunkSize, len(data))
		b.SetRaw(blobChunkKey(prefix, uint32(i)), s.encodeChunk(data[lo:hi], len(data)))
	}
	for _, k := range stale {
		b.DeleteRaw(k)
	}
	if err := s.store.Write(ctx, b); err != nil {
		return err
	}
	countBlobBytes(BlobStoreKV, "write", len(data))
	return nil
}

func (s *KVBlobStore) DeleteBlob(ctx context.Context, key []byte) (bool, error) {
	keys, err := s.chunkKeys(ctx, blobChunkPrefix(key), 0)
	if err != nil || len(keys) == 0 {
		return false, err
	}
	b := NewBatch()
	for _, k := range keys {
		b.DeleteRaw(k)
	}
	if err := s.store.Write(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}
