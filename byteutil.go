package mailstore

import (
	"encoding/binary"
	"math"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

// keyBuilder appends fixed-width big-endian fields and self-delimiting
// variable fields, so that byte order follows field order.
type keyBuilder struct {
	Buf []byte
}

func newKeyBuilder(capacity int) keyBuilder {
	return keyBuilder{make([]byte, 0, capacity)}
}

func (kb *keyBuilder) Grow(n int) (off int) {
	off, kb.Buf = grow(kb.Buf, n)
	return
}

func (kb *keyBuilder) AppendByte(v byte) {
	off := kb.Grow(1)
	kb.Buf[off] = v
}

func (kb *keyBuilder) AppendRaw(v []byte) {
	off := kb.Grow(len(v))
	copy(kb.Buf[off:], v)
}

func (kb *keyBuilder) AppendUint32(v uint32) {
	off := kb.Grow(4)
	binary.BigEndian.PutUint32(kb.Buf[off:], v)
}

func (kb *keyBuilder) AppendUint64(v uint64) {
	off := kb.Grow(8)
	binary.BigEndian.PutUint64(kb.Buf[off:], v)
}

func (kb *keyBuilder) AppendUvarint(v uint64) {
	off := kb.Grow(binary.MaxVarintLen64)
	n := binary.PutUvarint(kb.Buf[off:], v)
	kb.Buf = kb.Buf[:off+n]
}

// AppendVarBytes writes a uvarint length followed by the bytes.
func (kb *keyBuilder) AppendVarBytes(v []byte) {
	kb.AppendUvarint(uint64(len(v)))
	kb.AppendRaw(v)
}

// AppendEscaped writes v with every 0x00 replaced by 0x00 0xFF, followed by
// the 0x00 0x00 terminator. Preserves the lexicographic order of raw values,
// including the case where one value is a prefix of another.
func (kb *keyBuilder) AppendEscaped(v []byte) {
	kb.Buf = appendEscaped(kb.Buf, v)
}

func appendEscaped(buf []byte, v []byte) []byte {
	n := len(v) + 2
	for _, b := range v {
		if b == 0 {
			n++
		}
	}
	off, buf := grow(buf, n)
	for _, b := range v {
		buf[off] = b
		off++
		if b == 0 {
			buf[off] = 0xFF
			off++
		}
	}
	buf[off] = 0
	buf[off+1] = 0
	return buf
}

type byteDecoder struct {
	Orig []byte
	Buf  []byte
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{buf, buf}
}

func (d *byteDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *byteDecoder) Remaining() int {
	return len(d.Buf)
}

func (d *byteDecoder) Byte() (byte, error) {
	if len(d.Buf) < 1 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "not enough data: wanted 1 byte")
	}
	v := d.Buf[0]
	d.Buf = d.Buf[1:]
	return v, nil
}

func (d *byteDecoder) Uint32() (uint32, error) {
	raw, err := d.Raw(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (d *byteDecoder) Uint64() (uint64, error) {
	raw, err := d.Raw(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (d *byteDecoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.Buf)
	if n <= 0 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "invalid uvarint")
	}
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) Uvarinti() (int, error) {
	v, err := d.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt {
		return 0, dataErrf(d.Orig, d.Off(), nil, "value does not fit into int: %d", v)
	}
	return int(v), nil
}

func (d *byteDecoder) Raw(n int) ([]byte, error) {
	if len(d.Buf) < n {
		return nil, dataErrf(d.Orig, d.Off(), nil, "not enough data: %d bytes remaining, %d wanted", len(d.Buf), n)
	}
	v := d.Buf[:n]
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) VarBytes() ([]byte, error) {
	n, err := d.Uvarinti()
	if err != nil {
		return nil, err
	}
	return d.Raw(n)
}

// Escaped reads a value written by appendEscaped, returning the unescaped
// bytes (a fresh slice).
func (d *byteDecoder) Escaped() ([]byte, error) {
	var out []byte
	buf := d.Buf
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if b != 0 {
			out = append(out, b)
			continue
		}
		if i+1 >= len(buf) {
			break
		}
		switch buf[i+1] {
		case 0xFF:
			out = append(out, 0)
			i++
		case 0x00:
			d.Buf = buf[i+2:]
			if out == nil {
				out = []byte{}
			}
			return out, nil
		default:
			return nil, dataErrf(d.Orig, d.Off()+i, nil, "invalid escape sequence 00 %02x", buf[i+1])
		}
	}
	return nil, dataErrf(d.Orig, d.Off(), nil, "unterminated escaped value")
}

func (d *byteDecoder) End() error {
	if len(d.Buf) != 0 {
		return dataErrf(d.Orig, d.Off(), nil, "%d trailing bytes", len(d.Buf))
	}
	return nil
}
