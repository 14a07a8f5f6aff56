package mailstore

import (
	"bytes"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBuilder_Basics(t *testing.T) {
	kb := newKeyBuilder(0)
	kb.AppendByte(0x01)
	kb.AppendUint32(0x02030405)
	kb.AppendUint64(0x0102030405060708)
	kb.AppendVarBytes([]byte("hi"))
	kb.AppendRaw([]byte{0xAA})
	assert.Equal(t, x("01 02030405 0102030405060708 02 6869 aa"), kb.Buf)

	d := makeByteDecoder(kb.Buf)
	b, err := d.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)
	u32, err := d.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x02030405), u32)
	u64, err := d.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)
	vb, err := d.VarBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), vb)
	raw, err := d.Raw(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, raw)
	assert.NoError(t, d.End())
}

func TestEnsureCapacity(t *testing.T) {
	buf := ensureCapacity([]byte{1, 2}, 100)
	assert.GreaterOrEqual(t, cap(buf), 100)
	assert.Equal(t, []byte{1, 2}, buf)

	same := ensureCapacity(buf, 10)
	assert.Same(t, &buf[0], &same[0], "large enough buffers are reused")
}

func TestAppendEscaped_Format(t *testing.T) {
	tests := []struct {
		in   []byte
		want []byte
	}{
		{nil, x("0000")},
		{[]byte("a"), x("61 0000")},
		{[]byte{0}, x("00ff 0000")},
		{[]byte{'a', 0, 'b'}, x("61 00ff 62 0000")},
		{[]byte{0xFF, 0}, x("ff 00ff 0000")},
	}
	for _, tt := range tests {
		got := appendEscaped(nil, tt.in)
		assert.Equal(t, tt.want, got, "%x", tt.in)

		d := makeByteDecoder(got)
		back, err := d.Escaped()
		if assert.NoError(t, err, "%x", got) {
			assert.True(t, bytes.Equal(tt.in, back), "Escaped(%x) = %x", got, back)
			assert.Zero(t, d.Remaining())
		}
	}
}

func TestAppendEscaped_PreservesOrder(t *testing.T) {
	values := [][]byte{
		{},
		{0},
		{0, 0},
		{0, 1},
		{1},
		[]byte("a"),
		{'a', 0},
		{'a', 0, 0},
		[]byte("ab"),
		{'a', 0xFF},
		{0xFF},
		{0xFF, 0},
		{0xFF, 0xFF},
	}
	require.True(t, slices.IsSortedFunc(values, bytes.Compare))
	for i := 1; i < len(values); i++ {
		a := appendEscaped(nil, values[i-1])
		b := appendEscaped(nil, values[i])
		assert.Negative(t, bytes.Compare(a, b), "escaped %x vs %x", values[i-1], values[i])

		// a trailing suffix must not change the order either
		a = append(a, 0xFF, 0xFF)
		b = append(b, 0x00)
		assert.Negative(t, bytes.Compare(a, b), "escaped %x vs %x with suffix", values[i-1], values[i])
	}
}

func TestByteDecoder_Errors(t *testing.T) {
	t.Run("invalid uvarint", func(t *testing.T) {
		d := makeByteDecoder([]byte{0x80})
		_, err := d.Uvarint()
		assert.Error(t, err)
	})
	t.Run("short uint32", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2, 3})
		_, err := d.Uint32()
		var de *DataError
		assert.ErrorAs(t, err, &de)
		assert.ErrorIs(t, err, ErrInternal)
	})
	t.Run("varbytes too long", func(t *testing.T) {
		d := makeByteDecoder([]byte{5, 'a'})
		_, err := d.VarBytes()
		assert.Error(t, err)
	})
	t.Run("unterminated escape", func(t *testing.T) {
		d := makeByteDecoder([]byte{'a', 0})
		_, err := d.Escaped()
		assert.Error(t, err)
	})
	t.Run("bad escape", func(t *testing.T) {
		d := makeByteDecoder([]byte{'a', 0, 7, 0, 0})
		_, err := d.Escaped()
		assert.Error(t, err)
	})
	t.Run("trailing bytes", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2})
		_, _ = d.Byte()
		assert.Error(t, d.End())
	})
	t.Run("uvarint overflowing int", func(t *testing.T) {
		kb := newKeyBuilder(0)
		kb.AppendUvarint(math.MaxUint64)
		d := makeByteDecoder(kb.Buf)
		_, err := d.Uvarinti()
		assert.Error(t, err)
	})
}
