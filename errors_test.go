package mailstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		assert.ErrorAs(t, err, &de)
		assert.ErrorIs(t, err, inner)
		assert.ErrorIs(t, err, ErrInternal)
		assert.ErrorContains(t, err, "oops")
		assert.ErrorContains(t, err, "inner")
		assert.ErrorContains(t, err, "(2)")
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		err := dataErrf(data, 0, nil, "oops")
		assert.ErrorContains(t, err, "(200)")
		assert.ErrorContains(t, err, "...")
	})
}

func TestError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := internalErrf("get", []byte{0xAB}, inner, "reading %d", 1)
	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, err, ErrInternal)
	assert.EqualError(t, err, "get ab: reading 1: inner")
	assert.EqualError(t, &Error{Op: "open", Err: inner}, "open: inner")
}

func TestInternalErrf_KeepsConflicts(t *testing.T) {
	wrapped := fmt.Errorf("commit: %w", ErrAssertValueFailed)
	err := internalErrf("write", nil, wrapped, "")
	assert.Same(t, wrapped, err)
	assert.NotErrorIs(t, err, ErrInternal)
	assert.True(t, IsAssertValueFailed(err))
}

func TestStore_WrapErr(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.wrapErr("get", nil, nil))
	assert.Equal(t, context.Canceled, s.wrapErr("get", nil, context.Canceled))

	err := s.wrapErr("get", []byte{1}, errors.New("disk on fire"))
	assert.ErrorIs(t, err, ErrInternal)
	assert.Same(t, err, s.wrapErr("get", nil, err), "internal errors are not wrapped twice")
}
