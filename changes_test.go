package mailstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		_, ok, err := s.LastChangeID(ctx, 1, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		b := NewBatch().WithAccount(1).WithCollection(1)
		for _, id := range []uint64{1, 2, 3, 5} {
			var e ChangeLogEntry
			e.Record(OpInsert, uint32(id*10))
			e.Record(OpUpdate, 7)
			if id == 5 {
				e.Record(OpDelete, 8)
			}
			b.LogChange(id, e)
		}
		b.WithCollection(2).LogChange(9, ChangeLogEntry{Inserted: []uint32{1}})
		require.NoError(t, s.Write(ctx, b))

		changes, err := s.Changes(ctx, 1, 1, 0, 0)
		require.NoError(t, err)
		require.Len(t, changes, 4)
		assert.Equal(t, uint64(1), changes[0].ChangeID)
		assert.Equal(t, []uint32{10}, changes[0].Inserted)
		assert.Equal(t, []uint32{7}, changes[0].Updated)
		assert.Empty(t, changes[0].Deleted)
		assert.Equal(t, uint64(5), changes[3].ChangeID)
		assert.Equal(t, []uint32{8}, changes[3].Deleted)

		changes, err = s.Changes(ctx, 1, 1, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, []uint64{3, 5}, changeIDs(changes))

		changes, err = s.Changes(ctx, 1, 1, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2}, changeIDs(changes))

		changes, err = s.Changes(ctx, 1, 1, 0, -1)
		require.NoError(t, err)
		assert.Empty(t, changes)

		changes, err = s.Changes(ctx, 1, 1, 5, 0)
		require.NoError(t, err)
		assert.Empty(t, changes)

		changes, err = s.Changes(ctx, 1, 1, ^uint64(0), 0)
		require.NoError(t, err)
		assert.Empty(t, changes)

		id, ok, err := s.LastChangeID(ctx, 1, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(5), id)

		id, ok, err = s.LastChangeID(ctx, 1, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(9), id)
	})
}

func changeIDs(changes []Change) []uint64 {
	var ids []uint64
	for _, c := range changes {
		ids = append(ids, c.ChangeID)
	}
	return ids
}

func TestChangeLogEntry(t *testing.T) {
	var e ChangeLogEntry
	assert.True(t, e.IsEmpty())
	e.Record(OpNone, 1)
	assert.True(t, e.IsEmpty())
	e.Record(OpDelete, 1)
	assert.False(t, e.IsEmpty())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "ChangeOp(9)", ChangeOp(9).String())
}
