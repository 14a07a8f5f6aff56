package mailstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	s := openTestStore(t, BackendMemory)
	ctx := context.Background()
	b := NewBatch().WithAccount(1).WithCollection(2).CreateDocument(3).
		SetValue(Property(1), String("subject")).
		SetIndex(4, []byte("key")).
		LogChange(5, ChangeLogEntry{Inserted: []uint32{3}})
	require.NoError(t, s.Write(ctx, b))

	out, err := s.Dump(ctx, nil, DumpAll)
	require.NoError(t, err)
	assert.Contains(t, out, "bitmaps\n")
	assert.Contains(t, out, `index acct=1 coll=2 field=4 key="key" doc=3`)
	assert.Contains(t, out, "log acct=1 coll=2 change=5")
	assert.Contains(t, out, "values doc=3")
	assert.Contains(t, out, "= 7375626a656374")
	assert.True(t, strings.HasSuffix(out, "4 keys\n"), out)

	// bitmaps < indexes < logs < values
	assert.Less(t, strings.Index(out, "bitmaps"), strings.Index(out, "indexes"))
	assert.Less(t, strings.Index(out, "indexes"), strings.Index(out, "logs"))
	assert.Less(t, strings.Index(out, "logs"), strings.Index(out, "values"))

	out, err = s.Dump(ctx, []byte{SubspaceIndexes}, DumpKeys)
	require.NoError(t, err)
	assert.Equal(t, "index acct=1 coll=2 field=4 key=\"key\" doc=3\n", out)
}

func TestDump_DynamoNeedsPartition(t *testing.T) {
	s := openTestStore(t, BackendDynamoDB)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, NewBatch().WithAccount(1).CreateDocument(1)))

	_, err := s.Dump(ctx, nil, DumpAll)
	assert.ErrorIs(t, err, ErrInternal)

	out, err := s.Dump(ctx, x("62 00000001"), DumpHeaders|DumpKeys)
	require.NoError(t, err)
	assert.Contains(t, out, "1 keys")
}

func TestDumpFlags(t *testing.T) {
	assert.True(t, DumpAll.Contains(DumpValues))
	assert.True(t, (DumpKeys | DumpValues).Contains(DumpKeys))
	assert.False(t, DumpKeys.Contains(DumpKeys|DumpValues))
}
