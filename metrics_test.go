package mailstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics_Twice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, registerMetrics(reg))
	require.NoError(t, registerMetrics(reg))
	require.NoError(t, registerMetrics(nil))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "ok", resultLabel(nil))
	assert.Equal(t, "conflict", resultLabel(ErrAssertValueFailed))
	assert.Equal(t, "error", resultLabel(errors.New("x")))
}

func TestStore_CountsOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := Open(context.Background(), Config{Backend: BackendMemory}, Options{Registerer: reg})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	ok := OperationCount.WithLabelValues(BackendMemory, "write", "ok")
	conflict := OperationCount.WithLabelValues(BackendMemory, "write", "conflict")
	okBefore, conflictBefore := testutil.ToFloat64(ok), testutil.ToFloat64(conflict)

	key := ValueKey[Property]{AccountID: 1, Class: Property(1)}
	require.NoError(t, s.Set(ctx, key, []byte("a")))
	assert.True(t, IsAssertValueFailed(s.Write(ctx, NewBatch().Assert(key, []byte("b")))))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, conflictBefore+1, testutil.ToFloat64(conflict))

	n, err := testutil.GatherAndCount(reg, "mailstore_store_operations_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestPebbleCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := Open(context.Background(), Config{Backend: BackendPebble, Path: filepath.Join(t.TempDir(), "db"), NoSync: true}, Options{Registerer: reg})
	require.NoError(t, err)
	defer s.Close()

	n, err := testutil.GatherAndCount(reg, "mailstore_pebble_memtable_size_bytes", "mailstore_pebble_disk_usage_bytes")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
