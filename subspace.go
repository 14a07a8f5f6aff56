package mailstore

import "fmt"

// Subspace bytes partition the whole keyspace. Every serialized key starts
// with exactly one of these. The values are persisted and must never change.
const (
	SubspaceBitmaps  byte = 'b'
	SubspaceValues   byte = 'v'
	SubspaceLogs     byte = 'l'
	SubspaceIndexes  byte = 'i'
	SubspaceBlobs    byte = 'o'
	SubspaceACLs     byte = 'a'
	SubspaceCounters byte = 'c'

	// SubspaceBlobData holds chunked blob bodies written by KVBlobStore.
	SubspaceBlobData byte = 't'
)

var subspaceNames = [...]struct {
	b    byte
	name string
}{
	{SubspaceBitmaps, "bitmaps"},
	{SubspaceValues, "values"},
	{SubspaceLogs, "logs"},
	{SubspaceIndexes, "indexes"},
	{SubspaceBlobs, "blobs"},
	{SubspaceACLs, "acls"},
	{SubspaceCounters, "counters"},
	{SubspaceBlobData, "blobdata"},
}

// Subspaces returns all registered subspace bytes in ascending byte order.
func Subspaces() []byte {
	return []byte{
		SubspaceACLs,
		SubspaceBitmaps,
		SubspaceCounters,
		SubspaceIndexes,
		SubspaceLogs,
		SubspaceBlobs,
		SubspaceBlobData,
		SubspaceValues,
	}
}

func SubspaceName(b byte) string {
	for _, s := range subspaceNames {
		if s.b == b {
			return s.name
		}
	}
	return fmt.Sprintf("unknown(0x%02x)", b)
}

func isSubspace(b byte) bool {
	for _, s := range subspaceNames {
		if s.b == b {
			return true
		}
	}
	return false
}
