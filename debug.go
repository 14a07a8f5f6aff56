package mailstore

import (
	"context"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeaders = DumpFlags(1 << iota)
	DumpKeys
	DumpValues

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var dumpSep = strings.Repeat("=", 80)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the keys under prefix (the whole keyspace when prefix is
// empty) grouped by subspace, for tests and debugging. Backends that
// partition the keyspace, like DynamoDB, need a prefix at least as long as
// their partition key.
func (s *Store) Dump(ctx context.Context, prefix []byte, f DumpFlags) (string, error) {
	var buf strings.Builder
	params := PrefixParams(prefix)
	if len(prefix) == 0 {
		params = IterateParams{Ascending: true, Values: true}
	}
	cur := -1
	var n int
	err := s.Iterate(ctx, params, func(k, v []byte) (bool, error) {
		if int(k[0]) != cur {
			cur = int(k[0])
			if f.Contains(DumpHeaders) {
				fmt.Fprintln(&buf, dumpSep)
				fmt.Fprintf(&buf, "%s\n", SubspaceName(k[0]))
			}
		}
		n++
		if f.Contains(DumpKeys) {
			fmt.Fprintf(&buf, "%s", describeKey(k))
			if f.Contains(DumpValues) {
				fmt.Fprintf(&buf, " = %s", hexstr(v))
			}
			buf.WriteByte('\n')
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if f.Contains(DumpHeaders) {
		fmt.Fprintf(&buf, "%d keys\n", n)
	}
	return buf.String(), nil
}

// describeKey decodes the keys whose layout is fully known and falls back to
// hex for the rest.
func describeKey(k []byte) string {
	switch k[0] {
	case SubspaceIndexes:
		if ik, err := DecodeIndexKey(k); err == nil {
			return fmt.Sprintf("index acct=%d coll=%d field=%d key=%q doc=%d", ik.AccountID, ik.Collection, ik.Field, ik.Key, ik.DocumentID)
		}
	case SubspaceLogs:
		if lk, err := DecodeLogKey(k); err == nil {
			return fmt.Sprintf("log acct=%d coll=%d change=%d", lk.AccountID, lk.Collection, lk.ChangeID)
		}
	case SubspaceBlobs:
		if bk, err := DecodeBlobKey(k); err == nil {
			return fmt.Sprintf("blob acct=%d coll=%d doc=%d hash=%s op=%v", bk.AccountID, bk.Collection, bk.DocumentID, bk.Hash, bk.Op)
		}
	case SubspaceValues, SubspaceACLs, SubspaceCounters:
		if doc, err := DecodeValueKeyDocument(k); err == nil {
			return fmt.Sprintf("%s doc=%d %s", SubspaceName(k[0]), doc, hexstr(k))
		}
	}
	return fmt.Sprintf("%s %s", SubspaceName(k[0]), hexstr(k))
}
