package mailstore

import (
	"context"
	"fmt"
)

// ChangeOp classifies a document change in the change log.
type ChangeOp int

const (
	OpNone   ChangeOp = 0
	OpInsert ChangeOp = 1
	OpUpdate ChangeOp = 2
	OpDelete ChangeOp = 3
)

func (v ChangeOp) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("ChangeOp(%d)", int(v))
	}
}

// ChangeLogEntry lists the documents a change touched.
type ChangeLogEntry struct {
	Inserted []uint32 `msgpack:"i,omitempty"`
	Updated  []uint32 `msgpack:"u,omitempty"`
	Deleted  []uint32 `msgpack:"d,omitempty"`
}

// Record appends a document change to the entry.
func (e *ChangeLogEntry) Record(op ChangeOp, documentID uint32) {
	switch op {
	case OpInsert:
		e.Inserted = append(e.Inserted, documentID)
	case OpUpdate:
		e.Updated = append(e.Updated, documentID)
	case OpDelete:
		e.Deleted = append(e.Deleted, documentID)
	}
}

func (e *ChangeLogEntry) IsEmpty() bool {
	return len(e.Inserted) == 0 && len(e.Updated) == 0 && len(e.Deleted) == 0
}

// Change is a change log entry together with its id.
type Change struct {
	ChangeID uint64
	ChangeLogEntry
}

// Changes returns up to limit entries with ids greater than afterChangeID,
// oldest first. A zero limit returns all of them, a negative one none.
func (s *Store) Changes(ctx context.Context, accountID uint32, collection uint8, afterChangeID uint64, limit int) ([]Change, error) {
	if afterChangeID == ^uint64(0) || limit < 0 {
		return nil, nil
	}
	prefix := logPrefix(accountID, collection)
	begin := LogKey{AccountID: accountID, Collection: collection, ChangeID: afterChangeID + 1}.Serialize(true)
	var changes []Change
	err := s.Iterate(ctx, RangeParams(begin, successor(prefix)), func(k, v []byte) (bool, error) {
		key, err := DecodeLogKey(k)
		if err != nil {
			return false, err
		}
		var entry MsgPack[ChangeLogEntry]
		if err := entry.Deserialize(v); err != nil {
			return false, err
		}
		changes = append(changes, Change{ChangeID: key.ChangeID, ChangeLogEntry: entry.V})
		return limit == 0 || len(changes) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// LastChangeID returns the id of the newest change log entry; ok is false
// when the log is empty.
func (s *Store) LastChangeID(ctx context.Context, accountID uint32, collection uint8) (id uint64, ok bool, err error) {
	prefix := logPrefix(accountID, collection)
	err = s.Iterate(ctx, PrefixParams(prefix).Reversed().KeysOnly().FirstOnly(), func(k, _ []byte) (bool, error) {
		key, err := DecodeLogKey(k)
		if err != nil {
			return false, err
		}
		id, ok = key.ChangeID, true
		return false, nil
	})
	return id, ok, err
}
