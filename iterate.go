package mailstore

import (
	"bytes"
	"context"
	"log/slog"
)

const (
	debugLogRawScans = false
)

// IterateParams describes a range scan over serialized keys (subspace byte
// included). The range is half-open: Begin <= key < End. A nil End means no
// upper bound.
type IterateParams struct {
	Begin []byte
	End   []byte

	// First stops the scan after the first matching key.
	First bool
	// Ascending scans from Begin upwards; otherwise from End downwards.
	Ascending bool
	// Values requests value bytes; when false the callback gets nil values.
	Values bool
}

// IterateFunc receives each key in range. Both slices are only valid for the
// duration of the call. Returning false stops the scan.
type IterateFunc func(key, value []byte) (bool, error)

// PrefixParams scans every key starting with prefix, in ascending order, with
// values.
func PrefixParams(prefix []byte) IterateParams {
	return IterateParams{Begin: prefix, End: successor(prefix), Ascending: true, Values: true}
}

// RangeParams scans [begin, end) in ascending order with values.
func RangeParams(begin, end []byte) IterateParams {
	return IterateParams{Begin: begin, End: end, Ascending: true, Values: true}
}

func (p IterateParams) Reversed() IterateParams  { p.Ascending = !p.Ascending; return p }
func (p IterateParams) KeysOnly() IterateParams  { p.Values = false; return p }
func (p IterateParams) FirstOnly() IterateParams { p.First = true; return p }

func (p *IterateParams) contains(k []byte) bool {
	if bytes.Compare(k, p.Begin) < 0 {
		return false
	}
	if p.End != nil && bytes.Compare(k, p.End) >= 0 {
		return false
	}
	return true
}

func (p *IterateParams) start(c storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if p.Ascending {
		if p.Begin != nil {
			k, v = c.Seek(p.Begin)
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to begin", hexAttr("begin", p.Begin), hexAttr("key", k))
			}
		} else {
			k, v = c.First()
		}
	} else {
		if p.End != nil {
			k, v = c.SeekBefore(p.End)
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK before end", hexAttr("end", p.End), hexAttr("key", k))
			}
		} else {
			k, v = c.Last()
		}
	}
	if k != nil && p.contains(k) {
		return k, v
	}
	return nil, nil
}

func (p *IterateParams) next(c storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	if p.Ascending {
		k, v = c.Next()
	} else {
		k, v = c.Prev()
	}
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "STEP", hexAttr("key", k))
	}
	if k != nil && p.contains(k) {
		return k, v
	}
	return nil, nil
}

// scanCursor drives fn over the cursor according to p, checking ctx between
// items.
func scanCursor(ctx context.Context, c storageCursor, p IterateParams, logger *slog.Logger, fn IterateFunc) error {
	for k, v := p.start(c, logger); k != nil; k, v = p.next(c, logger) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.Values {
			v = nil
		} else if v == nil {
			v = []byte{}
		}
		more, err := fn(k, v)
		if err != nil {
			return err
		}
		if !more || p.First {
			break
		}
	}
	return nil
}
