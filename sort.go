package mailstore

import (
	"bytes"
	"context"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// Comparator is one sort criterion.
type Comparator interface {
	isComparator()
}

// CompareField sorts by the sorted index entries of Field. A document with
// several entries sorts by the first one met in scan direction; documents
// without entries come last, in id order.
type CompareField struct {
	Field     uint8
	Ascending bool
}

// CompareDocumentSet replays a precomputed order (e.g. relevance ranking).
// Ascending false reverses it. Documents missing from IDs come last, in id
// order.
type CompareDocumentSet struct {
	IDs       []uint32
	Ascending bool
}

func (CompareField) isComparator()       {}
func (CompareDocumentSet) isComparator() {}

// Pagination selects a window of a sorted result.
type Pagination struct {
	// Limit caps the number of returned ids; zero means no limit.
	Limit int

	// Position is the zero-based index of the first id to return when there
	// is no anchor. Negative values count from the end.
	Position int

	// Anchor, when HasAnchor is set, is the id the window is relative to: the
	// ids right after it, or right before it when Backward.
	Anchor    uint32
	HasAnchor bool
	Backward  bool
}

// SortedResultRet is one page of a sorted result.
type SortedResultRet struct {
	// Position is the zero-based index of IDs[0] in the full sorted
	// sequence.
	Position int
	IDs      []uint32
	// FoundAnchor reports whether the anchor was found; without an anchor
	// it is false.
	FoundAnchor bool
	// Total is the number of documents in the sorted sequence.
	Total int
}

// paginator consumes ids in sorted order and keeps the requested window.
type paginator struct {
	p     Pagination
	total int
	start int
	idx   int
	ids   []uint32
	found bool
	done  bool

	// backward paging keeps the last Limit ids before the anchor
	ring     []uint32
	ringNext int
	ringFull bool
	position int
}

func newPaginator(p Pagination, total int) *paginator {
	pg := &paginator{p: p, total: total}
	if !p.HasAnchor {
		pg.start = p.Position
		if pg.start < 0 {
			pg.start = max(0, total+pg.start)
		}
		pg.position = pg.start
	}
	if p.HasAnchor && p.Backward && p.Limit > 0 {
		pg.ring = make([]uint32, p.Limit)
	}
	return pg
}

func (pg *paginator) full() bool {
	return pg.p.Limit > 0 && len(pg.ids) >= pg.p.Limit
}

// add feeds the next id; it returns false once the window is complete.
func (pg *paginator) add(id uint32) bool {
	if pg.done {
		return false
	}
	idx := pg.idx
	pg.idx++

	switch {
	case !pg.p.HasAnchor:
		if idx >= pg.start {
			pg.ids = append(pg.ids, id)
		}
	case pg.p.Backward:
		if id == pg.p.Anchor {
			pg.found = true
			pg.ids = pg.ringContents()
			pg.position = idx - len(pg.ids)
			pg.done = true
			return false
		}
		if pg.ring != nil {
			pg.ring[pg.ringNext] = id
			pg.ringNext++
			if pg.ringNext == len(pg.ring) {
				pg.ringNext, pg.ringFull = 0, true
			}
		} else {
			pg.ids = append(pg.ids, id)
		}
	default:
		if pg.found {
			pg.ids = append(pg.ids, id)
		} else if id == pg.p.Anchor {
			pg.found = true
			pg.position = idx + 1
		}
	}
	if pg.p.HasAnchor && !pg.found {
		return true
	}
	if pg.full() {
		pg.done = true
		return false
	}
	return true
}

func (pg *paginator) ringContents() []uint32 {
	if pg.ring == nil {
		return pg.ids
	}
	if !pg.ringFull {
		return slices.Clone(pg.ring[:pg.ringNext])
	}
	out := make([]uint32, 0, len(pg.ring))
	out = append(out, pg.ring[pg.ringNext:]...)
	return append(out, pg.ring[:pg.ringNext]...)
}

func (pg *paginator) result() SortedResultRet {
	r := SortedResultRet{Total: pg.total}
	if pg.p.HasAnchor {
		r.FoundAnchor = pg.found
		if !pg.found {
			return r
		}
	}
	r.Position = pg.position
	r.IDs = pg.ids
	if r.IDs == nil {
		r.IDs = []uint32{}
	}
	return r
}

// Sort orders rs.Results by the comparators and returns the requested page.
// With no comparators the order is by document id. A single comparator is
// evaluated by streaming and stops as soon as the page is complete.
func (s *Store) Sort(ctx context.Context, rs *ResultSet, comparators []Comparator, p Pagination) (SortedResultRet, error) {
	total := int(rs.Results.GetCardinality())
	pg := newPaginator(p, total)

	switch {
	case len(comparators) == 0:
		it := rs.Results.Iterator()
		for it.HasNext() && pg.add(it.Next()) {
		}
		return pg.result(), nil

	case len(comparators) == 1:
		seen := roaring.New()
		var err error
		switch c := comparators[0].(type) {
		case CompareField:
			err = s.scanFieldOrder(ctx, rs, c, func(doc uint32) bool {
				if !seen.CheckedAdd(doc) {
					return true
				}
				return pg.add(doc)
			})
		case CompareDocumentSet:
			forEachInOrder(c.IDs, c.Ascending, func(doc uint32) bool {
				if !rs.Results.Contains(doc) || !seen.CheckedAdd(doc) {
					return true
				}
				return pg.add(doc)
			})
		}
		if err != nil {
			return SortedResultRet{}, err
		}
		if !pg.done {
			it := roaring.AndNot(rs.Results, seen).Iterator()
			for it.HasNext() && pg.add(it.Next()) {
			}
		}
		return pg.result(), nil

	default:
		ids, err := s.sortByRanks(ctx, rs, comparators)
		if err != nil {
			return SortedResultRet{}, err
		}
		for _, id := range ids {
			if !pg.add(id) {
				break
			}
		}
		return pg.result(), nil
	}
}

func forEachInOrder(ids []uint32, ascending bool, fn func(uint32) bool) {
	if ascending {
		for _, id := range ids {
			if !fn(id) {
				return
			}
		}
	} else {
		for i := len(ids) - 1; i >= 0; i-- {
			if !fn(ids[i]) {
				return
			}
		}
	}
}

// scanFieldOrder walks the field's index in comparator order, reporting each
// entry that belongs to rs.Results. Entries are reported per (value,
// document), so a multi-valued document shows up several times.
func (s *Store) scanFieldOrder(ctx context.Context, rs *ResultSet, c CompareField, fn func(doc uint32) bool) error {
	begin, end := IndexKeyPrefix{AccountID: rs.AccountID, Collection: rs.Collection, Field: c.Field}.Range()
	params := IterateParams{Begin: begin, End: end, Ascending: c.Ascending}
	return s.Iterate(ctx, params, func(k, _ []byte) (bool, error) {
		doc, err := indexKeyDocumentID(k)
		if err != nil {
			return false, err
		}
		if !rs.Results.Contains(doc) {
			return true, nil
		}
		return fn(doc), nil
	})
}

// sortByRanks materializes, for every comparator, the rank of each document
// (equal sort values share a rank) and sorts by the rank tuples, breaking
// ties by document id.
func (s *Store) sortByRanks(ctx context.Context, rs *ResultSet, comparators []Comparator) ([]uint32, error) {
	ranks := make([]map[uint32]int, len(comparators))
	for i, cmp := range comparators {
		rank := make(map[uint32]int)
		switch c := cmp.(type) {
		case CompareField:
			var prev []byte
			var r int
			begin, end := IndexKeyPrefix{AccountID: rs.AccountID, Collection: rs.Collection, Field: c.Field}.Range()
			params := IterateParams{Begin: begin, End: end, Ascending: c.Ascending}
			err := s.Iterate(ctx, params, func(k, _ []byte) (bool, error) {
				doc, err := indexKeyDocumentID(k)
				if err != nil {
					return false, err
				}
				value := k[len(begin) : len(k)-4]
				if prev == nil || !bytes.Equal(prev, value) {
					r++
					prev = append(prev[:0], value...)
				}
				if _, ok := rank[doc]; !ok && rs.Results.Contains(doc) {
					rank[doc] = r
				}
				return true, nil
			})
			if err != nil {
				return nil, err
			}
		case CompareDocumentSet:
			var r int
			forEachInOrder(c.IDs, c.Ascending, func(doc uint32) bool {
				if _, ok := rank[doc]; !ok {
					r++
					rank[doc] = r
				}
				return true
			})
		}
		ranks[i] = rank
	}

	ids := rs.Results.ToArray()
	rankOf := func(i int, doc uint32) int {
		if r, ok := ranks[i][doc]; ok {
			return r
		}
		return math.MaxInt
	}
	slices.SortStableFunc(ids, func(a, b uint32) int {
		for i := range ranks {
			ra, rb := rankOf(i, a), rankOf(i, b)
			if ra != rb {
				if ra < rb {
					return -1
				}
				return 1
			}
		}
		if a < b {
			return -1
		} else if a > b {
			return 1
		}
		return 0
	})
	return ids, nil
}
