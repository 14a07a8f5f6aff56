package mailstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
)

// ResultSet is the outcome of evaluating a filter: Results is the matching
// subset of DocumentIDs, the universe the filter was evaluated against.
type ResultSet struct {
	AccountID   uint32
	Collection  uint8
	Results     *roaring.Bitmap
	DocumentIDs *roaring.Bitmap
}

// filterScope is one open And/Or/Not on the evaluation stack.
type filterScope struct {
	op Token
	// acc is the running result. For And, nil stands for "no child yet",
	// which is the universe.
	acc *roaring.Bitmap
	// skip is set once the outcome of the scope is decided (an And that
	// became empty) or when an enclosing scope is skipping.
	skip bool
}

func (sc *filterScope) merge(set *roaring.Bitmap) {
	switch sc.op {
	case And:
		if sc.acc == nil {
			sc.acc = set
		} else {
			sc.acc.And(set)
		}
		if sc.acc.IsEmpty() {
			sc.skip = true
		}
	case Or, Not:
		sc.acc.Or(set)
	}
}

func (sc *filterScope) result(universe *roaring.Bitmap) *roaring.Bitmap {
	switch sc.op {
	case And:
		if sc.acc == nil {
			return universe.Clone()
		}
		return sc.acc
	case Not:
		return roaring.AndNot(universe, sc.acc)
	default:
		return sc.acc
	}
}

func newFilterScope(op Token, skip bool) *filterScope {
	sc := &filterScope{op: op, skip: skip}
	if op != And {
		sc.acc = roaring.New()
	}
	return sc
}

// Filter evaluates a flat filter sequence against the live documents of a
// collection. Unbalanced sequences fail with ErrUnbalancedFilter before any
// data is read.
func (s *Store) Filter(ctx context.Context, accountID uint32, collection uint8, filters []Filter) (*ResultSet, error) {
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}
	universe, err := s.DocumentIDs(ctx, accountID, collection)
	if err != nil {
		return nil, err
	}

	q := &queryEval{s: s, accountID: accountID, collection: collection}
	stack := []*filterScope{newFilterScope(And, false)}
	for _, f := range filters {
		top := stack[len(stack)-1]
		switch f {
		case And, Or, Not:
			stack = append(stack, newFilterScope(f.(Token), top.skip))
			continue
		case End:
			stack = stack[:len(stack)-1]
			if parent := stack[len(stack)-1]; !parent.skip {
				parent.merge(top.result(universe))
			}
			continue
		}
		if top.skip {
			continue
		}
		set, err := q.leaf(ctx, f)
		if err != nil {
			return nil, err
		}
		top.merge(set)
	}

	results := stack[0].result(universe)
	results.And(universe)
	if s.verbose {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "filter", slog.Int("filters", len(filters)), slog.Uint64("results", results.GetCardinality()), slog.Uint64("universe", universe.GetCardinality()))
	}
	return &ResultSet{
		AccountID:   accountID,
		Collection:  collection,
		Results:     results,
		DocumentIDs: universe,
	}, nil
}

type queryEval struct {
	s          *Store
	accountID  uint32
	collection uint8
}

func (q *queryEval) leaf(ctx context.Context, f Filter) (*roaring.Bitmap, error) {
	switch f := f.(type) {
	case HasKeyword:
		return q.bitmap(ctx, TextToken{Field: f.Field, Token: f.Value})
	case HasKeywords:
		var words []string
		if f.Sep == "" {
			words = strings.Fields(f.Value)
		} else {
			words = strings.Split(f.Value, f.Sep)
		}
		var classes []BitmapClass
		for _, w := range uniqueStrings(words) {
			if w != "" {
				classes = append(classes, TextToken{Field: f.Field, Token: w})
			}
		}
		if len(classes) == 0 {
			return roaring.New(), nil
		}
		sets, err := q.bitmaps(ctx, classes)
		if err != nil {
			return nil, err
		}
		return roaring.FastOr(sets...), nil
	case MatchValue:
		return q.matchValue(ctx, f)
	case HasText:
		return q.text(ctx, f)
	case InBitmap:
		return q.bitmap(ctx, RawBitmap{Fam: f.Family, Field: f.Field, Key: f.Key})
	case DocumentSet:
		if f.Set == nil {
			return roaring.New(), nil
		}
		return f.Set.Clone(), nil
	default:
		return nil, internalErrf("filter", nil, nil, "unsupported filter %T", f)
	}
}

func (q *queryEval) bitmap(ctx context.Context, class BitmapClass) (*roaring.Bitmap, error) {
	return q.s.GetBitmap(ctx, q.accountID, q.collection, class)
}

// bitmaps fetches several bitmaps concurrently, preserving order.
func (q *queryEval) bitmaps(ctx context.Context, classes []BitmapClass) ([]*roaring.Bitmap, error) {
	sets := make([]*roaring.Bitmap, len(classes))
	if len(classes) == 1 {
		bm, err := q.bitmap(ctx, classes[0])
		sets[0] = bm
		return sets, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.s.concurrency)
	for i, class := range classes {
		g.Go(func() error {
			bm, err := q.bitmap(gctx, class)
			sets[i] = bm
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sets, nil
}

// matchRange returns the index key range holding the entries that satisfy
// the comparison.
func matchRange(prefix IndexKeyPrefix, op Operator, value []byte) (begin, end []byte) {
	p := prefix.Serialize(true)
	pv := appendEscaped(append([]byte(nil), p...), value)
	switch op {
	case Equal:
		return pv, successor(pv)
	case LowerThan:
		return p, pv
	case LowerEqualThan:
		return p, successor(pv)
	case GreaterThan:
		return successor(pv), successor(p)
	case GreaterEqualThan:
		return pv, successor(p)
	default:
		panic(fmt.Sprintf("unknown operator %v", op))
	}
}

func (q *queryEval) matchValue(ctx context.Context, f MatchValue) (*roaring.Bitmap, error) {
	begin, end := matchRange(IndexKeyPrefix{AccountID: q.accountID, Collection: q.collection, Field: f.Field}, f.Op, f.Value)
	result := roaring.New()
	params := IterateParams{Begin: begin, End: end, Ascending: true}
	err := q.s.Iterate(ctx, params, func(k, _ []byte) (bool, error) {
		doc, err := indexKeyDocumentID(k)
		if err != nil {
			return false, err
		}
		result.Add(doc)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// text matches every token of the query. A phrase, or a language without a
// stemmer, requires the exact tokens; otherwise a token also matches through
// its stem.
func (q *queryEval) text(ctx context.Context, f HasText) (*roaring.Bitmap, error) {
	tokens := uniqueStrings(Tokenize(f.Text))
	if len(tokens) == 0 {
		return roaring.New(), nil
	}
	var stemmer func(string) string
	if !f.MatchPhrase {
		stemmer = stemmerFor(f.Language)
	}

	classes := make([]BitmapClass, 0, 2*len(tokens))
	for _, tok := range tokens {
		classes = append(classes, TextToken{Field: f.Field, Token: tok})
		if stemmer != nil {
			classes = append(classes, StemToken{Field: f.Field, Token: stemmer(tok)})
		}
	}
	sets, err := q.bitmaps(ctx, classes)
	if err != nil {
		return nil, err
	}

	per := 1
	if stemmer != nil {
		per = 2
	}
	var result *roaring.Bitmap
	for i := 0; i < len(sets); i += per {
		tok := sets[i]
		if per == 2 {
			tok = roaring.Or(sets[i], sets[i+1])
		}
		if result == nil {
			result = tok
		} else {
			result.And(tok)
		}
		if result.IsEmpty() {
			break
		}
	}
	return result, nil
}
