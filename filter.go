package mailstore

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// Operator compares an indexed value against a constant.
type Operator uint8

const (
	LowerThan Operator = iota
	LowerEqualThan
	GreaterThan
	GreaterEqualThan
	Equal
)

func (op Operator) String() string {
	switch op {
	case LowerThan:
		return "<"
	case LowerEqualThan:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterEqualThan:
		return ">="
	case Equal:
		return "="
	default:
		return fmt.Sprintf("Operator(%d)", uint8(op))
	}
}

// Filter is one element of a flat filter sequence. Leaves contribute a set of
// documents; the And, Or and Not tokens open a scope that the next End token
// closes. The top level of a sequence is an implicit And.
type Filter interface {
	isFilter()
}

// HasKeyword matches documents indexed with the exact keyword.
type HasKeyword struct {
	Field uint8
	Value string
}

// HasKeywords matches documents indexed with any of the keywords in Value.
// Sep separates the keywords; an empty Sep splits on whitespace.
type HasKeywords struct {
	Field uint8
	Value string
	Sep   string
}

// MatchValue compares the sorted index entries of Field with Value.
type MatchValue struct {
	Field uint8
	Op    Operator
	Value []byte
}

// HasText is a full-text match over tokens indexed with IndexText.
type HasText struct {
	Field       uint8
	Text        string
	Language    Language
	MatchPhrase bool
}

// InBitmap tests membership in any bitmap, addressed like RawBitmap.
type InBitmap struct {
	Family byte
	Field  uint8
	Key    []byte
}

// DocumentSet intersects with a caller-supplied set.
type DocumentSet struct {
	Set *roaring.Bitmap
}

// Token is a structural element of a filter sequence.
type Token uint8

const (
	And Token = iota + 1
	Or
	Not
	End
)

func (t Token) String() string {
	switch t {
	case And:
		return "And"
	case Or:
		return "Or"
	case Not:
		return "Not"
	case End:
		return "End"
	default:
		return fmt.Sprintf("Token(%d)", uint8(t))
	}
}

func (HasKeyword) isFilter()  {}
func (HasKeywords) isFilter() {}
func (MatchValue) isFilter()  {}
func (HasText) isFilter()     {}
func (InBitmap) isFilter()    {}
func (DocumentSet) isFilter() {}
func (Token) isFilter()       {}

func NewCondition(field uint8, op Operator, value []byte) Filter {
	return MatchValue{Field: field, Op: op, Value: value}
}

func Eq(field uint8, value []byte) Filter { return NewCondition(field, Equal, value) }
func Lt(field uint8, value []byte) Filter { return NewCondition(field, LowerThan, value) }
func Le(field uint8, value []byte) Filter { return NewCondition(field, LowerEqualThan, value) }
func Gt(field uint8, value []byte) Filter { return NewCondition(field, GreaterThan, value) }
func Ge(field uint8, value []byte) Filter { return NewCondition(field, GreaterEqualThan, value) }

// MatchText builds a full-text filter from user input, detecting the
// language with WhatlangDetector. See MatchTextWith.
func MatchText(field uint8, text string, lang Language) HasText {
	return MatchTextWith(WhatlangDetector{}, field, text, lang)
}

// MatchTextWith builds a full-text filter from user input:
//
//   - text wrapped in matching double or single quotes is an exact phrase,
//     language kept as given;
//   - otherwise, with no language given, a "xx:" prefix naming a known
//     two-letter language selects it and is stripped;
//   - otherwise, with no language given, the detector's guess is used when
//     its confidence exceeds 0.3.
func MatchTextWith(detector LanguageDetector, field uint8, text string, lang Language) HasText {
	if isQuoted(text) {
		return HasText{Field: field, Text: text, Language: lang, MatchPhrase: true}
	}
	if lang == LanguageUnknown {
		if prefix, rest, ok := strings.Cut(text, ":"); ok {
			if l, ok := ParseLanguage(prefix); ok {
				return HasText{Field: field, Text: rest, Language: l}
			}
		}
		if detector != nil {
			if l, confidence := detector.Detect(text); confidence > minDetectionConfidence {
				lang = l
			}
		}
	}
	return HasText{Field: field, Text: text, Language: lang}
}

// isQuoted also accepts a lone quote character, which both starts and ends
// the text.
func isQuoted(text string) bool {
	if text == "" {
		return false
	}
	first, last := text[0], text[len(text)-1]
	return first == last && (first == '"' || first == '\'')
}

// ValidateFilters checks that every And, Or and Not token is closed by
// exactly one End at the same depth.
func ValidateFilters(filters []Filter) error {
	var depth int
	for i, f := range filters {
		switch f {
		case And, Or, Not:
			depth++
		case End:
			if depth == 0 {
				return fmt.Errorf("%w: End at %d closes nothing", ErrUnbalancedFilter, i)
			}
			depth--
		default:
			if t, ok := f.(Token); ok {
				return fmt.Errorf("%w: unknown %v at %d", ErrUnbalancedFilter, t, i)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: %d scopes left open", ErrUnbalancedFilter, depth)
	}
	return nil
}
