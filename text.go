package mailstore

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	"github.com/kljensen/snowball"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Language is an ISO 639-1 code. LanguageUnknown disables stemming.
type Language string

const (
	LanguageUnknown   Language = ""
	LanguageEnglish   Language = "en"
	LanguageSpanish   Language = "es"
	LanguageFrench    Language = "fr"
	LanguageRussian   Language = "ru"
	LanguageSwedish   Language = "sv"
	LanguageNorwegian Language = "no"
	LanguageHungarian Language = "hu"
	LanguageGerman    Language = "de"
)

// minDetectionConfidence is the confidence a detected language must exceed
// to be used.
const minDetectionConfidence = 0.3

// ParseLanguage recognizes a known two-letter language code.
func ParseLanguage(code string) (Language, bool) {
	if len(code) != 2 {
		return LanguageUnknown, false
	}
	base, err := language.ParseBase(strings.ToLower(code))
	if err != nil {
		return LanguageUnknown, false
	}
	s := base.String()
	if len(s) != 2 {
		return LanguageUnknown, false
	}
	return Language(s), true
}

// LanguageDetector guesses the language of a text.
type LanguageDetector interface {
	Detect(text string) (lang Language, confidence float64)
}

// WhatlangDetector is the default detector, backed by whatlanggo's trigram
// models. Only languages listed in detectableLanguages are considered, so
// close relatives without a stemmer (Bulgarian for Russian) never win.
type WhatlangDetector struct{}

var detectableLanguages = map[whatlanggo.Lang]Language{
	whatlanggo.Eng: LanguageEnglish,
	whatlanggo.Spa: LanguageSpanish,
	whatlanggo.Fra: LanguageFrench,
	whatlanggo.Rus: LanguageRussian,
	whatlanggo.Swe: LanguageSwedish,
	whatlanggo.Nob: LanguageNorwegian,
	whatlanggo.Hun: LanguageHungarian,
	whatlanggo.Deu: LanguageGerman,
}

var detectOptions = func() whatlanggo.Options {
	wl := make(map[whatlanggo.Lang]bool, len(detectableLanguages))
	for l := range detectableLanguages {
		wl[l] = true
	}
	return whatlanggo.Options{Whitelist: wl}
}()

func (WhatlangDetector) Detect(text string) (Language, float64) {
	info := whatlanggo.DetectWithOptions(text, detectOptions)
	lang, ok := detectableLanguages[info.Lang]
	if !ok || info.Confidence <= 0 {
		return LanguageUnknown, 0
	}
	return lang, info.Confidence
}

// Tokenize splits text into lowercase runs of letters and digits after NFKC
// normalization.
func Tokenize(text string) []string {
	text = strings.ToLower(norm.NFKC.String(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var snowballLanguages = map[Language]string{
	LanguageEnglish:   "english",
	LanguageSpanish:   "spanish",
	LanguageFrench:    "french",
	LanguageRussian:   "russian",
	LanguageSwedish:   "swedish",
	LanguageNorwegian: "norwegian",
	LanguageHungarian: "hungarian",
}

// stemmerFor returns nil when lang has no stemmer.
func stemmerFor(lang Language) func(string) string {
	name, ok := snowballLanguages[lang]
	if !ok {
		return nil
	}
	return func(word string) string {
		stem, err := snowball.Stem(word, name, true)
		if err != nil || stem == "" {
			return word
		}
		return stem
	}
}

// HasStemmer reports whether text in lang is indexed with stems.
func HasStemmer(lang Language) bool {
	_, ok := snowballLanguages[lang]
	return ok
}
