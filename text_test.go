package mailstore

import (
	"testing"

	"github.com/abadojack/whatlanggo"
	"github.com/stretchr/testify/assert"
)

type fixedDetector struct {
	lang       Language
	confidence float64
	calls      int
}

func (d *fixedDetector) Detect(text string) (Language, float64) {
	d.calls++
	return d.lang, d.confidence
}

func TestMatchTextWith(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		lang     Language
		detected Language
		conf     float64
		want     HasText
	}{
		{"phrase", `"hello world"`, "", LanguageEnglish, 0.9, HasText{Field: 1, Text: `"hello world"`, MatchPhrase: true}},
		{"single quoted phrase", `'hi there'`, LanguageFrench, "", 0, HasText{Field: 1, Text: `'hi there'`, Language: LanguageFrench, MatchPhrase: true}},
		{"language prefix", "es:hola", "", LanguageEnglish, 0.9, HasText{Field: 1, Text: "hola", Language: LanguageSpanish}},
		{"unknown prefix", "xx:hola", "", LanguageEnglish, 0.9, HasText{Field: 1, Text: "xx:hola", Language: LanguageEnglish}},
		{"prefix ignored with language", "es:hola", LanguageFrench, "", 0, HasText{Field: 1, Text: "es:hola", Language: LanguageFrench}},
		{"detected", "hello world", "", LanguageEnglish, 0.9, HasText{Field: 1, Text: "hello world", Language: LanguageEnglish}},
		{"low confidence", "hello world", "", LanguageEnglish, 0.3, HasText{Field: 1, Text: "hello world"}},
		{"given language", "hello world", LanguageRussian, LanguageEnglish, 0.9, HasText{Field: 1, Text: "hello world", Language: LanguageRussian}},
		{"lone quote", `"`, "", LanguageEnglish, 0.9, HasText{Field: 1, Text: `"`, MatchPhrase: true}},
		{"unbalanced quotes", `"hello'`, "", LanguageEnglish, 0.9, HasText{Field: 1, Text: `"hello'`, Language: LanguageEnglish}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fixedDetector{lang: tt.detected, confidence: tt.conf}
			assert.Equal(t, tt.want, MatchTextWith(d, 1, tt.text, tt.lang))
		})
	}
}

func TestMatchTextWith_NilDetector(t *testing.T) {
	assert.Equal(t, HasText{Field: 2, Text: "hello"}, MatchTextWith(nil, 2, "hello", ""))
}

func TestParseLanguage(t *testing.T) {
	for _, code := range []string{"en", "EN", "es", "de", "ru"} {
		lang, ok := ParseLanguage(code)
		assert.True(t, ok, code)
		assert.Len(t, string(lang), 2)
	}
	for _, code := range []string{"", "e", "eng", "xx", "1a"} {
		_, ok := ParseLanguage(code)
		assert.False(t, ok, code)
	}
}

func TestWhatlangDetector(t *testing.T) {
	lang, conf := WhatlangDetector{}.Detect("Все счастливые семьи похожи друг на друга, каждая несчастливая семья несчастлива по-своему.")
	assert.Equal(t, LanguageRussian, lang)
	assert.Positive(t, conf)

	lang, _ = WhatlangDetector{}.Detect("The quick brown fox jumps over the lazy dog near the river bank.")
	assert.Equal(t, LanguageEnglish, lang)
}

func TestWhatlangDetector_OnlyKnownLanguages(t *testing.T) {
	for wl := range detectOptions.Whitelist {
		lang, ok := detectableLanguages[wl]
		assert.True(t, ok, wl.String())
		assert.True(t, HasStemmer(lang) || lang == LanguageGerman, lang)
	}
	for lang := range snowballLanguages {
		assert.Contains(t, detectableLanguages, reverseDetectable(lang), lang)
	}
}

func reverseDetectable(lang Language) whatlanggo.Lang {
	for wl, l := range detectableLanguages {
		if l == lang {
			return wl
		}
	}
	return -1
}

func TestMatchText_RussianIsStemmed(t *testing.T) {
	f := MatchText(1, "Все счастливые семьи похожи друг на друга, каждая несчастливая семья несчастлива по-своему.", LanguageUnknown)
	assert.Equal(t, LanguageRussian, f.Language)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, Tokenize("Hello, WORLD! 42"))
	assert.Equal(t, []string{"file"}, Tokenize("ﬁle"))
	assert.Equal(t, []string{"привет", "мир"}, Tokenize("Привет — мир"))
	assert.Empty(t, Tokenize(" ...!? "))
}

func TestStemmers(t *testing.T) {
	for _, lang := range []Language{LanguageEnglish, LanguageSpanish, LanguageFrench, LanguageRussian, LanguageSwedish, LanguageNorwegian, LanguageHungarian} {
		assert.True(t, HasStemmer(lang), lang)
	}
	assert.False(t, HasStemmer(LanguageGerman))
	assert.False(t, HasStemmer(LanguageUnknown))
	assert.Nil(t, stemmerFor(LanguageGerman))

	en := stemmerFor(LanguageEnglish)
	assert.Equal(t, "run", en("running"))
	assert.Equal(t, "run", en("runs"))
	assert.Equal(t, en("connection"), en("connected"))
}
