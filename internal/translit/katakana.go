package translit

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// ErrNotLetters is returned when a word contains characters other than ASCII letters.
var ErrNotLetters = errors.New("word contains non-letter characters")

var letterNames = [26]string{
	"エー", "ビー", "シー", "ディー", "イー", "エフ", "ジー", "エイチ", "アイ",
	"ジェー", "ケー", "エル", "エム", "エヌ", "オー", "ピー", "キュー", "アール",
	"エス", "ティー", "ユー", "ブイ", "ダブリュー", "エックス", "ワイ", "ゼット",
}

// Katakana is the built-in English to katakana backend. Whole-word
// readings come from the lexicon when present and from spelling rules
// otherwise.
type Katakana struct {
	lexicon atomic.Pointer[map[string]string]
}

// NewKatakana creates the backend with an optional lexicon.
func NewKatakana(lexicon map[string]string) *Katakana {
	k := &Katakana{}
	k.SetLexicon(lexicon)
	return k
}

// SetLexicon replaces the whole-word lexicon. Keys are lowercased.
func (k *Katakana) SetLexicon(lexicon map[string]string) {
	table := make(map[string]string, len(lexicon))
	for word, reading := range lexicon {
		if w := strings.ToLower(strings.TrimSpace(word)); w != "" {
			table[w] = reading
		}
	}
	k.lexicon.Store(&table)
}

// Classify reads short all-caps acronyms, single letters and words without
// vowels letter by letter. Lexicon entries are always read as words.
func (k *Katakana) Classify(word string) (Reading, error) {
	if err := checkLetters(word); err != nil {
		return ReadWord, err
	}
	lower := strings.ToLower(word)
	if _, ok := (*k.lexicon.Load())[lower]; ok {
		return ReadWord, nil
	}

	switch {
	case len(word) == 1:
		return ReadSpelled, nil
	case len(word) <= 5 && word == strings.ToUpper(word):
		return ReadSpelled, nil
	case !strings.ContainsAny(lower, "aeiouy"):
		return ReadSpelled, nil
	}
	return ReadWord, nil
}

// Convert renders word using the requested reading.
func (k *Katakana) Convert(word string, reading Reading) (string, error) {
	if err := checkLetters(word); err != nil {
		return "", err
	}
	lower := strings.ToLower(word)

	switch reading {
	case ReadSpelled:
		return spell(lower), nil
	case ReadWord:
		if v, ok := (*k.lexicon.Load())[lower]; ok {
			return v, nil
		}
		return phonetic(lower), nil
	default:
		return "", fmt.Errorf("unknown reading %d", reading)
	}
}

func spell(lower string) string {
	var b strings.Builder
	for i := 0; i < len(lower); i++ {
		b.WriteString(letterNames[lower[i]-'a'])
	}
	return b.String()
}

func checkLetters(word string) error {
	if word == "" {
		return ErrNotLetters
	}
	for i := 0; i < len(word); i++ {
		c := word[i]
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return fmt.Errorf("%w: %q", ErrNotLetters, word)
		}
	}
	return nil
}

// DefaultLexicon returns whole-word readings for common notification vocabulary.
func DefaultLexicon() map[string]string {
	return map[string]string{
		"chrome":       "クローム",
		"discord":      "ディスコード",
		"github":       "ギットハブ",
		"gmail":        "ジーメール",
		"hello":        "ハロー",
		"line":         "ライン",
		"mail":         "メール",
		"meeting":      "ミーティング",
		"message":      "メッセージ",
		"new":          "ニュー",
		"notification": "ノーティフィケーション",
		"outlook":      "アウトルック",
		"slack":        "スラック",
		"teams":        "チームズ",
		"the":          "ザ",
		"world":        "ワールド",
		"you":          "ユー",
		"zoom":         "ズーム",
	}
}
