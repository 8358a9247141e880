package translit

import (
	"strings"

	"golang.org/x/text/width"
)

// Segment is one maximal run of text. Foreign runs consist only of Latin
// letters (ASCII or fullwidth); everything else lands in non-foreign runs.
type Segment struct {
	Text    string
	Foreign bool
}

// Split partitions text into alternating foreign and non-foreign runs.
// Concatenating the Text of every segment reproduces the input exactly.
func Split(text string) []Segment {
	if text == "" {
		return nil
	}

	var (
		segments []Segment
		start    int
		current  bool
		first    = true
	)

	for i, r := range text {
		foreign := isForeignLetter(r)
		if first {
			current = foreign
			first = false
			continue
		}
		if foreign != current {
			segments = append(segments, Segment{Text: text[start:i], Foreign: current})
			start = i
			current = foreign
		}
	}
	segments = append(segments, Segment{Text: text[start:], Foreign: current})

	return segments
}

// Join concatenates segment text in order.
func Join(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

func isForeignLetter(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		return true
	case r >= 'Ａ' && r <= 'Ｚ', r >= 'ａ' && r <= 'ｚ':
		return true
	}
	return false
}

// fold narrows fullwidth Latin letters so lookups see plain ASCII.
func fold(word string) string {
	return width.Narrow.String(word)
}
