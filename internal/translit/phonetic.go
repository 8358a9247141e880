package translit

import "strings"

type unitKind int

const (
	unitConsonant unitKind = iota
	unitVowel
	unitLong
	unitSokuon
	unitNasal
)

type unit struct {
	kind unitKind
	s    string
}

// kanaRows holds the a/i/u/e/o columns for each consonant.
var kanaRows = map[string][5]string{
	"":   {"ア", "イ", "ウ", "エ", "オ"},
	"k":  {"カ", "キ", "ク", "ケ", "コ"},
	"g":  {"ガ", "ギ", "グ", "ゲ", "ゴ"},
	"s":  {"サ", "シ", "ス", "セ", "ソ"},
	"z":  {"ザ", "ジ", "ズ", "ゼ", "ゾ"},
	"t":  {"タ", "ティ", "トゥ", "テ", "ト"},
	"d":  {"ダ", "ディ", "ドゥ", "デ", "ド"},
	"n":  {"ナ", "ニ", "ヌ", "ネ", "ノ"},
	"h":  {"ハ", "ヒ", "フ", "ヘ", "ホ"},
	"b":  {"バ", "ビ", "ブ", "ベ", "ボ"},
	"p":  {"パ", "ピ", "プ", "ペ", "ポ"},
	"m":  {"マ", "ミ", "ム", "メ", "モ"},
	"y":  {"ヤ", "イ", "ユ", "イェ", "ヨ"},
	"r":  {"ラ", "リ", "ル", "レ", "ロ"},
	"w":  {"ワ", "ウィ", "ウ", "ウェ", "ウォ"},
	"f":  {"ファ", "フィ", "フ", "フェ", "フォ"},
	"v":  {"ヴァ", "ヴィ", "ヴ", "ヴェ", "ヴォ"},
	"sh": {"シャ", "シ", "シュ", "シェ", "ショ"},
	"ch": {"チャ", "チ", "チュ", "チェ", "チョ"},
	"j":  {"ジャ", "ジ", "ジュ", "ジェ", "ジョ"},
	"ts": {"ツァ", "ツィ", "ツ", "ツェ", "ツォ"},
	"kw": {"クァ", "クィ", "ク", "クェ", "クォ"},
}

var yuKana = map[string]string{
	"":   "ユ",
	"y":  "ユ",
	"t":  "テュ",
	"d":  "デュ",
	"f":  "フュ",
	"v":  "ヴュ",
	"w":  "ユ",
	"sh": "シュ",
	"ch": "チュ",
	"j":  "ジュ",
	"ts": "ツ",
	"kw": "キュ",
}

func kana(consonant, vowel string) string {
	if vowel == "yu" {
		if k, ok := yuKana[consonant]; ok {
			return k
		}
		return kanaRows[consonant][1] + "ュ"
	}
	row, ok := kanaRows[consonant]
	if !ok {
		row = kanaRows[""]
	}
	return row[strings.IndexByte("aiueo", vowel[0])]
}

func defaultVowel(consonant string) string {
	switch consonant {
	case "t", "d":
		return "o"
	case "ch", "j":
		return "i"
	}
	return "u"
}

// phonetic approximates the katakana reading of a lowercase English word
// from its spelling. It favours common loanword conventions and is a
// fallback for words missing from the lexicon.
func phonetic(word string) string {
	p := &parser{w: word}
	for p.i < len(p.w) {
		p.step()
	}
	return render(p.out)
}

func render(units []unit) string {
	var b strings.Builder
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch u.kind {
		case unitLong:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "ー") {
				b.WriteString("ー")
			}
		case unitSokuon:
			if i+1 < len(units) && units[i+1].kind == unitConsonant && b.Len() > 0 {
				b.WriteString("ッ")
			}
		case unitNasal:
			b.WriteString("ン")
		case unitVowel:
			b.WriteString(kana("", u.s))
		case unitConsonant:
			if i+1 < len(units) && units[i+1].kind == unitVowel {
				b.WriteString(kana(u.s, units[i+1].s))
				i++
				continue
			}
			b.WriteString(kana(u.s, defaultVowel(u.s)))
		}
	}
	return b.String()
}

type parser struct {
	w   string
	i   int
	out []unit
	// lastShort is set while the previous unit is a plain short vowel.
	lastShort bool
}

func isVowel(c byte) bool {
	return c == 'a' || c == 'e' || c == 'i' || c == 'o' || c == 'u'
}

func (p *parser) at(j int) byte {
	if j < 0 || j >= len(p.w) {
		return 0
	}
	return p.w[j]
}

func (p *parser) has(s string) bool {
	return strings.HasPrefix(p.w[p.i:], s)
}

func (p *parser) final(width int) bool {
	return p.i+width == len(p.w)
}

func (p *parser) add(kind unitKind, s string) {
	p.out = append(p.out, unit{kind: kind, s: s})
	p.lastShort = false
}

func (p *parser) cons(s string)  { p.add(unitConsonant, s) }
func (p *parser) vowel(s string) { p.add(unitVowel, s) }
func (p *parser) long()          { p.add(unitLong, "") }
func (p *parser) nasal()         { p.add(unitNasal, "") }

func (p *parser) short(s string) {
	p.add(unitVowel, s)
	p.lastShort = true
}

// sokuon adds a geminate mark when the previous unit is a short vowel.
func (p *parser) sokuon() {
	if p.lastShort {
		p.add(unitSokuon, "")
	}
}

func (p *parser) step() {
	c := p.w[p.i]
	if isVowel(c) || (c == 'y' && !isVowel(p.at(p.i+1))) {
		p.stepVowel(c)
		return
	}
	p.stepConsonant(c)
}

func (p *parser) stepVowel(c byte) {
	n := len(p.w)
	i := p.i

	if c == 'e' && i == n-1 && n >= 3 && !isVowel(p.at(i-1)) {
		p.i++
		return
	}

	if c == 'y' {
		switch {
		case i == n-1 && n <= 3:
			p.vowel("a")
			p.vowel("i")
		case i == n-1:
			p.vowel("i")
			p.long()
		default:
			p.vowel("i")
		}
		p.i++
		return
	}

	switch {
	case p.has("igh"):
		p.vowel("a")
		p.vowel("i")
		p.i += 3
		return
	case p.has("ee"), p.has("ea"), p.has("ie") && !p.final(2):
		p.vowel("i")
		p.long()
		p.i += 2
		return
	case p.has("oo"):
		p.vowel("u")
		p.long()
		p.i += 2
		return
	case p.has("ou"):
		p.vowel("a")
		p.vowel("u")
		p.i += 2
		return
	case p.has("ow") && !isVowel(p.at(i+2)):
		if p.final(2) && n > 3 {
			p.vowel("o")
			p.long()
		} else {
			p.vowel("a")
			p.vowel("u")
		}
		p.i += 2
		return
	case p.has("ai"), p.has("ay"), p.has("ei"):
		p.vowel("e")
		p.vowel("i")
		p.i += 2
		return
	case p.has("ey") && p.final(2):
		p.vowel("i")
		p.long()
		p.i += 2
		return
	case p.has("oa"), p.has("au"), p.has("aw"):
		p.vowel("o")
		p.long()
		p.i += 2
		return
	case p.has("oi"), p.has("oy"):
		p.vowel("o")
		p.vowel("i")
		p.i += 2
		return
	case p.has("ew"), p.has("ue") && p.final(2):
		p.vowel("u")
		p.long()
		p.i += 2
		return
	}

	// r-coloured vowels: er, ir, ur, ar read as アー, or as オー.
	next, after := p.at(i+1), p.at(i+2)
	if next == 'r' && after != 'r' && after != 'y' && (!isVowel(after) || (after == 'e' && i+3 == n)) {
		if c == 'o' {
			p.vowel("o")
		} else {
			p.vowel("a")
		}
		p.long()
		p.i += 2
		return
	}

	// silent final e lengthens the vowel before a single consonant.
	if i+3 == n && p.w[n-1] == 'e' && !isVowel(next) && next != 'w' && next != 'x' && next != 'y' {
		switch c {
		case 'a':
			p.vowel("e")
			p.vowel("i")
		case 'i':
			p.vowel("a")
			p.vowel("i")
		case 'o':
			p.vowel("o")
			p.long()
		case 'u':
			p.vowel("u")
			p.long()
		case 'e':
			p.vowel("i")
			p.long()
		}
		p.i++
		return
	}

	switch c {
	case 'a':
		p.short("a")
	case 'e':
		p.short("e")
	case 'i':
		if (strings.HasPrefix(p.w[i+1:], "nd") || strings.HasPrefix(p.w[i+1:], "ld")) && i+3 == n {
			p.vowel("a")
			p.vowel("i")
		} else {
			p.short("i")
		}
	case 'o':
		if i == n-1 && n <= 3 {
			p.vowel("o")
			p.long()
		} else {
			p.short("o")
		}
	case 'u':
		prev := p.at(i - 1)
		if !isVowel(next) && next != 0 && isVowel(after) && !strings.ContainsRune("sdtrljz", rune(prev)) {
			p.vowel("yu")
			p.long()
		} else {
			p.short("a")
		}
	}
	p.i++
}

func (p *parser) stepConsonant(c byte) {
	n := len(p.w)
	i := p.i
	next := p.at(i + 1)

	switch {
	case p.has("tion"):
		p.cons("sh")
		p.vowel("o")
		p.nasal()
		p.i += 4
	case p.has("sion"):
		p.cons("j")
		p.vowel("o")
		p.nasal()
		p.i += 4
	case p.has("ture"):
		p.cons("ch")
		p.vowel("a")
		p.long()
		p.i += 4
	case p.has("tch"):
		p.sokuon()
		p.cons("ch")
		p.i += 3
	case p.has("dge"):
		p.sokuon()
		p.cons("j")
		p.i += 3
	case p.has("chr"):
		p.cons("k")
		p.i += 2
	case p.has("ck"):
		p.sokuon()
		p.cons("k")
		p.i += 2
	case p.has("ch"):
		if p.final(2) {
			p.sokuon()
		}
		p.cons("ch")
		p.i += 2
	case p.has("sh"):
		p.cons("sh")
		p.i += 2
	case p.has("ph"):
		p.cons("f")
		p.i += 2
	case p.has("th"):
		p.cons("s")
		p.i += 2
	case p.has("wh"):
		p.cons("w")
		p.i += 2
	case p.has("qu"):
		p.cons("kw")
		p.i += 2
	case i == 0 && (p.has("kn") || p.has("wr")):
		p.cons(string(next))
		p.i += 2
	case p.has("gh"):
		p.i += 2
	case p.has("ng"), p.has("nk"):
		p.nasal()
		p.cons(string(next))
		p.i += 2
	case p.has("mb") && p.final(2):
		p.cons("m")
		p.i += 2
	case c == 'm' && (next == 'b' || next == 'p'):
		p.nasal()
		p.i++
	case c == 'n' && !isVowel(next) && next != 'y':
		p.nasal()
		p.i++
	case next == c:
		// doubled consonant: one letter is dropped
		if c == 'p' || (i+2 == n && strings.IndexByte("tdgk", c) >= 0) {
			p.sokuon()
		}
		p.i++
	default:
		p.single(c, next, i == n-1)
		p.i++
	}
}

func (p *parser) single(c, next byte, last bool) {
	if last && strings.IndexByte("ptkdg", c) >= 0 {
		p.sokuon()
	}

	switch c {
	case 'c':
		if next == 'e' || next == 'i' || next == 'y' {
			p.cons("s")
		} else {
			p.cons("k")
		}
	case 'g':
		if next == 'e' && p.i+2 == len(p.w) {
			p.cons("j")
		} else {
			p.cons("g")
		}
	case 'x':
		if p.i == 0 {
			p.cons("z")
		} else {
			p.cons("k")
			p.cons("s")
		}
	case 'l':
		p.cons("r")
	case 'q':
		p.cons("k")
	case 'w', 'h':
		if isVowel(next) || next == 'y' {
			p.cons(string(c))
		}
	default:
		p.cons(string(c))
	}
}
