// Package announce turns notification records into the text that is spoken.
package announce

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lexiqai/tospeak-bridge/internal/notify"
)

const (
	placeholderApp   = "{app}"
	placeholderTitle = "{title}"
	placeholderText  = "{text}"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	separatorRun  = regexp.MustCompile(`[、，,]+`)
	edgeSeparator = regexp.MustCompile(`^[、，,]+|[、，,]+$`)
)

// Options controls how announcements are built.
type Options struct {
	Separator string
	Fallback  string
	// Template enables template mode when non-empty, e.g. "{app}、{title}、{text}".
	Template         string
	MaxLength        int
	TruncationSuffix string
	// RepeatCollapse shrinks runs of one character this long or longer to three. Zero disables it.
	RepeatCollapse  int
	DuplicateWindow time.Duration
}

// Replacement rewrites text after composition.
type Replacement struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Regex bool   `yaml:"regex"`
}

// Block suppresses speech for matching notifications. App and AppID accept
// exact strings or glob patterns unless the matching Regex flag is set.
type Block struct {
	App        string `yaml:"app"`
	AppRegex   bool   `yaml:"app_regex"`
	AppID      string `yaml:"app_id"`
	AppIDRegex bool   `yaml:"app_id_regex"`
	Title      string `yaml:"title"`
	TitleRegex bool   `yaml:"title_regex"`
	Text       string `yaml:"text"`
	TextRegex  bool   `yaml:"text_regex"`
}

// Rules are the list-valued settings loaded from the rules file.
type Rules struct {
	Replacements []Replacement `yaml:"replacements"`
	BlockedApps  []Block       `yaml:"blocked_apps"`
}

// Decision is the result of Announce.
type Decision struct {
	Text   string
	Speak  bool
	Reason string
}

// Composer builds announcements. It is safe for concurrent use.
type Composer struct {
	opts  Options
	rules atomic.Pointer[compiledRules]
	now   func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
}

// New creates a Composer with no rules.
func New(opts Options) *Composer {
	if opts.Fallback == "" {
		opts.Fallback = "通知があります"
	}
	if opts.Separator == "" {
		opts.Separator = "、"
	}
	c := &Composer{
		opts:   opts,
		now:    time.Now,
		recent: make(map[string]time.Time),
	}
	c.rules.Store(&compiledRules{})
	return c
}

// SetRules compiles and installs rules. Invalid regular expressions fall
// back to literal matching; the returned error lists them.
func (c *Composer) SetRules(r Rules) error {
	compiled, err := compile(r)
	c.rules.Store(compiled)
	return err
}

// Announce decides whether and what to speak for rec.
func (c *Composer) Announce(rec notify.Record) Decision {
	if c.Blocked(rec) {
		return Decision{Reason: "blocked"}
	}

	text := c.Compose(rec)
	if c.isDuplicate(text) {
		return Decision{Text: text, Reason: "duplicate"}
	}
	return Decision{Text: text, Speak: true}
}

// Compose builds the announcement text for rec.
func (c *Composer) Compose(rec notify.Record) string {
	app := strings.TrimSpace(rec.App)
	title := strings.TrimSpace(rec.Title)
	body := strings.TrimSpace(strings.ReplaceAll(rec.Body, "\n", " "))

	var text string
	if c.opts.Template == "" {
		text = join(c.opts.Separator, app, title, body)
	} else {
		text = c.opts.Template
		text = strings.ReplaceAll(text, placeholderApp, app)
		text = strings.ReplaceAll(text, placeholderTitle, title)
		text = strings.ReplaceAll(text, placeholderText, body)
	}

	rules := c.rules.Load()
	text = rules.replace(text)

	if c.opts.Template != "" {
		text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
		text = separatorRun.ReplaceAllString(text, c.opts.Separator)
		text = strings.TrimSpace(edgeSeparator.ReplaceAllString(text, ""))
	}

	text = collapseRepeats(text, c.opts.RepeatCollapse)
	text = truncate(text, c.opts.MaxLength, c.opts.TruncationSuffix)

	if strings.TrimSpace(text) == "" {
		return c.opts.Fallback
	}
	return text
}

// Blocked reports whether any block rule matches rec.
func (c *Composer) Blocked(rec notify.Record) bool {
	for _, b := range c.rules.Load().blocks {
		if b.matches(rec) {
			return true
		}
	}
	return false
}

func (c *Composer) isDuplicate(text string) bool {
	if c.opts.DuplicateWindow <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, at := range c.recent {
		if now.Sub(at) >= c.opts.DuplicateWindow {
			delete(c.recent, k)
		}
	}
	if _, seen := c.recent[text]; seen {
		return true
	}
	c.recent[text] = now
	return false
}

func join(sep string, fields ...string) string {
	parts := fields[:0:0]
	for _, f := range fields {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, sep)
}

func collapseRepeats(text string, minRun int) string {
	if minRun <= 0 || text == "" {
		return text
	}

	var (
		b     strings.Builder
		prev  rune
		run   int
		first = true
	)
	flush := func() {
		n := run
		if run >= minRun && run > 3 {
			n = 3
		}
		for i := 0; i < n; i++ {
			b.WriteRune(prev)
		}
	}
	for _, r := range text {
		if !first && r == prev {
			run++
			continue
		}
		if !first {
			flush()
		}
		prev, run, first = r, 1, false
	}
	flush()
	return b.String()
}

func truncate(text string, maxLen int, suffix string) string {
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxLen]) + suffix
}

type matcher struct {
	pattern string
	re      *regexp.Regexp
	glob    bool
}

func newMatcher(pattern string, regex bool) (matcher, error) {
	m := matcher{pattern: pattern}
	if regex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return m, err
		}
		m.re = re
		return m, nil
	}
	m.glob = strings.ContainsAny(pattern, "*?[{")
	return m, nil
}

func (m matcher) match(value string) bool {
	switch {
	case m.re != nil:
		return value != "" && m.re.MatchString(value)
	case m.glob:
		ok, err := doublestar.Match(m.pattern, value)
		if err != nil {
			return value == m.pattern
		}
		return ok
	default:
		return value == m.pattern
	}
}

type compiledBlock struct {
	app, appID, title, text *matcher
}

func (b compiledBlock) matches(rec notify.Record) bool {
	if b.app == nil && b.appID == nil && b.title == nil && b.text == nil {
		return false
	}

	if b.app != nil || b.appID != nil {
		hit := (b.app != nil && b.app.match(rec.App)) || (b.appID != nil && b.appID.match(rec.AppID))
		if !hit {
			return false
		}
	}
	if b.title != nil && !b.title.match(rec.Title) {
		return false
	}
	if b.text != nil && !b.text.match(rec.Body) {
		return false
	}
	return true
}

type compiledReplacement struct {
	re      *regexp.Regexp
	to      string
	literal bool
}

type compiledRules struct {
	replacements []compiledReplacement
	blocks       []compiledBlock
}

func (r *compiledRules) replace(text string) string {
	for _, rep := range r.replacements {
		if rep.literal {
			text = rep.re.ReplaceAllLiteralString(text, rep.to)
		} else {
			text = rep.re.ReplaceAllString(text, rep.to)
		}
	}
	return text
}
