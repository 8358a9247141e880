package announce

import (
	"errors"
	"fmt"
	"regexp"
)

func compile(r Rules) (*compiledRules, error) {
	var (
		out  compiledRules
		errs []error
	)

	for i, rep := range r.Replacements {
		if rep.From == "" {
			continue
		}
		c := compiledReplacement{to: rep.To, literal: !rep.Regex}
		if rep.Regex {
			re, err := regexp.Compile("(?i)" + rep.From)
			if err != nil {
				errs = append(errs, fmt.Errorf("replacements[%d]: %w", i, err))
				c.literal = true
			} else {
				c.re = re
			}
		}
		if c.re == nil {
			c.re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(rep.From))
		}
		out.replacements = append(out.replacements, c)
	}

	for i, b := range r.BlockedApps {
		var cb compiledBlock
		fields := []struct {
			name    string
			pattern string
			regex   bool
			dst     **matcher
		}{
			{"app", b.App, b.AppRegex, &cb.app},
			{"app_id", b.AppID, b.AppIDRegex, &cb.appID},
			{"title", b.Title, b.TitleRegex, &cb.title},
			{"text", b.Text, b.TextRegex, &cb.text},
		}
		for _, f := range fields {
			if f.pattern == "" {
				continue
			}
			m, err := newMatcher(f.pattern, f.regex)
			if err != nil {
				errs = append(errs, fmt.Errorf("blocked_apps[%d].%s: %w", i, f.name, err))
				m, _ = newMatcher(f.pattern, false)
				m.glob = false
			}
			*f.dst = &m
		}
		out.blocks = append(out.blocks, cb)
	}

	return &out, errors.Join(errs...)
}
