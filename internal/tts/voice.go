package tts

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Match describes how a voice request was resolved.
type Match string

const (
	MatchExact     Match = "exact"
	MatchSubstring Match = "substring"
	MatchFuzzy     Match = "fuzzy"
)

// ResolveVoice picks the installed voice for requested. Exact names win,
// then case-insensitive substrings, then the best fuzzy match.
func ResolveVoice(available []string, requested string) (string, Match, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return "", "", fmt.Errorf("%w: empty name", ErrVoiceNotFound)
	}

	for _, v := range available {
		if v == requested {
			return v, MatchExact, nil
		}
	}

	lower := strings.ToLower(requested)
	for _, v := range available {
		if strings.Contains(strings.ToLower(v), lower) {
			return v, MatchSubstring, nil
		}
	}

	if matches := fuzzy.Find(requested, available); len(matches) > 0 {
		return matches[0].Str, MatchFuzzy, nil
	}

	return "", "", fmt.Errorf("%w: %q", ErrVoiceNotFound, requested)
}
