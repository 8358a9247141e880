// Package rules loads the user rules file: pronunciation overrides, the
// built-in backend lexicon and announcement rules.
package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lexiqai/tospeak-bridge/internal/announce"
	gap "github.com/muesli/go-app-paths"
	"gopkg.in/yaml.v3"
)

const (
	appName  = "tospeak"
	fileName = "pronunciations.yaml"
)

// Document is the parsed rules file.
//
//	overrides:
//	  github: ギットハブ
//	lexicon:
//	  kubernetes: クバネティス
//	announce:
//	  replacements:
//	    - {from: "PR", to: "プルリク"}
//	  blocked_apps:
//	    - {app: "Microsoft *"}
type Document struct {
	Overrides map[string]string `yaml:"overrides"`
	Lexicon   map[string]string `yaml:"lexicon"`
	Announce  announce.Rules    `yaml:"announce"`
}

// DefaultPath returns the rules file location in the user config directory.
func DefaultPath() (string, error) {
	dirs, err := gap.NewScope(gap.User, appName).ConfigDirs()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	if len(dirs) == 0 {
		return "", errors.New("no user config directory")
	}
	return filepath.Join(dirs[0], fileName), nil
}

// Load reads the rules file at path. A missing file yields an empty Document.
func Load(path string) (Document, error) {
	var doc Document

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read rules file: %w", err)
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return doc, nil
}

// Merge returns base overlaid with extra. Keys in extra win.
func Merge(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
