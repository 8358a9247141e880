package app

import (
	"github.com/lexiqai/tospeak-bridge/internal/config"
	"github.com/lexiqai/tospeak-bridge/internal/observability"
	"github.com/lexiqai/tospeak-bridge/internal/rules"
	"github.com/lexiqai/tospeak-bridge/internal/translit"
)

func newTranslit() (*translit.Katakana, *translit.Renderer) {
	k := translit.NewKatakana(translit.DefaultLexicon())
	r := translit.NewRenderer(k,
		translit.WithOverrides(translit.DefaultOverrides()),
		translit.WithLogger(observability.WithComponent("translit")),
		translit.WithFallbackHook(observability.RecordTranslitFallback),
	)
	return k, r
}

func resolveRulesPath(cfg *config.Config) (string, error) {
	if cfg.PronunciationFile != "" {
		return cfg.PronunciationFile, nil
	}
	return rules.DefaultPath()
}

func (a *App) loadRules() rules.Document {
	if a.rulesPath == "" {
		return rules.Document{}
	}
	doc, err := rules.Load(a.rulesPath)
	if err != nil {
		a.logger.Warn().Err(err).Str("path", a.rulesPath).Msg("Failed to load rules file")
		a.emitter.Debug("rules file ignored: %v", err)
		return rules.Document{}
	}
	return doc
}

func (a *App) onRulesChange(doc rules.Document, err error) {
	if err != nil {
		a.logger.Warn().Err(err).Str("path", a.rulesPath).Msg("Keeping previous rules")
		a.emitter.Debug("rules reload failed: %v", err)
		return
	}
	a.applyRules(doc)
	a.logger.Info().Str("path", a.rulesPath).Msg("Rules reloaded")
}

// applyRules installs doc on top of the built-in tables.
func (a *App) applyRules(doc rules.Document) {
	applyTranslitRules(a.katakana, a.renderer, doc)
	if err := a.composer.SetRules(doc.Announce); err != nil {
		a.logger.Warn().Err(err).Msg("Some announce rules fell back to literal matching")
		a.emitter.Debug("announce rules: %v", err)
	}
	a.logger.Debug().
		Int("overrides", len(doc.Overrides)).
		Int("lexicon", len(doc.Lexicon)).
		Int("replacements", len(doc.Announce.Replacements)).
		Int("blocked_apps", len(doc.Announce.BlockedApps)).
		Msg("Rules applied")
}

func applyTranslitRules(k *translit.Katakana, r *translit.Renderer, doc rules.Document) {
	r.SetOverrides(rules.Merge(translit.DefaultOverrides(), doc.Overrides))
	k.SetLexicon(rules.Merge(translit.DefaultLexicon(), doc.Lexicon))
}
