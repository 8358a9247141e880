package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/lexiqai/tospeak-bridge/internal/bridge"
	"github.com/lexiqai/tospeak-bridge/internal/notify"
	"github.com/lexiqai/tospeak-bridge/internal/observability"
	"github.com/lexiqai/tospeak-bridge/internal/resilience"
)

// startup emits info, debug and available_voices, acquires the listener,
// seeds the tracker with what is already on screen and finally emits ready.
func (a *App) startup(ctx context.Context) error {
	a.emitter.Info("お知らせ", "ToSpeak の起動を準備中")
	a.emitter.Debug("runtime=%s/%s engine=%s translit=%t voice=%q",
		runtime.GOOS, runtime.GOARCH, a.engine.Name(), a.cfg.TranslitEnabled, a.session.Voice())

	voices, err := a.manager.Voices(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to list voices")
		a.emitter.Error(fmt.Sprintf("音声一覧を取得できませんでした: %v", err))
	}
	a.emit(bridge.AvailableVoices(voices))

	initial, err := a.acquireListener(ctx)
	if err != nil {
		a.emitter.Error(fmt.Sprintf("通知リスナーを取得できませんでした: %v", err))
		return fmt.Errorf("acquire notification listener: %w", err)
	}

	a.tracker.Seed(notify.IDs(initial))
	observability.SetDedupTracked(a.tracker.Len())
	if len(initial) > 0 {
		now := a.now()
		recs := make([]notify.Record, 0, len(initial))
		for _, n := range initial {
			recs = append(recs, notify.Extract(n, now))
		}
		a.emit(bridge.PastNotifications(recs))
		observability.RecordNotifications("past", len(recs))
	}

	a.logger.Info().
		Int("past_notifications", len(initial)).
		Int("volume", a.session.Volume()).
		Str("voice", a.session.Voice()).
		Msg("Bridge ready")
	a.emit(bridge.Ready(a.session.Volume()))
	return nil
}

// acquireListener requests access and takes the first listing. Access
// denial is not retried.
func (a *App) acquireListener(ctx context.Context) ([]notify.Notification, error) {
	var initial []notify.Notification

	retryCtx := a.logger.WithContext(ctx)
	err := resilience.Retry(retryCtx, func(ctx context.Context) error {
		if err := a.source.RequestAccess(ctx); err != nil {
			return err
		}
		list, err := a.source.List(ctx)
		if err != nil {
			return err
		}
		initial = list
		return nil
	}, &resilience.RetryConfig{
		MaxAttempts:       a.cfg.ListenerRetryAttempts,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2,
		Name:              "notification listener",
	}, func(err error) bool {
		return !errors.Is(err, notify.ErrAccessDenied)
	})
	if err != nil {
		return nil, err
	}
	return initial, nil
}
