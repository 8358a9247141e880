package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/tospeak-bridge/internal/bridge"
	"github.com/lexiqai/tospeak-bridge/internal/notify"
	"github.com/lexiqai/tospeak-bridge/internal/observability"
	"github.com/lexiqai/tospeak-bridge/internal/speech"
)

// pollLoop runs poll cycles until ctx is cancelled. A failed cycle is
// reported and the loop carries on.
func (a *App) pollLoop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		a.pollOnce(ctx)
		timer.Reset(a.cfg.PollInterval)
	}
}

func (a *App) pollOnce(ctx context.Context) {
	list, err := a.source.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.RecordPollCycle("error")
		observability.RecordError("list_failed", "poll")
		a.logger.Warn().Err(err).Msg("Failed to list notifications")
		if !a.pollFailing {
			a.emitter.Error(fmt.Sprintf("通知の取得に失敗しました: %v", err))
		}
		a.pollFailing = true
		return
	}
	if a.pollFailing {
		a.pollFailing = false
		a.emitter.Debug("notification listing recovered")
	}

	fresh := 0
	for _, n := range list {
		if ctx.Err() != nil {
			return
		}
		if !a.tracker.IsNew(n.ID) {
			continue
		}
		fresh++
		a.handleNotification(ctx, notify.Extract(n, a.now()))
	}

	if forgotten, pruned := a.tracker.PruneIfNeeded(notify.IDs(list)); pruned {
		a.logger.Debug().Int("forgotten", forgotten).Int("tracked", a.tracker.Len()).Msg("Pruned dedup tracker")
	}
	observability.RecordNotifications("new", fresh)
	observability.SetDedupTracked(a.tracker.Len())
	observability.RecordPollCycle("ok")
}

func (a *App) handleNotification(ctx context.Context, rec notify.Record) {
	a.logger.Info().
		Str("notification_id", rec.ID).
		Str("app", rec.App).
		Str("title", rec.Title).
		Msg("New notification")
	a.emit(bridge.Notification(rec))

	if !a.session.Enabled() {
		return
	}
	d := a.composer.Announce(rec)
	if !d.Speak {
		a.logger.Debug().Str("notification_id", rec.ID).Str("reason", d.Reason).Msg("Announcement suppressed")
		return
	}
	a.enqueue(ctx, d.Text, "notification")
}

// report turns an utterance result into events.
func (a *App) report(res speech.Result, origin string) {
	logger := a.logger.With().
		Str("origin", origin).
		Str("utterance_id", res.UtteranceID).
		Str("outcome", res.Outcome.String()).
		Dur("duration", res.Duration).
		Logger()

	switch res.Outcome {
	case speech.OutcomeFailed:
		logger.Warn().Err(res.Err).Msg("Speech failed")
		a.emitter.Error(fmt.Sprintf("読み上げに失敗しました: %v", res.Err))
	case speech.OutcomeTimedOut:
		logger.Info().Str("reason", res.Reason).Msg("Speech completion not confirmed")
		a.emitter.Debug("speech %s timed out after %s", shortID(res.UtteranceID), res.Duration.Round(time.Millisecond))
	case speech.OutcomeCancelled:
		logger.Debug().Err(res.Err).Msg("Speech cancelled")
	default:
		logger.Debug().Str("reason", res.Reason).Msg("Speech finished")
	}
}
