package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/tospeak-bridge/internal/bridge"
	"github.com/lexiqai/tospeak-bridge/internal/observability"
)

// ingressLoop applies commands from stdin. The blocking read runs on its
// own goroutine so shutdown never waits for input.
func (a *App) ingressLoop(ctx context.Context) error {
	cmds := make(chan bridge.Command)
	readErr := make(chan error, 1)
	go func() {
		readErr <- bridge.ReadCommands(ctx, a.stdin, cmds, observability.WithComponent("ingress"))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-cmds:
			a.handleCommand(ctx, cmd)
		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				a.logger.Warn().Err(err).Msg("Command input failed")
			}
			if a.cfg.ExitOnStdinClose {
				return errStdinClosed
			}
			a.logger.Info().Msg("Command input closed, notifications continue")
			return nil
		}
	}
}

func (a *App) handleCommand(ctx context.Context, cmd bridge.Command) {
	observability.RecordCommand(cmd.Type)

	switch cmd.Type {
	case bridge.CommandSpeak:
		if strings.TrimSpace(cmd.Text) == "" {
			a.emitter.Error("読み上げるテキストが空です")
			return
		}
		a.enqueue(ctx, cmd.Text, "command")

	case bridge.CommandSetVolume:
		v, err := cmd.VolumeValue()
		if errors.Is(err, bridge.ErrNoVolume) {
			v, err = a.cfg.DefaultVolume, nil
		}
		if err != nil {
			a.emitter.Error(fmt.Sprintf("音量の設定に失敗しました: %v", err))
			return
		}
		stored := a.session.SetVolume(v)
		a.logger.Info().Int("requested", v).Int("volume", stored).Msg("Volume changed")
		a.emitter.Debug("volume set to %d", stored)

	case bridge.CommandSetVoice:
		a.setVoice(ctx, cmd.Voice())

	default:
		a.logger.Debug().Str("type", cmd.Type).Msg("Ignoring unknown command")
	}
}

// setVoice applies a voice selection. The change phrase is spoken only when
// the new voice differs from the last voice that was set, even if speech was
// disabled in between.
func (a *App) setVoice(ctx context.Context, name string) {
	prev := a.session.SetVoice(name)

	if name == "" {
		a.logger.Info().Str("previous", prev).Msg("Speech disabled")
		if prev != "" {
			a.emitter.Info("音声設定", "音声が設定されていません。読み上げは無効です。プルダウンで音声を選択してください。")
		}
		a.emitter.Info("音声が無効化されました", "読み上げは行われません。")
		return
	}
	if name == prev {
		a.emitter.Debug("voice unchanged: %s", name)
		return
	}

	a.logger.Info().Str("previous", prev).Str("voice", name).Msg("Voice changed")
	a.emitter.Info("音声を変更しました", name)
	if a.lastVoice != "" && a.lastVoice != name && a.cfg.AnnounceVoiceChange {
		a.enqueue(ctx, a.cfg.VoiceChangePhrase+": "+name, "voice_change")
	}
	a.lastVoice = name
}

// enqueue submits text without waiting for playback.
func (a *App) enqueue(ctx context.Context, text, origin string) {
	res := a.dispatcher.Submit(ctx, text)
	go func() {
		select {
		case r := <-res:
			a.report(r, origin)
		case <-ctx.Done():
		}
	}()
}
