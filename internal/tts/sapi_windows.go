//go:build windows

package tts

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/rs/zerolog"
)

const (
	sapiProgID     = "SAPI.SpVoice"
	sapiSpeakAsync = 1
)

// sapiEngine speaks through SAPI.SpVoice. Every COM call for a client runs
// on that client's own locked OS thread.
type sapiEngine struct {
	logger zerolog.Logger
}

func newSAPIEngine(logger zerolog.Logger) (Engine, error) {
	return &sapiEngine{logger: logger}, nil
}

func (e *sapiEngine) Name() string { return KindSAPI }

func (e *sapiEngine) Voices(ctx context.Context) ([]string, error) {
	var names []string
	err := withCOM(func() error {
		voice, release, err := createVoice()
		if err != nil {
			return err
		}
		defer release()

		return eachVoice(voice, func(desc string, _ *ole.IDispatch) bool {
			names = append(names, desc)
			return true
		})
	})
	return names, err
}

func (e *sapiEngine) Open(ctx context.Context, opts ClientOptions) (Client, error) {
	c := &sapiClient{
		calls:  make(chan func(), 1),
		closed: make(chan struct{}),
		logger: e.logger,
	}

	ready := make(chan error, 1)
	go c.loop(opts, ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		// the loop releases the voice once it finishes starting
		go func() {
			if err := <-ready; err == nil {
				_ = c.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type sapiClient struct {
	calls  chan func()
	closed chan struct{}
	voice  *ole.IDispatch
	logger zerolog.Logger
}

func (c *sapiClient) loop(opts ClientOptions, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitialize(0); err != nil {
		ready <- fmt.Errorf("%w: CoInitialize: %w", ErrEngineUnavailable, err)
		return
	}
	defer ole.CoUninitialize()

	voice, release, err := createVoice()
	if err != nil {
		ready <- err
		return
	}
	defer release()
	c.voice = voice

	if err := configure(voice, opts, c.logger); err != nil {
		ready <- err
		return
	}
	ready <- nil

	for {
		select {
		case fn := <-c.calls:
			fn()
		case <-c.closed:
			return
		}
	}
}

func (c *sapiClient) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.calls <- func() { errc <- fn() }:
	case <-c.closed:
		return errors.New("sapi client closed")
	}
	select {
	case err := <-errc:
		return err
	case <-c.closed:
		return errors.New("sapi client closed")
	}
}

func (c *sapiClient) Speak(_ context.Context, text string) error {
	return c.do(func() error {
		if _, err := oleutil.CallMethod(c.voice, "Speak", text, sapiSpeakAsync); err != nil {
			return fmt.Errorf("sapi speak: %w", err)
		}
		return nil
	})
}

// Status maps RunningState: 0 is idle, 1 is rendering, anything else waiting.
func (c *sapiClient) Status() (Status, error) {
	var st Status
	err := c.do(func() error {
		status, err := oleutil.GetProperty(c.voice, "Status")
		if err != nil {
			return fmt.Errorf("sapi status: %w", err)
		}
		sd := status.ToIDispatch()
		defer sd.Release()

		state, err := oleutil.GetProperty(sd, "RunningState")
		if err != nil {
			return fmt.Errorf("sapi running state: %w", err)
		}
		switch v := state.Value().(type) {
		case int32:
			st = statusFromRunningState(int64(v))
		case int64:
			st = statusFromRunningState(v)
		default:
			st = StatusWaiting
		}
		return nil
	})
	return st, err
}

func (c *sapiClient) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func statusFromRunningState(v int64) Status {
	switch v {
	case 0:
		return StatusIdle
	case 1:
		return StatusRendering
	default:
		return StatusWaiting
	}
}

func withCOM(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitialize(0); err != nil {
		return fmt.Errorf("%w: CoInitialize: %w", ErrEngineUnavailable, err)
	}
	defer ole.CoUninitialize()
	return fn()
}

func createVoice() (*ole.IDispatch, func(), error) {
	unknown, err := oleutil.CreateObject(sapiProgID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create %s: %w", ErrEngineUnavailable, sapiProgID, err)
	}
	voice, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		unknown.Release()
		return nil, nil, fmt.Errorf("%w: query %s: %w", ErrEngineUnavailable, sapiProgID, err)
	}
	return voice, func() {
		voice.Release()
		unknown.Release()
	}, nil
}

func configure(voice *ole.IDispatch, opts ClientOptions, logger zerolog.Logger) error {
	if _, err := oleutil.PutProperty(voice, "Rate", 0); err != nil {
		return fmt.Errorf("sapi rate: %w", err)
	}
	if _, err := oleutil.PutProperty(voice, "Volume", ClampVolume(opts.Volume)); err != nil {
		return fmt.Errorf("sapi volume: %w", err)
	}
	if opts.Voice == "" {
		return nil
	}

	found := false
	err := eachVoice(voice, func(desc string, token *ole.IDispatch) bool {
		if desc != opts.Voice && !strings.Contains(desc, opts.Voice) {
			return true
		}
		if _, err := oleutil.PutPropertyRef(voice, "Voice", token); err != nil {
			logger.Debug().Err(err).Str("voice", desc).Msg("Failed to select SAPI voice")
			return true
		}
		found = true
		return false
	})
	if err != nil {
		return err
	}
	if !found {
		logger.Debug().Str("voice", opts.Voice).Msg("Voice not installed, using the default voice")
	}
	return nil
}

// eachVoice calls fn with every installed voice token until fn returns false.
func eachVoice(voice *ole.IDispatch, fn func(desc string, token *ole.IDispatch) bool) error {
	res, err := oleutil.CallMethod(voice, "GetVoices")
	if err != nil {
		return fmt.Errorf("sapi voices: %w", err)
	}
	tokens := res.ToIDispatch()
	defer tokens.Release()

	countVar, err := oleutil.GetProperty(tokens, "Count")
	if err != nil {
		return fmt.Errorf("sapi voice count: %w", err)
	}
	count := int(countVar.Val)

	for i := 0; i < count; i++ {
		itemVar, err := oleutil.CallMethod(tokens, "Item", i)
		if err != nil {
			continue
		}
		token := itemVar.ToIDispatch()
		descVar, err := oleutil.CallMethod(token, "GetDescription")
		if err != nil {
			token.Release()
			continue
		}
		cont := fn(descVar.ToString(), token)
		token.Release()
		if !cont {
			break
		}
	}
	return nil
}
