package speech

import (
	"context"
	"errors"
)

// ErrDispatcherStopped is returned for requests submitted after Run has returned.
var ErrDispatcherStopped = errors.New("speech dispatcher stopped")

// Speaker plays one utterance to completion.
type Speaker interface {
	Speak(ctx context.Context, text string) Result
}

type request struct {
	text   string
	result chan Result
}

// Dispatcher is the single owner of a Speaker. Requests from any goroutine
// are queued and run one at a time, in arrival order, on Run's goroutine.
type Dispatcher struct {
	speaker  Speaker
	requests chan request
	stopped  chan struct{}
}

// NewDispatcher creates a Dispatcher with room for queue pending requests.
func NewDispatcher(speaker Speaker, queue int) *Dispatcher {
	if queue < 1 {
		queue = 1
	}
	return &Dispatcher{
		speaker:  speaker,
		requests: make(chan request, queue),
		stopped:  make(chan struct{}),
	}
}

// Run serves requests until ctx is cancelled. Utterances run under ctx, so
// cancellation also ends the active one. Pending requests are answered
// with OutcomeCancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer func() {
		close(d.stopped)
		for {
			select {
			case req := <-d.requests:
				req.result <- Result{Outcome: OutcomeCancelled, Err: ErrDispatcherStopped}
			default:
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case req := <-d.requests:
			req.result <- d.speaker.Speak(ctx, req.text)
		}
	}
}

// Submit queues text and returns a channel that receives exactly one Result.
// It blocks only while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, text string) <-chan Result {
	req := request{text: text, result: make(chan Result, 1)}

	select {
	case <-d.stopped:
		req.result <- Result{Outcome: OutcomeCancelled, Err: ErrDispatcherStopped}
		return req.result
	default:
	}

	select {
	case d.requests <- req:
	case <-ctx.Done():
		req.result <- Result{Outcome: OutcomeCancelled, Err: ctx.Err()}
	case <-d.stopped:
		req.result <- Result{Outcome: OutcomeCancelled, Err: ErrDispatcherStopped}
	}
	return req.result
}

// Speak queues text and waits for its Result.
func (d *Dispatcher) Speak(ctx context.Context, text string) Result {
	select {
	case res := <-d.Submit(ctx, text):
		return res
	case <-ctx.Done():
		return Result{Outcome: OutcomeCancelled, Err: ctx.Err()}
	}
}
