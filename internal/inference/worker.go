package inference

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jaldrishti/videocore/internal/frame"
	"github.com/jaldrishti/videocore/internal/logging"
	"github.com/jaldrishti/videocore/internal/mailbox"
)

// Worker is the single-inflight inference executor. It owns the admission
// mailbox and the last-completed-result cache, both safe for concurrent
// access from the paced scheduler.
type Worker struct {
	client *Client
	box    *mailbox.Mailbox

	busy   atomic.Bool
	result atomic.Pointer[frame.InferenceResult]

	lastCompletion atomic.Pointer[time.Time]
}

// NewWorker constructs a Worker bound to client and starts its loop under ctx.
func NewWorker(ctx context.Context, client *Client) *Worker {
	w := &Worker{
		client: client,
		box:    mailbox.New(),
	}
	go w.loop(ctx)
	return w
}

// Submit applies the admission rule (see internal/mailbox) for fr.
func (w *Worker) Submit(fr frame.Frame) {
	w.box.Submit(fr)
}

// Busy reports whether an inference call is currently in flight.
func (w *Worker) Busy() bool { return w.busy.Load() }

// LastResult returns the most recently completed result, or nil if the
// worker has never completed a call since construction or since a
// ClearLastResult call.
func (w *Worker) LastResult() *frame.InferenceResult {
	return w.result.Load()
}

// ClearLastResult drops the cached result. Called by the Source Manager on
// detach when ClearResultOnDetach is enabled (see internal/sourcemgr).
func (w *Worker) ClearLastResult() {
	w.result.Store(nil)
}

func (w *Worker) loop(ctx context.Context) {
	for {
		fr, ok := w.box.Take(ctx)
		if !ok {
			return
		}
		w.runOne(ctx, fr)
	}
}

func (w *Worker) runOne(ctx context.Context, fr frame.Frame) {
	w.busy.Store(true)
	defer w.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			logging.L().Error("inference_worker_panic", "recover", r)
		}
	}()

	res := w.client.Infer(ctx, fr, true)

	now := time.Now()
	if prev := w.lastCompletion.Load(); prev != nil {
		delta := now.Sub(*prev).Seconds()
		if delta > 0 {
			res.MLFPS = 1 / delta
		}
	}
	w.lastCompletion.Store(&now)
	res.CompletionTS = now
	w.result.Store(&res)
}
