// Package mailbox implements the single-element, overwrite-on-push admission
// primitive shared by the inference worker and the phone-fed frame source.
// Folding the admission flag and the slot into one abstraction removes the
// race between "clear the flag" and "store the value".
package mailbox

import (
	"context"

	"github.com/jaldrishti/videocore/internal/frame"
)

// Mailbox holds at most one pending Frame.
type Mailbox struct {
	ch chan frame.Frame
}

// New creates an empty mailbox.
func New() *Mailbox {
	return &Mailbox{ch: make(chan frame.Frame, 1)}
}

// Submit applies the admission rule: if the mailbox is empty the frame is
// queued and Submit reports true (this is a "submit" — the consumer was
// idle). If the mailbox already holds an unread frame, it is replaced with
// fr and Submit reports false (latest-wins; the displaced frame is
// discarded without error, no additional signal is required).
func (m *Mailbox) Submit(fr frame.Frame) bool {
	select {
	case m.ch <- fr:
		return true
	default:
		select {
		case <-m.ch:
		default:
		}
		select {
		case m.ch <- fr:
		default:
			// Extremely unlikely race with a concurrent Submit; the other
			// writer's value wins and ours is dropped, preserving
			// latest-wins semantics at the cost of this one frame.
		}
		return false
	}
}

// Take blocks until a frame is available or ctx is done.
func (m *Mailbox) Take(ctx context.Context) (frame.Frame, bool) {
	select {
	case fr := <-m.ch:
		return fr, true
	case <-ctx.Done():
		return frame.Frame{}, false
	}
}
