package sourceio

import (
	"context"
	"sync"
	"time"

	"github.com/jaldrishti/videocore/internal/frame"
	"github.com/jaldrishti/videocore/internal/mailbox"
)

// PhoneSource is a bounded single-slot queue fed by the phone ingress
// WebSocket endpoint (internal/phoneingress). It reuses the admission
// mailbox (internal/mailbox) since both need the identical
// capacity-1-overwrite-on-push behavior; here the mailbox's eviction
// return doubles as the back-pressure signal relayed to the phone.
type PhoneSource struct {
	box *mailbox.Mailbox

	mu     sync.Mutex
	nextID uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPhoneSource creates an empty, running PhoneSource.
func NewPhoneSource() *PhoneSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &PhoneSource{box: mailbox.New(), ctx: ctx, cancel: cancel}
}

// Inject implements Injectable. pixels is JPEG bytes, already base64-decoded; the
// server-side clock is stamped here since the phone's own clock is
// untrusted.
func (s *PhoneSource) Inject(pixels []byte) bool {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()
	return s.box.Submit(frame.Frame{Pixels: pixels, FrameID: id, SourceTS: time.Now()})
}

// Read implements Source.
func (s *PhoneSource) Read(ctx context.Context) (frame.Frame, bool) {
	merged, cancel := mergeContexts(ctx, s.ctx)
	defer cancel()
	return s.box.Take(merged)
}

// Stop implements Source.
func (s *PhoneSource) Stop() { s.cancel() }

// mergeContexts returns a context canceled when either input is canceled.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() { close(stop); cancel() }
}
