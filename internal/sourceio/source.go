// Package sourceio implements the two Frame Source variants: a file-backed
// source that replays a length-prefixed JPEG container, and a phone-backed
// source fed by the WebSocket ingress endpoint.
package sourceio

import (
	"context"

	"github.com/jaldrishti/videocore/internal/frame"
)

// Source is the capability set shared by both variants.
type Source interface {
	// Read blocks until the next frame is available, the source is
	// stopped, or ctx is canceled. A false second return means the
	// sequence is closed and the caller must stop consuming.
	Read(ctx context.Context) (frame.Frame, bool)
	// Stop terminates the source; Read will subsequently return false.
	Stop()
}

// Injectable is implemented by push-fed sources (PhoneSource).
type Injectable interface {
	// Inject pushes JPEG bytes (already base64-decoded) into the source's slot. It
	// returns true if the slot was empty (accepted without eviction) or
	// false if a previously injected, not-yet-consumed frame had to be
	// evicted.
	Inject(pixels []byte) bool
}
