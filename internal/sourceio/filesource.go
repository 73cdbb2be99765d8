package sourceio

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jaldrishti/videocore/internal/frame"
)

// FileSource replays a frame container file (see container.go) in order.
// Because the container carries no per-frame timing metadata, frames are
// handed to the caller back-to-back; the paced scheduler is what imposes
// the target cadence, so FileSource itself does not attempt to reproduce
// a "native rate".
type FileSource struct {
	path string
	loop bool

	mu      sync.Mutex
	f       *os.File
	stopped bool
	nextID  uint64

	codec containerCodec
}

// NewFileSource opens path and prepares to decode it. loop controls
// behavior at EOF: true rewinds to the start of the file, false closes the
// sequence.
func NewFileSource(path string, loop bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, loop: loop, f: f}, nil
}

// Read implements Source.
func (s *FileSource) Read(ctx context.Context) (frame.Frame, bool) {
	for {
		select {
		case <-ctx.Done():
			return frame.Frame{}, false
		default:
		}

		s.mu.Lock()
		if s.stopped || s.f == nil {
			s.mu.Unlock()
			return frame.Frame{}, false
		}
		payload, err := s.codec.decodeOne(s.f)
		if err == nil {
			id := s.nextID
			s.nextID++
			s.mu.Unlock()
			return frame.Frame{Pixels: payload, FrameID: id, SourceTS: time.Now()}, true
		}
		if !errors.Is(err, io.EOF) {
			s.mu.Unlock()
			return frame.Frame{}, false
		}
		// Clean EOF.
		if !s.loop {
			s.stopped = true
			_ = s.f.Close()
			s.f = nil
			s.mu.Unlock()
			return frame.Frame{}, false
		}
		if _, serr := s.f.Seek(0, io.SeekStart); serr != nil {
			s.stopped = true
			s.mu.Unlock()
			return frame.Frame{}, false
		}
		s.mu.Unlock()
		// Loop and try again. The frame id keeps counting up within this
		// attach; it resets only on a fresh attach, not on a container loop.
	}
}

// Stop implements Source.
func (s *FileSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
}
