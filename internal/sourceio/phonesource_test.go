package sourceio

import (
	"context"
	"testing"
	"time"
)

func TestPhoneSource_InjectThenReadRoundTrips(t *testing.T) {
	s := NewPhoneSource()
	defer s.Stop()

	if ok := s.Inject([]byte("jpeg-bytes")); !ok {
		t.Fatalf("expected the first Inject into an empty slot to report true")
	}

	fr, ok := s.Read(context.Background())
	if !ok {
		t.Fatalf("expected Read to succeed")
	}
	if string(fr.Pixels) != "jpeg-bytes" {
		t.Fatalf("got pixels %q", fr.Pixels)
	}
}

func TestPhoneSource_InjectOverwritesUnconsumedSlot(t *testing.T) {
	s := NewPhoneSource()
	defer s.Stop()

	if ok := s.Inject([]byte("first")); !ok {
		t.Fatalf("expected first inject to report true")
	}
	if ok := s.Inject([]byte("second")); ok {
		t.Fatalf("expected second inject into an already-full slot to report false (latest-wins overwrite)")
	}

	fr, ok := s.Read(context.Background())
	if !ok {
		t.Fatalf("expected Read to succeed")
	}
	if string(fr.Pixels) != "second" {
		t.Fatalf("expected latest-wins overwrite to surface %q, got %q", "second", fr.Pixels)
	}
}

func TestPhoneSource_FrameIDsIncrementAcrossInjects(t *testing.T) {
	s := NewPhoneSource()
	defer s.Stop()

	s.Inject([]byte("a"))
	fr0, _ := s.Read(context.Background())
	s.Inject([]byte("b"))
	fr1, _ := s.Read(context.Background())

	if fr0.FrameID != 0 || fr1.FrameID != 1 {
		t.Fatalf("expected incrementing frame ids 0,1, got %d,%d", fr0.FrameID, fr1.FrameID)
	}
}

func TestPhoneSource_StopUnblocksRead(t *testing.T) {
	s := NewPhoneSource()

	done := make(chan struct{})
	go func() {
		s.Read(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected Stop to unblock a pending Read")
	}
}

func TestPhoneSource_ReadRespectsCallerContextCancellation(t *testing.T) {
	s := NewPhoneSource()
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Read(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected caller ctx cancellation to unblock Read")
	}
}
