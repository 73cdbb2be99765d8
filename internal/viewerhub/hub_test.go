package viewerhub

import (
	"testing"
	"time"
)

func TestHub_RegisterDefaultsToAutoAllow(t *testing.T) {
	h := New(true)
	c := h.Register("v1", "test-viewer")
	if !c.Allowed() {
		t.Fatalf("expected auto-allow to grant the viewer allowed=true")
	}
	if !h.IsAllowed("v1") {
		t.Fatalf("expected IsAllowed(v1) to be true")
	}
}

func TestHub_RegisterWithoutAutoAllowStartsBlocked(t *testing.T) {
	h := New(false)
	c := h.Register("v1", "test-viewer")
	if c.Allowed() {
		t.Fatalf("expected a fresh viewer to start blocked when autoAllow=false")
	}
}

func TestHub_AllowAndRevokeToggleGate(t *testing.T) {
	h := New(false)
	h.Register("v1", "test-viewer")

	if !h.Allow("v1") {
		t.Fatalf("expected Allow to succeed for a registered viewer")
	}
	if !h.IsAllowed("v1") {
		t.Fatalf("expected viewer to be allowed after Allow")
	}
	if !h.Revoke("v1") {
		t.Fatalf("expected Revoke to succeed for a registered viewer")
	}
	if h.IsAllowed("v1") {
		t.Fatalf("expected viewer to be blocked after Revoke")
	}
}

func TestHub_AllowRevokeUnknownViewerReturnsFalse(t *testing.T) {
	h := New(true)
	if h.Allow("ghost") {
		t.Fatalf("expected Allow on an unknown viewer id to report false")
	}
	if h.Revoke("ghost") {
		t.Fatalf("expected Revoke on an unknown viewer id to report false")
	}
}

func TestHub_UnregisterClosesClientAndDropsCount(t *testing.T) {
	h := New(true)
	c := h.Register("v1", "test-viewer")
	if h.Count() != 1 {
		t.Fatalf("expected count 1 after register, got %d", h.Count())
	}
	h.Unregister("v1")
	if h.Count() != 0 {
		t.Fatalf("expected count 0 after unregister, got %d", h.Count())
	}
	select {
	case <-c.Closed:
	default:
		t.Fatalf("expected client Closed channel to be closed after Unregister")
	}
}

func TestHub_MaxViewersRejectsBeyondCapacity(t *testing.T) {
	h := New(true, WithMaxViewers(1))
	if c := h.Register("v1", "first"); c == nil {
		t.Fatalf("expected the first viewer within capacity to register")
	}
	if c := h.Register("v2", "second"); c != nil {
		t.Fatalf("expected the second viewer to be rejected at capacity")
	}
	if h.Count() != 1 {
		t.Fatalf("expected count to remain 1 after a rejected registration, got %d", h.Count())
	}
}

func TestHub_BroadcastDataOnlyReachesAllowedViewers(t *testing.T) {
	h := New(true)
	allowedC := h.Register("v1", "allowed")
	blockedC := h.Register("v2", "blocked")
	h.Revoke("v2")

	h.BroadcastData([]byte("payload"))

	select {
	case <-allowedC.DataOut:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected allowed viewer to receive the broadcast")
	}
	select {
	case <-blockedC.DataOut:
		t.Fatalf("blocked viewer should not receive data broadcasts")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_BroadcastSystemReachesBlockedViewersToo(t *testing.T) {
	h := New(true)
	blockedC := h.Register("v1", "blocked")
	h.Revoke("v1")

	h.BroadcastSystem([]byte("announcement"))

	select {
	case <-blockedC.SystemOut:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected system broadcasts to reach all registered viewers regardless of allow state")
	}
}

// TestHub_SlowConsumerIsDroppedNotBlocked verifies a full channel on one
// subscriber doesn't block delivery to others and the send gives up within
// roughly the configured deadline rather than indefinitely.
func TestHub_SlowConsumerIsDroppedNotBlocked(t *testing.T) {
	h := New(true, WithSendDeadline(30*time.Millisecond))
	slow := h.Register("slow", "slow-consumer")
	fast := h.Register("fast", "fast-consumer")

	// Fill the slow consumer's buffered channel (capacity 4) so the next
	// send has to wait out the deadline instead of succeeding immediately.
	for i := 0; i < cap(slow.DataOut); i++ {
		slow.DataOut <- []byte("filler")
	}

	start := time.Now()
	h.BroadcastData([]byte("payload"))
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Fatalf("broadcast took %v, expected it to give up near the configured send deadline", elapsed)
	}
	select {
	case <-fast.DataOut:
	default:
		t.Fatalf("expected the fast consumer to still receive its payload despite the slow one")
	}
}

func TestHub_ListReportsCountsByAllowState(t *testing.T) {
	h := New(true)
	h.Register("v1", "a")
	h.Register("v2", "b")
	h.Revoke("v2")

	viewers, total, allowed, blocked := h.List()
	if total != 2 || allowed != 1 || blocked != 1 {
		t.Fatalf("expected total=2 allowed=1 blocked=1, got total=%d allowed=%d blocked=%d", total, allowed, blocked)
	}
	if len(viewers) != 2 {
		t.Fatalf("expected 2 viewer entries, got %d", len(viewers))
	}
}
