package orchestrator

import "rolebot/internal/domain"

// minCharDiff returns the minimum growth in cumulative text length that
// triggers a new emission. Group chats get larger thresholds than private
// chats, and short responses are coalesced more aggressively than long ones.
func minCharDiff(length int, isGroup bool) int {
	if isGroup {
		switch {
		case length > 1000:
			return 180
		case length > 200:
			return 120
		case length > 50:
			return 90
		default:
			return 50
		}
	}
	switch {
	case length > 1000:
		return 90
	case length > 200:
		return 45
	case length > 50:
		return 25
	default:
		return 15
	}
}

// DeliveryBuffer coalesces a chunk stream into fewer emissions. Fewer chat
// message edits means less rate-limit pressure and less visual flicker.
// The terminal chunk always passes so that image/audio/price/facts are
// never dropped.
type DeliveryBuffer struct {
	isGroup     bool
	lastEmitted int
}

// NewDeliveryBuffer creates a buffer for one response stream.
func NewDeliveryBuffer(isGroup bool) *DeliveryBuffer {
	return &DeliveryBuffer{isGroup: isGroup}
}

// ShouldEmit reports whether the chunk carries enough new content to be
// forwarded, and records the emission when it does.
func (b *DeliveryBuffer) ShouldEmit(c domain.StreamChunk) bool {
	if c.IsFinal {
		b.lastEmitted = len(c.CumulativeText)
		return true
	}
	if c.CumulativeText == "" {
		return false
	}
	n := len(c.CumulativeText)
	if n-b.lastEmitted > minCharDiff(n, b.isGroup) {
		b.lastEmitted = n
		return true
	}
	return false
}

// BufferChunks wraps a chunk stream with a DeliveryBuffer. It is a pure
// consumer: it never blocks the producer beyond the forwarding send, and it
// closes the returned channel when the input is exhausted.
func BufferChunks(in <-chan domain.StreamChunk, isGroup bool) <-chan domain.StreamChunk {
	out := make(chan domain.StreamChunk, 1)
	go func() {
		defer close(out)
		b := NewDeliveryBuffer(isGroup)
		for c := range in {
			if b.ShouldEmit(c) {
				out <- c
			}
		}
	}()
	return out
}
