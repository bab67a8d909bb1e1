// Package interp smooths remote players between network updates.
//
// A Buffer keeps the two most recent snapshots of one remote player and renders a fixed
// offset in the past, so that two real samples bracket the render instant. It never
// extrapolates past the newest sample.
package interp

import (
	"math"

	"github.com/chilledoj/ghostrace/protocol"
)

const DefaultRenderOffsetMs = 100

// Buffer is not safe for concurrent use.
type Buffer struct {
	prev, next     protocol.Snapshot
	count          int
	renderOffsetMs float64
}

func NewBuffer() *Buffer {
	return &Buffer{renderOffsetMs: DefaultRenderOffsetMs}
}

func NewBufferWithOffset(offsetMs float64) *Buffer {
	if offsetMs < 0 {
		offsetMs = 0
	}
	return &Buffer{renderOffsetMs: offsetMs}
}

// Push stores s as the newest sample. It reports false, leaving the buffer untouched,
// when s is not strictly newer than the current newest sample.
func (b *Buffer) Push(s protocol.Snapshot) bool {
	if b.count > 0 && s.Timestamp <= b.next.Timestamp {
		return false
	}
	b.prev = b.next
	b.next = s
	if b.count < 2 {
		b.count++
	}
	return true
}

// Get returns the state to render at nowMs. ok is false until a snapshot has been pushed.
func (b *Buffer) Get(nowMs float64) (s protocol.Snapshot, ok bool) {
	switch b.count {
	case 0:
		return protocol.Snapshot{}, false
	case 1:
		return b.next, true
	}

	renderTime := nowMs - b.renderOffsetMs
	t := (renderTime - b.prev.Timestamp) / (b.next.Timestamp - b.prev.Timestamp)
	t = clamp01(t)
	return blend(b.prev, b.next, t), true
}

func (b *Buffer) Len() int {
	return b.count
}

func (b *Buffer) Reset() {
	*b = Buffer{renderOffsetMs: b.renderOffsetMs}
}

func blend(a, z protocol.Snapshot, t float64) protocol.Snapshot {
	out := protocol.Snapshot{
		Timestamp:     lerp(a.Timestamp, z.Timestamp, t),
		Y:             lerp(a.Y, z.Y, t),
		WheelRotation: lerp(a.WheelRotation, z.WheelRotation, t),
		BikeTilt:      lerp(a.BikeTilt, z.BikeTilt, t),
		RiderLean:     lerp(a.RiderLean, z.RiderLean, t),
		RiderCrouch:   lerp(a.RiderCrouch, z.RiderCrouch, t),
		LegTuck:       lerp(a.LegTuck, z.LegTuck, t),
		FlipAngle:     lerp(a.FlipAngle, z.FlipAngle, t),
		TrickProgress: lerp(a.TrickProgress, z.TrickProgress, t),
		Score:         int(math.Round(lerp(float64(a.Score), float64(z.Score), t))),
		// death is never interpolated
		Alive: z.Alive,
	}

	// discrete fields snap at the midpoint
	d := a
	if t >= 0.5 {
		d = z
	}
	out.OnGround = d.OnGround
	out.FlipDirection = d.FlipDirection
	out.TrickID = d.TrickID
	return out
}

func lerp(a, b, t float64) float64 {
	if t >= 1 {
		return b
	}
	return a + (b-a)*t
}

func clamp01(t float64) float64 {
	switch {
	case math.IsNaN(t), t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
