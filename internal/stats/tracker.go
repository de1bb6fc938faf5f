// Package stats tracks per-session frame throughput and loss.
package stats

import (
	"sync/atomic"
	"time"
)

// Cause is the reason a frame was dropped.
type Cause int

const (
	CauseSlowConsumer Cause = iota
	CauseEncodeFailure
	CauseSessionRestart
)

func (c Cause) String() string {
	switch c {
	case CauseSlowConsumer:
		return "slow_consumer"
	case CauseEncodeFailure:
		return "encode_failure"
	case CauseSessionRestart:
		return "session_restart"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of a tracker.
type Snapshot struct {
	TotalHardwareFrames   uint64        `json:"total_hardware_frames" doc:"Frames received from the camera"`
	Delivered             uint64        `json:"delivered" doc:"Frames published to consumers"`
	DroppedSlowConsumer   uint64        `json:"dropped_slow_consumer"`
	DroppedEncodeFailure  uint64        `json:"dropped_encode_failure"`
	DroppedSessionRestart uint64        `json:"dropped_session_restart"`
	Dropped               uint64        `json:"dropped" doc:"Sum of all drop causes"`
	NoFrameTicks          uint64        `json:"no_frame_ticks" doc:"Acquisition timeouts, not counted as loss"`
	LossRate              float64       `json:"loss_rate" minimum:"0" maximum:"1"`
	FPS                   float64       `json:"fps" doc:"Average delivered frames per second"`
	StartedAt             time.Time     `json:"started_at"`
	Uptime                time.Duration `json:"uptime_ns"`
}

// Tracker holds monotonically increasing counters. A tracker lives as long
// as its session and is never reset.
type Tracker struct {
	startedAt time.Time
	now       func() time.Time

	total          atomic.Uint64
	delivered      atomic.Uint64
	slowConsumer   atomic.Uint64
	encodeFailure  atomic.Uint64
	sessionRestart atomic.Uint64
	noFrame        atomic.Uint64
}

// NewTracker creates a tracker starting now.
func NewTracker() *Tracker {
	return &Tracker{startedAt: time.Now(), now: time.Now}
}

// RecordHardwareFrames counts n frames received from the device.
func (t *Tracker) RecordHardwareFrames(n uint64) {
	t.total.Add(n)
}

// RecordDelivered counts one frame published to the distributor.
func (t *Tracker) RecordDelivered() {
	t.delivered.Add(1)
}

// RecordDrop counts n frames dropped for cause.
func (t *Tracker) RecordDrop(cause Cause, n uint64) {
	switch cause {
	case CauseSlowConsumer:
		t.slowConsumer.Add(n)
	case CauseEncodeFailure:
		t.encodeFailure.Add(n)
	case CauseSessionRestart:
		t.sessionRestart.Add(n)
	}
}

// RecordNoFrame counts an acquisition timeout.
func (t *Tracker) RecordNoFrame() {
	t.noFrame.Add(1)
}

// Snapshot reads all counters and derives the loss rate and frame rate.
func (t *Tracker) Snapshot() Snapshot {
	// delivered is read before total so total >= delivered in the result.
	delivered := t.delivered.Load()
	total := t.total.Load()

	s := Snapshot{
		TotalHardwareFrames:   total,
		Delivered:             delivered,
		DroppedSlowConsumer:   t.slowConsumer.Load(),
		DroppedEncodeFailure:  t.encodeFailure.Load(),
		DroppedSessionRestart: t.sessionRestart.Load(),
		NoFrameTicks:          t.noFrame.Load(),
		StartedAt:             t.startedAt,
		Uptime:                t.now().Sub(t.startedAt),
	}
	s.Dropped = s.DroppedSlowConsumer + s.DroppedEncodeFailure + s.DroppedSessionRestart
	s.LossRate = LossRate(total, delivered)
	if secs := s.Uptime.Seconds(); secs > 0 {
		s.FPS = float64(delivered) / secs
	}
	return s
}

// LossRate returns (total-delivered)/total clamped to [0,1], or 0 when
// total is 0.
func LossRate(total, delivered uint64) float64 {
	if total == 0 || delivered >= total {
		return 0
	}
	return float64(total-delivered) / float64(total)
}
