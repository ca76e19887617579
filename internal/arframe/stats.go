package arframe

import "sync/atomic"

// CaptureStats counts capture-path outcomes. All counters are atomics so
// the admission path never takes a lock to account for a drop.
type CaptureStats struct {
	framesSeen     atomic.Uint64
	accepted       atomic.Uint64
	droppedRate    atomic.Uint64
	droppedBusy    atomic.Uint64
	droppedNoImage atomic.Uint64
	encodeFailures atomic.Uint64
	eventsDropped  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters, shaped for the
// status endpoint.
type StatsSnapshot struct {
	FramesSeen     uint64 `json:"frames_seen"`
	Accepted       uint64 `json:"accepted"`
	DroppedRate    uint64 `json:"dropped_rate_limited"`
	DroppedBusy    uint64 `json:"dropped_busy"`
	DroppedNoImage uint64 `json:"dropped_no_image"`
	EncodeFailures uint64 `json:"encode_failures"`
	EventsDropped  uint64 `json:"events_dropped"`
}

// Snapshot returns a consistent-enough copy for diagnostics.
func (s *CaptureStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesSeen:     s.framesSeen.Load(),
		Accepted:       s.accepted.Load(),
		DroppedRate:    s.droppedRate.Load(),
		DroppedBusy:    s.droppedBusy.Load(),
		DroppedNoImage: s.droppedNoImage.Load(),
		EncodeFailures: s.encodeFailures.Load(),
		EventsDropped:  s.eventsDropped.Load(),
	}
}
