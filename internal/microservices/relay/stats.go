package relay

import "sync/atomic"

// Stats are monotonic counters updated from the hub and the session pumps
type Stats struct {
	sessions    atomic.Int64
	connects    atomic.Int64
	framesIn    atomic.Int64
	framesOut   atomic.Int64
	unknown     atomic.Int64
	rateLimited atomic.Int64
	dropped     atomic.Int64
	injected    atomic.Int64
}

type StatsSnapshot struct {
	Sessions    int64 `json:"sessions"`
	Connects    int64 `json:"connects_total"`
	FramesIn    int64 `json:"frames_in"`
	FramesOut   int64 `json:"frames_out"`
	Unknown     int64 `json:"unknown_frames"`
	RateLimited int64 `json:"rate_limited_frames"`
	Dropped     int64 `json:"dropped_frames"`
	Injected    int64 `json:"injected_commands"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Sessions:    s.sessions.Load(),
		Connects:    s.connects.Load(),
		FramesIn:    s.framesIn.Load(),
		FramesOut:   s.framesOut.Load(),
		Unknown:     s.unknown.Load(),
		RateLimited: s.rateLimited.Load(),
		Dropped:     s.dropped.Load(),
		Injected:    s.injected.Load(),
	}
}
