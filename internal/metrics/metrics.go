// Package metrics provides a minimal, concurrency-safe counter registry for
// link-level events. Counters are logged on shutdown; plugging them into a
// real metrics backend is left to the deployment.
package metrics

import "sync"

// Counter names.
const (
	FramesApplied        = "frames_applied"
	FramesTooShort       = "frames_too_short"
	FramesRateLimited    = "frames_rate_limited"
	EmergencyStops       = "emergency_stops"
	IdleStops            = "idle_stops"
	TextMessages         = "text_messages"
	OffersIgnored        = "offers_ignored"
	StaleAnswersDropped  = "stale_answers_dropped"
	CandidatesSuppressed = "candidates_suppressed"
	ICERestarts          = "ice_restarts"
	ActuatorFaults       = "actuator_faults"
	SignalingReconnects  = "signaling_reconnects"
)

type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all non-zero counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
