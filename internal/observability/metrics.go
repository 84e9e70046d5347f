package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters for requests and the SLA
// engine's background activity.
type Metrics struct {
	mu              sync.Mutex
	requestCount    map[string]int64
	errorCount      map[string]int64
	slaTransitions  map[string]int64
	eventsPublished map[string]int64
	eventsDropped   int64
	sweepCycles     int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]int64),
		errorCount:      make(map[string]int64),
		slaTransitions:  make(map[string]int64),
		eventsPublished: make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + strconv.Itoa(status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordSweep counts one completed sweep cycle.
func (m *Metrics) RecordSweep() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepCycles++
}

// RecordSLATransition counts one derived-status change.
func (m *Metrics) RecordSLATransition(from, to string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slaTransitions[from+">"+to]++
}

// RecordEventPublished counts one event handed to the hub.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsPublished[eventType]++
}

// RecordEventDropped counts one delivery dropped on subscriber overflow.
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsDropped++
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() map[string]any {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"requests":         copyCounts(m.requestCount),
		"errors":           copyCounts(m.errorCount),
		"sla_transitions":  copyCounts(m.slaTransitions),
		"events_published": copyCounts(m.eventsPublished),
		"events_dropped":   m.eventsDropped,
		"sweep_cycles":     m.sweepCycles,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
