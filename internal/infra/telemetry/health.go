package telemetry

import (
	"sort"
	"sync"
	"time"
)

// HealthTracker aggregates heartbeats from background loops and point-in-time
// gauges for the /healthz report.
type HealthTracker struct {
	mu     sync.Mutex
	now    func() time.Time
	loops  map[string]*Heartbeat
	gauges map[string]func() int
}

// Heartbeat is held by a background loop; a loop that misses two intervals
// is reported as stale.
type Heartbeat struct {
	tracker  *HealthTracker
	name     string
	interval time.Duration
	last     time.Time
}

type LoopStatus struct {
	Name     string `json:"name"`
	LastBeat string `json:"lastBeat"`
	Stale    bool   `json:"stale"`
}

type HealthReport struct {
	Status string         `json:"status"`
	Loops  []LoopStatus   `json:"loops,omitempty"`
	Gauges map[string]int `json:"gauges,omitempty"`
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		now:    time.Now,
		loops:  make(map[string]*Heartbeat),
		gauges: make(map[string]func() int),
	}
}

// Register starts tracking a loop. Registration counts as the first beat.
func (t *HealthTracker) Register(name string, interval time.Duration) *Heartbeat {
	t.mu.Lock()
	defer t.mu.Unlock()
	beat := &Heartbeat{tracker: t, name: name, interval: interval, last: t.now()}
	t.loops[name] = beat
	return beat
}

func (t *HealthTracker) Unregister(name string) {
	t.mu.Lock()
	delete(t.loops, name)
	t.mu.Unlock()
}

// SetGauge exposes a value such as the live session count.
func (t *HealthTracker) SetGauge(name string, fn func() int) {
	t.mu.Lock()
	t.gauges[name] = fn
	t.mu.Unlock()
}

func (h *Heartbeat) Beat() {
	if h == nil || h.tracker == nil {
		return
	}
	h.tracker.mu.Lock()
	h.last = h.tracker.now()
	h.tracker.mu.Unlock()
}

func (t *HealthTracker) Report() HealthReport {
	t.mu.Lock()
	now := t.now()
	report := HealthReport{Status: "ok"}
	for _, beat := range t.loops {
		stale := beat.interval > 0 && now.Sub(beat.last) > 2*beat.interval
		if stale {
			report.Status = "degraded"
		}
		report.Loops = append(report.Loops, LoopStatus{
			Name:     beat.name,
			LastBeat: beat.last.UTC().Format(time.RFC3339Nano),
			Stale:    stale,
		})
	}
	gauges := make(map[string]func() int, len(t.gauges))
	for name, fn := range t.gauges {
		gauges[name] = fn
	}
	t.mu.Unlock()

	sort.Slice(report.Loops, func(i, j int) bool { return report.Loops[i].Name < report.Loops[j].Name })
	if len(gauges) > 0 {
		report.Gauges = make(map[string]int, len(gauges))
		for name, fn := range gauges {
			report.Gauges[name] = fn()
		}
	}
	return report
}
