package progress

import (
	"io"
	"sync"
)

// Manager owns the trackers for one executor run.
type Manager struct {
	mu       sync.Mutex
	trackers map[string]*tracker
}

func NewManager() *Manager {
	return &Manager{trackers: make(map[string]*tracker)}
}

// Register creates a tracker for the named download.
func (m *Manager) Register(name string) Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &tracker{state: Download{Name: name}}
	m.trackers[name] = t
	return t
}

// Aggregate is the rolled-up state across every registered download.
type Aggregate struct {
	Total          int
	Active         int
	Completed      int
	Failed         int
	OverallPercent float64
	SpeedSum       float64
}

func (m *Manager) GetAggregate() Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agg Aggregate
	var percentSum float64
	for _, t := range m.trackers {
		s := t.snapshot()
		agg.Total++
		switch {
		case s.Err != nil:
			agg.Failed++
			percentSum += 100
		case s.Done():
			agg.Completed++
			percentSum += 100
		default:
			agg.Active++
			agg.SpeedSum += s.Speed
			percentSum += s.Percent()
		}
	}
	if agg.Total > 0 {
		agg.OverallPercent = percentSum / float64(agg.Total)
	}
	return agg
}

// IsComplete reports whether every registered download has finished.
func (m *Manager) IsComplete() bool {
	agg := m.GetAggregate()
	return agg.Total > 0 && agg.Active == 0
}

// Reader wraps a download stream so reads feed the tracker.
type Reader struct {
	Inner   io.Reader
	Tracker Tracker

	read int64
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.Inner.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.Tracker != nil {
			r.Tracker.Update(r.read)
		}
	}
	return n, err
}
