// Package progress tracks the state of concurrent bottle downloads for
// the CLI's aggregate display.
package progress

import (
	"sync"
	"time"
)

// Tracker is handed to each download worker. Implementations are safe
// for concurrent use.
type Tracker interface {
	// Start initializes the tracker with the total size to download.
	Start(total int64)
	// Update records the number of bytes delivered so far.
	Update(current int64)
	// Complete marks the download as successfully finished.
	Complete()
	// Error marks the download as failed.
	Error(err error)
}

// Download holds the observable state of one download.
type Download struct {
	Name            string
	TotalBytes      int64
	DownloadedBytes int64
	Speed           float64 // bytes per second
	StartedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     time.Time
	Err             error
}

// Percent computes the completion percentage (0-100).
func (d *Download) Percent() float64 {
	if d.TotalBytes <= 0 {
		return 0
	}
	p := float64(d.DownloadedBytes) / float64(d.TotalBytes) * 100
	if p > 100 {
		return 100
	}
	return p
}

// Done reports whether the download finished, successfully or not.
func (d *Download) Done() bool {
	return !d.CompletedAt.IsZero() || d.Err != nil
}

type tracker struct {
	mu    sync.Mutex
	state Download
}

func (t *tracker) Start(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.state.TotalBytes = total
	t.state.StartedAt = now
	t.state.UpdatedAt = now
}

func (t *tracker) Update(current int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if dt := now.Sub(t.state.UpdatedAt).Seconds(); dt > 0 {
		t.state.Speed = float64(current-t.state.DownloadedBytes) / dt
	}
	t.state.DownloadedBytes = current
	t.state.UpdatedAt = now
}

func (t *tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.DownloadedBytes = t.state.TotalBytes
	t.state.CompletedAt = time.Now()
}

func (t *tracker) Error(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Err = err
	t.state.CompletedAt = time.Now()
}

func (t *tracker) snapshot() Download {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
