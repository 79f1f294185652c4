package monitoring

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// Progress is the state of a ProgressBar at one moment.
type Progress struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
	Clock     int       `json:"clock"`
}

// A ProgressBar tracks the rounds of a run.
type ProgressBar struct {
	lock     sync.Mutex
	progress Progress
}

// NewProgressBar creates a bar. A total of zero means the run is unbounded.
func NewProgressBar(name string, total uint64) *ProgressBar {
	return &ProgressBar{
		progress: Progress{
			ID:        xid.New().String(),
			Name:      name,
			StartTime: time.Now(),
			Total:     total,
		},
	}
}

// Finish records one more finished round at the given clock.
func (b *ProgressBar) Finish(clock int) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.progress.Finished++
	b.progress.Clock = clock
}

// Progress returns the current state of the bar.
func (b *ProgressBar) Progress() Progress {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.progress
}
