package monitoring

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simlane/timeline/scheduling"
)

// A ProgressBar counts how many of a group of scheduled handles have
// finished.
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
	Failed     uint64    `json:"failed"`
}

func newProgressBar(name string, total uint64) *ProgressBar {
	return &ProgressBar{
		ID:        uuid.NewString(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}
}

// Track counts h as in progress until it finishes. A handle that ends with
// a failure is also counted in Failed.
func (b *ProgressBar) Track(h *scheduling.Handle) {
	b.IncrementInProgress(1)

	h.OnFinish(func(o scheduling.Outcome) {
		b.Lock()
		if o.Reason == scheduling.FinishFailed {
			b.Failed++
		}
		b.Unlock()

		b.MoveInProgressToFinished(1)
	})
}

// IncrementInProgress adds to the number of in-progress handles.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// IncrementFinished adds to the number of finished handles.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// MoveInProgressToFinished moves amount handles from in progress to
// finished.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress -= amount
	b.Finished += amount
}

// Complete tells if every counted handle has finished.
func (b *ProgressBar) Complete() bool {
	b.Lock()
	defer b.Unlock()

	return b.Total > 0 && b.Finished >= b.Total
}
