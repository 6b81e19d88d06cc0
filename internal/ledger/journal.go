package ledger

import (
	"sync"

	"quantumtrader/internal/execution"
)

// FillRecorder captures applied fills for later inspection.
type FillRecorder interface {
	Record(execution.Fill)
}

// Journal keeps the most recent applied fills in memory for the status path.
type Journal struct {
	mu    sync.Mutex
	limit int
	fills []execution.Fill
}

// NewJournal creates a journal retaining at most limit fills (0 keeps everything).
func NewJournal(limit int) *Journal {
	if limit < 0 {
		limit = 0
	}
	return &Journal{limit: limit, fills: make([]execution.Fill, 0, limit)}
}

// Record appends a fill, dropping the oldest when the limit is reached.
func (j *Journal) Record(fill execution.Fill) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fills = append(j.fills, fill)
	if j.limit > 0 && len(j.fills) > j.limit {
		j.fills = append(j.fills[:0], j.fills[len(j.fills)-j.limit:]...)
	}
}

// Snapshot returns a copy of the retained fills, oldest first.
func (j *Journal) Snapshot() []execution.Fill {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]execution.Fill, len(j.fills))
	copy(out, j.fills)
	return out
}

// Reset clears all retained fills.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.fills = j.fills[:0]
	j.mu.Unlock()
}

// MultiRecorder fans a fill out to several recorders.
type MultiRecorder []FillRecorder

// Record forwards fill to every non-nil recorder.
func (m MultiRecorder) Record(fill execution.Fill) {
	for _, r := range m {
		if r != nil {
			r.Record(fill)
		}
	}
}
