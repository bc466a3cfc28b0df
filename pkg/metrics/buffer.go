package metrics

import (
	"sync"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// RingBuffer keeps the most recent run points, overwriting the oldest.
type RingBuffer struct {
	mu     sync.RWMutex
	points []models.RunPoint
	pos    int
	count  int
}

// NewBuffer creates a RunStore holding up to size points.
func NewBuffer(size int) RunStore {
	if size <= 0 {
		size = 1
	}

	return &RingBuffer{points: make([]models.RunPoint, size)}
}

// Add appends a point.
func (b *RingBuffer) Add(point models.RunPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.points[b.pos] = point
	b.pos = (b.pos + 1) % len(b.points)

	if b.count < len(b.points) {
		b.count++
	}
}

// GetPoints returns stored points, newest first.
func (b *RingBuffer) GetPoints() []models.RunPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := len(b.points)
	out := make([]models.RunPoint, 0, b.count)

	for i := 0; i < b.count; i++ {
		idx := (b.pos - i - 1 + size) % size
		out = append(out, b.points[idx])
	}

	return out
}

// GetLastPoint returns the newest point or nil.
func (b *RingBuffer) GetLastPoint() *models.RunPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	p := b.points[(b.pos-1+len(b.points))%len(b.points)]

	return &p
}
