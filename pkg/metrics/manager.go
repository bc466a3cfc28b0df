package metrics

import (
	"sync"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

const defaultRetention = 100

// Manager keeps one run history per sync type.
type Manager struct {
	buffers   sync.Map // models.SyncType -> RunStore
	retention int
}

// NewManager returns a Manager keeping retention points per type.
func NewManager(retention int) *Manager {
	if retention <= 0 {
		retention = defaultRetention
	}

	return &Manager{retention: retention}
}

// Add records a run in its type's history.
func (m *Manager) Add(point models.RunPoint) {
	store, _ := m.buffers.LoadOrStore(point.Type, NewBuffer(m.retention))
	store.(RunStore).Add(point)
}

// Recent returns a type's history, newest first.
func (m *Manager) Recent(syncType models.SyncType) []models.RunPoint {
	store, ok := m.buffers.Load(syncType)
	if !ok {
		return nil
	}

	return store.(RunStore).GetPoints()
}

// Last returns the newest run of a type or nil.
func (m *Manager) Last(syncType models.SyncType) *models.RunPoint {
	store, ok := m.buffers.Load(syncType)
	if !ok {
		return nil
	}

	return store.(RunStore).GetLastPoint()
}
