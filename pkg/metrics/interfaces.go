package metrics

import (
	"github.com/mfreeman451/telemetrysync/pkg/models"
)

//go:generate mockgen -destination=mock_metrics.go -package=metrics github.com/mfreeman451/telemetrysync/pkg/metrics RunStore,Recorder

// RunStore keeps a bounded history of finished runs.
type RunStore interface {
	Add(point models.RunPoint)
	GetPoints() []models.RunPoint
	GetLastPoint() *models.RunPoint
}

// Recorder receives sync engine observations.
type Recorder interface {
	RunFinished(point models.RunPoint)
	RecordsProcessed(syncType models.SyncType, outcome string, n int)
	PageFetched(syncType models.SyncType)
}
