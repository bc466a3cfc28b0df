package syncer

import (
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// Skip reasons reported in Summary.SkipReasons.
const (
	SkipSiteUnmapped     = "site_unmapped"
	SkipEndpointNotFound = "endpoint_not_found"
	SkipInvalidRecord    = "invalid_record"
)

// TenantCounts is one tenant's share of a run.
type TenantCounts struct {
	TenantID  string `json:"tenant_id"`
	JobID     string `json:"job_id"`
	Processed int    `json:"processed"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

func (c *TenantCounts) jobCounters() models.JobCounters {
	return models.JobCounters{
		Processed: c.Processed,
		Created:   c.Created,
		Updated:   c.Updated,
		Failed:    c.Failed,
	}
}

// Summary is what a caller gets back from a completed run. Processed counts
// every upstream record the run looked at, including skipped ones.
type Summary struct {
	Type        models.SyncType          `json:"type"`
	StartedAt   time.Time                `json:"started_at"`
	Duration    time.Duration            `json:"duration"`
	Pages       int                      `json:"pages"`
	Processed   int                      `json:"processed"`
	Created     int                      `json:"created"`
	Updated     int                      `json:"updated"`
	Unchanged   int                      `json:"unchanged"`
	Skipped     int                      `json:"skipped"`
	Failed      int                      `json:"failed"`
	Resolved    int64                    `json:"resolved,omitempty"`
	ByTenant    map[string]*TenantCounts `json:"by_tenant"`
	ByStatus    map[string]int           `json:"by_status"`
	SkipReasons map[string]int           `json:"skip_reasons,omitempty"`
}

func newSummary(syncType models.SyncType, startedAt time.Time) *Summary {
	return &Summary{
		Type:        syncType,
		StartedAt:   startedAt,
		ByTenant:    make(map[string]*TenantCounts),
		ByStatus:    make(map[string]int),
		SkipReasons: make(map[string]int),
	}
}

// JobIDs returns the ledger job id of every tenant in the run, keyed by slug.
func (s *Summary) JobIDs() map[string]string {
	ids := make(map[string]string, len(s.ByTenant))
	for slug, c := range s.ByTenant {
		ids[slug] = c.JobID
	}

	return ids
}

func (s *Summary) skip(tenant *TenantCounts, reason string) {
	s.Processed++
	s.Skipped++
	s.SkipReasons[reason]++

	if tenant != nil {
		tenant.Processed++
		tenant.Skipped++
	}
}

func (s *Summary) fail(tenant *TenantCounts) {
	s.Processed++
	s.Failed++
	tenant.Processed++
	tenant.Failed++
}

func (s *Summary) record(tenant *TenantCounts, outcome models.UpsertOutcome) {
	s.Processed++
	tenant.Processed++

	switch outcome {
	case models.OutcomeCreated:
		s.Created++
		tenant.Created++
	case models.OutcomeUpdated:
		s.Updated++
		tenant.Updated++
	default:
		s.Unchanged++
		tenant.Unchanged++
	}
}

// AllSummary bundles the results of a full sync.
type AllSummary struct {
	Agents          *Summary `json:"agents"`
	Vulnerabilities *Summary `json:"vulnerabilities,omitempty"`
}
