/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import "time"

// SyncSource identifies the upstream platform a job pulled from.
type SyncSource string

const (
	SourceSentinelOne SyncSource = "SENTINELONE"
)

// SyncType identifies which collection a job synchronized.
type SyncType string

const (
	SyncTypeAgents          SyncType = "AGENTS"
	SyncTypeVulnerabilities SyncType = "VULNERABILITIES"
)

// JobStatus is the lifecycle state of a sync job. COMPLETED and FAILED are terminal.
type JobStatus string

const (
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// SyncJob is the audit record of one sync run for one tenant.
type SyncJob struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Source           SyncSource `json:"source"`
	Type             SyncType   `json:"type"`
	Status           JobStatus  `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsCreated   int        `json:"records_created"`
	RecordsUpdated   int        `json:"records_updated"`
	RecordsFailed    int        `json:"records_failed"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
}

// JobCounters are the aggregate counts written when a job completes.
type JobCounters struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// JobFilter narrows ledger listings. Zero values match everything.
type JobFilter struct {
	TenantID string
	Source   SyncSource
	Type     SyncType
	Status   JobStatus
	Limit    int
}

// RunEvent announces the outcome of one sync run to downstream consumers.
type RunEvent struct {
	Type        SyncType          `json:"type"`
	Status      JobStatus         `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Pages       int               `json:"pages"`
	Processed   int               `json:"processed"`
	Created     int               `json:"created"`
	Updated     int               `json:"updated"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
	Resolved    int64             `json:"resolved,omitempty"`
	Jobs        map[string]string `json:"jobs,omitempty"` // tenant slug -> job id
	Error       string            `json:"error,omitempty"`
}
