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

// Package models holds the records shared between the sync engine, the store and the API.
package models

import "time"

// Tenant is a managed client organization and the unit of data isolation.
type Tenant struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
	// SentinelOneSiteID joins the tenant to an upstream site. At most one
	// tenant may carry a given non-empty value.
	SentinelOneSiteID *string   `json:"sentinelone_site_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SiteID returns the upstream site id or an empty string.
func (t *Tenant) SiteID() string {
	if t == nil || t.SentinelOneSiteID == nil {
		return ""
	}

	return *t.SentinelOneSiteID
}

// Endpoint is the local record of a managed device.
type Endpoint struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	Hostname           string     `json:"hostname"`
	SentinelOneAgentID *string    `json:"sentinelone_agent_id,omitempty"`
	OSName             *string    `json:"os_name,omitempty"`
	OSRevision         *string    `json:"os_revision,omitempty"`
	IPAddress          *string    `json:"ip_address,omitempty"`
	IsCompliant        bool       `json:"is_compliant"`
	ComplianceScore    int        `json:"compliance_score"`
	CriticalVulns      int        `json:"critical_vulns"`
	HighVulns          int        `json:"high_vulns"`
	MediumVulns        int        `json:"medium_vulns"`
	LowVulns           int        `json:"low_vulns"`
	LastSeen           *time.Time `json:"last_seen,omitempty"`
	WindowsCompliant   *bool      `json:"windows_compliant,omitempty"`
	WindowsScore       *int       `json:"windows_compliance_score,omitempty"`
	WindowsVersion     *string    `json:"windows_version,omitempty"`
	WindowsBuild       *string    `json:"windows_build,omitempty"`
	WindowsEvaluatedAt *time.Time `json:"windows_evaluated_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// EndpointState carries the fields the agent sync derives for an endpoint.
// It is compared against the stored row to tell updates from no-ops.
type EndpointState struct {
	TenantID           string
	Hostname           string
	SentinelOneAgentID string
	OSName             string
	OSRevision         string
	IPAddress          string
	IsCompliant        bool
	ComplianceScore    int
	LastSeen           *time.Time
}

// UpsertOutcome reports what an idempotent upsert did to the stored row.
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// SeverityCounts is the per-severity tally of open vulnerabilities on an endpoint.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}
