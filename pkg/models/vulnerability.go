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

import (
	"strings"
	"time"
)

// Severity of a vulnerability catalog entry.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// ParseSeverity normalizes an upstream severity label.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM", "MODERATE":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// SeverityFromScore maps a CVSS base score onto a severity band.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Vulnerability is a global catalog entry keyed by CVE identifier.
type Vulnerability struct {
	ID          string     `json:"id"`
	CVEID       string     `json:"cve_id"`
	Severity    Severity   `json:"severity"`
	CVSSScore   *float64   `json:"cvss_score,omitempty"`
	Description string     `json:"description,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// VulnStatus is the state of an endpoint's exposure to a CVE.
type VulnStatus string

const (
	VulnOpen     VulnStatus = "OPEN"
	VulnResolved VulnStatus = "RESOLVED"
	VulnIgnored  VulnStatus = "IGNORED"
)

// EndpointVulnerability records that an endpoint is exposed to a CVE.
type EndpointVulnerability struct {
	EndpointID         string     `json:"endpoint_id"`
	VulnerabilityID    string     `json:"vulnerability_id"`
	Status             VulnStatus `json:"status"`
	DetectedBy         SyncSource `json:"detected_by"`
	ApplicationName    string     `json:"application_name,omitempty"`
	ApplicationVersion string     `json:"application_version,omitempty"`
	FirstSeenAt        time.Time  `json:"first_seen_at"`
	LastSeenAt         time.Time  `json:"last_seen_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}
