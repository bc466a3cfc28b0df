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

// WindowsVersion is one known cumulative-update build of a Windows feature update.
type WindowsVersion struct {
	MajorVersion  string    `json:"major_version"`  // "10", "11"
	FeatureUpdate string    `json:"feature_update"` // "22H2", "24H2"
	BuildNumber   string    `json:"build_number"`   // "22631.4317"
	IsSupported   bool      `json:"is_supported"`
	ReleaseDate   time.Time `json:"release_date"`
}

// WindowsCompliancePolicy is a per-tenant rule set. Lower Priority wins among active policies.
type WindowsCompliancePolicy struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	Name               string    `json:"name"`
	Priority           int       `json:"priority"`
	IsActive           bool      `json:"is_active"`
	RequireSupported   bool      `json:"require_supported"`
	RequireLatestBuild bool      `json:"require_latest_build"`
	AllowedVersions    []string  `json:"allowed_versions,omitempty"`
	AllowedEditions    []string  `json:"allowed_editions,omitempty"`
	MaxBuildAgeDays    *int      `json:"max_build_age_days,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// WindowsComplianceEvaluation is an append-only snapshot of one evaluation.
type WindowsComplianceEvaluation struct {
	ID                    string    `json:"id"`
	EndpointID            string    `json:"endpoint_id"`
	PolicyID              string    `json:"policy_id"`
	EvaluatedAt           time.Time `json:"evaluated_at"`
	IsCompliant           bool      `json:"is_compliant"`
	ComplianceScore       int       `json:"compliance_score"`
	DetectedVersion       string    `json:"detected_version"`
	DetectedFeatureUpdate string    `json:"detected_feature_update"`
	DetectedBuild         string    `json:"detected_build"`
	DetectedEdition       string    `json:"detected_edition"`
	FailureReasons        []string  `json:"failure_reasons"`
	BuildAgeDays          *int      `json:"build_age_days,omitempty"`
}
