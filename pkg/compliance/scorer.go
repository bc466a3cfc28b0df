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

// Package compliance derives an endpoint's compliance score from agent health attributes.
package compliance

const (
	MaxScore = 100
	MinScore = 0

	// CompliantThreshold is the lowest score that can still be compliant.
	CompliantThreshold = 80

	InactivePenalty  = 25
	OutdatedPenalty  = 15
	InfectedPenalty  = 40
	PerThreatPenalty = 10
	MaxThreatPenalty = 30
)

// Attributes are the agent fields that feed the score.
type Attributes struct {
	IsActive      bool
	IsUpToDate    bool
	Infected      bool
	ActiveThreats int
}

// Result is the derived compliance state.
type Result struct {
	Score       int  `json:"score"`
	IsCompliant bool `json:"is_compliant"`
}

// StatusClass buckets agents for run reporting.
type StatusClass string

const (
	StatusInfected StatusClass = "infected"
	StatusActive   StatusClass = "active"
	StatusInactive StatusClass = "inactive"
)

// Score applies the fixed penalty table. An agent is compliant only when it
// clears the threshold, is active and is not infected, so an inactive but
// otherwise clean agent (score 75) is never compliant.
func Score(attrs Attributes) Result {
	score := MaxScore

	if !attrs.IsActive {
		score -= InactivePenalty
	}

	if !attrs.IsUpToDate {
		score -= OutdatedPenalty
	}

	if attrs.Infected {
		score -= InfectedPenalty
	}

	if attrs.ActiveThreats > 0 {
		score -= min(attrs.ActiveThreats*PerThreatPenalty, MaxThreatPenalty)
	}

	score = max(MinScore, min(MaxScore, score))

	return Result{
		Score:       score,
		IsCompliant: score >= CompliantThreshold && !attrs.Infected && attrs.IsActive,
	}
}

// Classify returns the reporting bucket. Infection dominates activity.
func Classify(attrs Attributes) StatusClass {
	switch {
	case attrs.Infected:
		return StatusInfected
	case attrs.IsActive:
		return StatusActive
	default:
		return StatusInactive
	}
}
