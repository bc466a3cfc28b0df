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

// Package winver parses Windows OS strings against a registry of known
// builds and evaluates endpoints against tenant compliance policies.
package winver

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// Registry is an immutable index over known Windows builds.
type Registry struct {
	byBuild    map[string]models.WindowsVersion
	byBase     map[int]models.WindowsVersion // any row of the feature update, for naming
	latest     map[string]models.WindowsVersion
	supported  map[string]bool
	numVersion int
}

// NewRegistry indexes versions. Rows with a malformed build number are ignored.
func NewRegistry(versions []models.WindowsVersion) *Registry {
	r := &Registry{
		byBuild:   make(map[string]models.WindowsVersion, len(versions)),
		byBase:    make(map[int]models.WindowsVersion),
		latest:    make(map[string]models.WindowsVersion),
		supported: make(map[string]bool),
	}

	for _, v := range versions {
		base, ubr, ok := splitBuild(v.BuildNumber)
		if !ok {
			continue
		}

		r.byBuild[v.BuildNumber] = v
		r.byBase[base] = v
		r.numVersion++

		key := featureKey(v.MajorVersion, v.FeatureUpdate)

		current, seen := r.latest[key]
		if !seen || newerThan(v, ubr, current) {
			r.latest[key] = v
			r.supported[key] = v.IsSupported
		}
	}

	return r
}

func newerThan(v models.WindowsVersion, ubr int, current models.WindowsVersion) bool {
	if !v.ReleaseDate.Equal(current.ReleaseDate) {
		return v.ReleaseDate.After(current.ReleaseDate)
	}

	_, currentUBR, _ := splitBuild(current.BuildNumber)

	return ubr > currentUBR
}

// Len returns the number of indexed builds.
func (r *Registry) Len() int {
	return r.numVersion
}

// Lookup returns the registry row for an exact build such as "22631.4317".
func (r *Registry) Lookup(build string) (models.WindowsVersion, bool) {
	v, ok := r.byBuild[build]

	return v, ok
}

// FeatureUpdate names the feature update a base build belongs to.
func (r *Registry) FeatureUpdate(base int) (major, feature string, ok bool) {
	v, ok := r.byBase[base]
	if !ok {
		return "", "", false
	}

	return v.MajorVersion, v.FeatureUpdate, true
}

// Latest returns the newest known build of a feature update.
func (r *Registry) Latest(major, feature string) (models.WindowsVersion, bool) {
	v, ok := r.latest[featureKey(major, feature)]

	return v, ok
}

// IsSupported reports the support flag of the feature update's newest build.
// Unknown feature updates are unsupported.
func (r *Registry) IsSupported(major, feature string) bool {
	return r.supported[featureKey(major, feature)]
}

// FeatureUpdates lists the known feature updates as "major featureUpdate", sorted.
func (r *Registry) FeatureUpdates() []string {
	keys := make([]string, 0, len(r.latest))
	for key := range r.latest {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func featureKey(major, feature string) string {
	return major + " " + strings.ToUpper(feature)
}

// splitBuild parses "22631.4317" into its base build and update revision.
// A bare base build has revision 0.
func splitBuild(build string) (base, ubr int, ok bool) {
	head, tail, hasUBR := strings.Cut(strings.TrimSpace(build), ".")

	base, err := strconv.Atoi(head)
	if err != nil || base <= 0 {
		return 0, 0, false
	}

	if !hasUBR {
		return base, 0, true
	}

	ubr, err = strconv.Atoi(tail)
	if err != nil || ubr < 0 {
		return 0, 0, false
	}

	return base, ubr, true
}
