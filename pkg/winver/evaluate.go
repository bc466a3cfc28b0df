package winver

import (
	"slices"
	"strings"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// Failure reasons recorded on an evaluation.
const (
	ReasonUnsupportedVersion = "UNSUPPORTED_VERSION"
	ReasonNotLatestBuild     = "NOT_LATEST_BUILD"
	ReasonVersionNotAllowed  = "VERSION_NOT_ALLOWED"
	ReasonEditionNotAllowed  = "EDITION_NOT_ALLOWED"
	ReasonBuildTooOld        = "BUILD_TOO_OLD"
)

var reasonWeights = map[string]int{
	ReasonUnsupportedVersion: 40,
	ReasonNotLatestBuild:     10,
	ReasonVersionNotAllowed:  30,
	ReasonEditionNotAllowed:  20,
	ReasonBuildTooOld:        20,
}

const day = 24 * time.Hour

// Outcome is the result of checking one Detected value against one policy.
type Outcome struct {
	IsCompliant  bool     `json:"is_compliant"`
	Score        int      `json:"score"`
	Reasons      []string `json:"failure_reasons"`
	BuildAgeDays *int     `json:"build_age_days,omitempty"`
}

// Evaluate applies every rule of policy to d. Each failed rule adds one
// reason and subtracts its weight from 100. A build the registry does not
// know fails the latest-build and age rules when the policy sets them.
func Evaluate(d Detected, policy *models.WindowsCompliancePolicy, registry *Registry, now time.Time) Outcome {
	out := Outcome{Reasons: []string{}}

	if policy.RequireSupported && !registry.IsSupported(d.Major, d.FeatureUpdate) {
		out.Reasons = append(out.Reasons, ReasonUnsupportedVersion)
	}

	if policy.RequireLatestBuild {
		latest, ok := registry.Latest(d.Major, d.FeatureUpdate)
		if !ok || latest.BuildNumber != d.Build {
			out.Reasons = append(out.Reasons, ReasonNotLatestBuild)
		}
	}

	if len(policy.AllowedVersions) > 0 && !versionAllowed(d, policy.AllowedVersions) {
		out.Reasons = append(out.Reasons, ReasonVersionNotAllowed)
	}

	if len(policy.AllowedEditions) > 0 && !containsFold(policy.AllowedEditions, d.Edition) {
		out.Reasons = append(out.Reasons, ReasonEditionNotAllowed)
	}

	if v, ok := registry.Lookup(d.Build); ok {
		age := int(now.Sub(v.ReleaseDate) / day)
		out.BuildAgeDays = &age
	}

	if policy.MaxBuildAgeDays != nil && (out.BuildAgeDays == nil || *out.BuildAgeDays > *policy.MaxBuildAgeDays) {
		out.Reasons = append(out.Reasons, ReasonBuildTooOld)
	}

	score := 100
	for _, reason := range out.Reasons {
		score -= reasonWeights[reason]
	}

	out.Score = max(0, score)
	out.IsCompliant = len(out.Reasons) == 0

	return out
}

// versionAllowed matches entries such as "11", "23H2", "11 23H2" or "11-23H2".
func versionAllowed(d Detected, allowed []string) bool {
	candidates := []string{d.Major}

	if d.FeatureUpdate != "" {
		candidates = append(candidates, d.FeatureUpdate, d.Major+" "+d.FeatureUpdate, d.Major+"-"+d.FeatureUpdate)
	}

	return slices.ContainsFunc(allowed, func(entry string) bool {
		entry = strings.TrimPrefix(strings.TrimSpace(entry), "Windows ")

		return containsFold(candidates, entry)
	})
}

func containsFold(values []string, s string) bool {
	return slices.ContainsFunc(values, func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), s)
	})
}
