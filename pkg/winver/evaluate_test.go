package winver

import (
	"testing"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int {
	return &i
}

func TestEvaluate(t *testing.T) {
	registry := defaultRegistryForTest(t)
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	win11Pro := Detected{Major: "11", FeatureUpdate: "23H2", Build: "22631.4317", Edition: "Pro"}

	tests := []struct {
		name      string
		detected  Detected
		policy    models.WindowsCompliancePolicy
		reasons   []string
		score     int
		compliant bool
	}{
		{
			name:      "empty policy",
			detected:  win11Pro,
			reasons:   []string{},
			score:     100,
			compliant: true,
		},
		{
			name:     "unsupported feature update",
			detected: Detected{Major: "10", FeatureUpdate: "22H2", Build: "19045.5011", Edition: "Pro"},
			policy:   models.WindowsCompliancePolicy{RequireSupported: true},
			reasons:  []string{ReasonUnsupportedVersion},
			score:    60,
		},
		{
			name:     "behind on updates",
			detected: win11Pro,
			policy:   models.WindowsCompliancePolicy{RequireSupported: true, RequireLatestBuild: true},
			reasons:  []string{ReasonNotLatestBuild},
			score:    90,
		},
		{
			name:     "version and edition allow lists",
			detected: win11Pro,
			policy: models.WindowsCompliancePolicy{
				AllowedVersions: []string{"11 24H2", "25H2"},
				AllowedEditions: []string{"Enterprise"},
			},
			reasons: []string{ReasonVersionNotAllowed, ReasonEditionNotAllowed},
			score:   50,
		},
		{
			name:      "allow lists match case-insensitively",
			detected:  win11Pro,
			policy:    models.WindowsCompliancePolicy{AllowedVersions: []string{"Windows 11"}, AllowedEditions: []string{"pro"}},
			reasons:   []string{},
			score:     100,
			compliant: true,
		},
		{
			name:     "old build on an otherwise compliant endpoint",
			detected: win11Pro,
			policy:   models.WindowsCompliancePolicy{RequireSupported: true, MaxBuildAgeDays: intPtr(90)},
			reasons:  []string{ReasonBuildTooOld},
			score:    80,
		},
		{
			name:     "unknown build fails build rules",
			detected: Detected{Major: "11", Build: "27000.1", Edition: "Pro"},
			policy: models.WindowsCompliancePolicy{
				RequireSupported:   true,
				RequireLatestBuild: true,
				AllowedVersions:    []string{"23H2"},
				AllowedEditions:    []string{"Enterprise"},
				MaxBuildAgeDays:    intPtr(30),
			},
			reasons: []string{
				ReasonUnsupportedVersion, ReasonNotLatestBuild, ReasonVersionNotAllowed,
				ReasonEditionNotAllowed, ReasonBuildTooOld,
			},
			score: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(tt.detected, &tt.policy, registry, now)
			assert.Equal(t, tt.reasons, out.Reasons)
			assert.Equal(t, tt.score, out.Score)
			assert.Equal(t, tt.compliant, out.IsCompliant)
		})
	}
}

func TestEvaluateBuildAge(t *testing.T) {
	registry := defaultRegistryForTest(t)
	d := Detected{Major: "11", FeatureUpdate: "23H2", Build: "22631.4317", Edition: "Pro"}
	policy := &models.WindowsCompliancePolicy{MaxBuildAgeDays: intPtr(144)}

	out := Evaluate(d, policy, registry, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NotNil(t, out.BuildAgeDays)
	assert.Equal(t, 144, *out.BuildAgeDays)
	assert.True(t, out.IsCompliant, "age equal to the limit passes")

	out = Evaluate(d, policy, registry, time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{ReasonBuildTooOld}, out.Reasons)
}
