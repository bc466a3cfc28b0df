package winver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mfreeman451/telemetrysync/pkg/db"
	"github.com/mfreeman451/telemetrysync/pkg/models"
	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=mock_winver.go -package=winver github.com/mfreeman451/telemetrysync/pkg/winver Store

// Store is the slice of the database the evaluator needs.
type Store interface {
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	ListEndpoints(ctx context.Context, tenantID string, ids []string) ([]models.Endpoint, error)
	ListActiveWindowsPolicies(ctx context.Context, tenantID string) ([]models.WindowsCompliancePolicy, error)
	ListWindowsVersions(ctx context.Context) ([]models.WindowsVersion, error)
	RecordWindowsEvaluation(ctx context.Context, eval *models.WindowsComplianceEvaluation) error
}

// EndpointResult is one endpoint's line in a Report.
type EndpointResult struct {
	EndpointID  string   `json:"endpoint_id"`
	Hostname    string   `json:"hostname"`
	Detected    Detected `json:"detected"`
	IsCompliant bool     `json:"is_compliant"`
	Score       int      `json:"score"`
	Reasons     []string `json:"failure_reasons"`
}

// Report summarizes one EvaluateTenant call.
type Report struct {
	TenantSlug   string           `json:"tenant"`
	PolicyID     string           `json:"policy_id"`
	PolicyName   string           `json:"policy_name"`
	Evaluated    int              `json:"evaluated"`
	Compliant    int              `json:"compliant"`
	NonCompliant int              `json:"non_compliant"`
	Skipped      int              `json:"skipped"`
	Failed       int              `json:"failed"`
	Results      []EndpointResult `json:"results"`
}

// Evaluator checks a tenant's endpoints against its active policy.
type Evaluator struct {
	store  Store
	parser *Parser
	logger zerolog.Logger
	now    func() time.Time
}

// NewEvaluator returns an Evaluator whose parse cache holds cacheSize entries.
func NewEvaluator(store Store, cacheSize int, logger zerolog.Logger) (*Evaluator, error) {
	parser, err := NewParser(cacheSize)
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		store:  store,
		parser: parser,
		logger: logger.With().Str("component", "winver").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// ActivePolicy returns the tenant's effective policy: the lowest priority
// among active policies, ties going to the smallest id.
func (e *Evaluator) ActivePolicy(ctx context.Context, tenantID string) (*models.WindowsCompliancePolicy, error) {
	policies, err := e.store.ListActiveWindowsPolicies(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if len(policies) == 0 {
		return nil, ErrNoActivePolicy
	}

	return &policies[0], nil
}

// EvaluateTenant evaluates the tenant's endpoints, or only endpointIDs when
// given, and appends one evaluation per Windows endpoint. Endpoints whose OS
// strings cannot be parsed are skipped.
func (e *Evaluator) EvaluateTenant(ctx context.Context, tenantSlug string, endpointIDs []string) (*Report, error) {
	tenant, err := e.store.GetTenantBySlug(ctx, tenantSlug)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantSlug)
	}

	if err != nil {
		return nil, err
	}

	policy, err := e.ActivePolicy(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantSlug, err)
	}

	versions, err := e.store.ListWindowsVersions(ctx)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(versions)

	endpoints, err := e.store.ListEndpoints(ctx, tenant.ID, endpointIDs)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With().Str("tenant", tenantSlug).Str("policy_id", policy.ID).Logger()
	report := &Report{TenantSlug: tenantSlug, PolicyID: policy.ID, PolicyName: policy.Name}
	now := e.now()

	for i := range endpoints {
		endpoint := &endpoints[i]

		detected, err := e.parser.Parse(registry, deref(endpoint.OSName), deref(endpoint.OSRevision))
		if err != nil {
			logger.Debug().Err(err).Str("hostname", endpoint.Hostname).Msg("Skipping endpoint")

			report.Skipped++

			continue
		}

		outcome := Evaluate(detected, policy, registry, now)

		err = e.store.RecordWindowsEvaluation(ctx, &models.WindowsComplianceEvaluation{
			EndpointID:            endpoint.ID,
			PolicyID:              policy.ID,
			EvaluatedAt:           now,
			IsCompliant:           outcome.IsCompliant,
			ComplianceScore:       outcome.Score,
			DetectedVersion:       detected.Major,
			DetectedFeatureUpdate: detected.FeatureUpdate,
			DetectedBuild:         detected.Build,
			DetectedEdition:       detected.Edition,
			FailureReasons:        outcome.Reasons,
			BuildAgeDays:          outcome.BuildAgeDays,
		})
		if err != nil {
			logger.Error().Err(err).Str("hostname", endpoint.Hostname).Msg("Failed to record windows evaluation")

			report.Failed++

			continue
		}

		report.Evaluated++
		if outcome.IsCompliant {
			report.Compliant++
		} else {
			report.NonCompliant++
		}

		report.Results = append(report.Results, EndpointResult{
			EndpointID:  endpoint.ID,
			Hostname:    endpoint.Hostname,
			Detected:    detected,
			IsCompliant: outcome.IsCompliant,
			Score:       outcome.Score,
			Reasons:     outcome.Reasons,
		})
	}

	logger.Info().
		Int("evaluated", report.Evaluated).
		Int("compliant", report.Compliant).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Windows compliance evaluated")

	return report, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
