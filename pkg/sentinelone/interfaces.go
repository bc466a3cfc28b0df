package sentinelone

import "context"

//go:generate mockgen -destination=mock_client.go -package=sentinelone github.com/mfreeman451/telemetrysync/pkg/sentinelone Client

// Client is the read-only view of the upstream management console used by the sync engine.
type Client interface {
	// ListSites pages through every site visible to the token.
	ListSites(ctx context.Context, filter SiteFilter) *PageIterator[Site]
	// ListAgents pages through agents. No activity filter is applied unless filter.IsActive is set.
	ListAgents(ctx context.Context, filter AgentFilter) *PageIterator[Agent]
	// ListRisks pages through CVE rows, one per (endpoint, application, CVE).
	ListRisks(ctx context.Context, filter RiskFilter) *PageIterator[Risk]
	GetAgent(ctx context.Context, id string) (*Agent, error)
	CountAgents(ctx context.Context, filter AgentFilter) (int, error)
}
