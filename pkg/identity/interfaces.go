package identity

import (
	"context"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

// TenantStore is the slice of the database the resolver needs.
type TenantStore interface {
	ListMappedTenants(ctx context.Context) ([]models.Tenant, error)
	TenantSlugExists(ctx context.Context, slug string) (bool, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}
