package winver

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/mfreeman451/telemetrysync/pkg/models"
)

//go:embed registry.json
var defaultRegistry []byte

// VersionWriter stores registry rows.
type VersionWriter interface {
	UpsertWindowsVersion(ctx context.Context, version *models.WindowsVersion) error
}

// DefaultVersions returns the builds shipped with the binary.
func DefaultVersions() ([]models.WindowsVersion, error) {
	var versions []models.WindowsVersion

	if err := json.Unmarshal(defaultRegistry, &versions); err != nil {
		return nil, fmt.Errorf("decode embedded registry: %w", err)
	}

	return versions, nil
}

// SeedRegistry upserts the embedded builds and returns how many were written.
func SeedRegistry(ctx context.Context, store VersionWriter) (int, error) {
	versions, err := DefaultVersions()
	if err != nil {
		return 0, err
	}

	for i := range versions {
		if err := store.UpsertWindowsVersion(ctx, &versions[i]); err != nil {
			return i, fmt.Errorf("seed %s: %w", versions[i].BuildNumber, err)
		}
	}

	return len(versions), nil
}
