package winver

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheSize = 1024

	// windows11BaseBuild is the first Windows 11 build. Upstream frequently
	// reports "Windows 10" in osName for Windows 11 devices, so the major
	// version comes from the build, not the name.
	windows11BaseBuild = 22000
)

// Detected is what an endpoint's OS strings say about its Windows install.
// FeatureUpdate is empty when the registry does not know the base build.
type Detected struct {
	Major         string `json:"major_version"`
	FeatureUpdate string `json:"feature_update"`
	Build         string `json:"build"`
	Edition       string `json:"edition"`
}

// parsedOS is the registry-independent part of a parse.
type parsedOS struct {
	base    int
	ubr     int
	edition string
}

// Parser turns (osName, osRevision) pairs into Detected values. String
// parsing is memoized; registry lookups are not, so the registry can be
// swapped between calls.
type Parser struct {
	cache *lru.Cache[string, parsedOS]
}

// NewParser returns a Parser with a cache of the given size (0 for the default).
func NewParser(cacheSize int) (*Parser, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, parsedOS](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create parse cache: %w", err)
	}

	return &Parser{cache: cache}, nil
}

// Parse resolves osName/osRevision against registry.
func (p *Parser) Parse(registry *Registry, osName, osRevision string) (Detected, error) {
	key := osName + "\x00" + osRevision

	parsed, ok := p.cache.Get(key)
	if !ok {
		var err error

		parsed, err = parseOS(osName, osRevision)
		if err != nil {
			return Detected{}, err
		}

		p.cache.Add(key, parsed)
	}

	d := Detected{
		Major:   "10",
		Build:   fmt.Sprintf("%d.%d", parsed.base, parsed.ubr),
		Edition: parsed.edition,
	}

	if parsed.base >= windows11BaseBuild {
		d.Major = "11"
	}

	if _, feature, known := registry.FeatureUpdate(parsed.base); known {
		d.FeatureUpdate = feature
	}

	return d, nil
}

// Len returns the number of memoized parses.
func (p *Parser) Len() int {
	return p.cache.Len()
}

func parseOS(osName, osRevision string) (parsedOS, error) {
	name := strings.TrimSpace(osName)

	lower := strings.ToLower(name)
	if !strings.Contains(lower, "windows") {
		return parsedOS{}, fmt.Errorf("%w: %q is not a windows OS", ErrUnparseable, osName)
	}

	base, ubr, ok := parseRevision(osRevision)
	if !ok {
		return parsedOS{}, fmt.Errorf("%w: revision %q", ErrUnparseable, osRevision)
	}

	return parsedOS{base: base, ubr: ubr, edition: editionOf(name)}, nil
}

// parseRevision accepts "22631.4317", "10.0.22631.4317" and "22631".
func parseRevision(revision string) (base, ubr int, ok bool) {
	revision = strings.TrimSpace(revision)
	if i := strings.IndexByte(revision, ' '); i >= 0 {
		revision = revision[:i]
	}

	if parts := strings.Split(revision, "."); len(parts) == 4 {
		revision = parts[2] + "." + parts[3]
	}

	base, ubr, ok = splitBuild(revision)
	if !ok || base < 10000 {
		return 0, 0, false
	}

	return base, ubr, true
}

// editionOf returns what follows the product name, e.g. "Pro" for
// "Windows 11 Pro" or "Enterprise" for "Microsoft Windows 10 Enterprise".
func editionOf(osName string) string {
	fields := strings.Fields(osName)

	for i, f := range fields {
		if !strings.EqualFold(f, "windows") {
			continue
		}

		rest := fields[i+1:]
		if len(rest) > 0 && (rest[0] == "10" || rest[0] == "11") {
			rest = rest[1:]
		}

		return strings.Join(rest, " ")
	}

	return ""
}
