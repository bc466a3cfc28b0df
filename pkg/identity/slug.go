package identity

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	maxSlugLength    = 50
	maxSlugAttempts  = 100
	fallbackSlugBase = "tenant"
)

// SlugExistsFunc reports whether a slug is already taken.
type SlugExistsFunc func(ctx context.Context, slug string) (bool, error)

// Slugify lowercases name, turns whitespace and underscores into hyphens,
// drops everything outside [a-z0-9-], collapses hyphen runs and trims to
// 50 characters. A name with nothing usable yields "tenant".
func Slugify(name string) string {
	var b strings.Builder

	lastHyphen := true // suppresses leading hyphens

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			lastHyphen = false
		case r == '-' || r == '_' || unicode.IsSpace(r):
			if !lastHyphen {
				b.WriteByte('-')

				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}

	if slug == "" {
		return fallbackSlugBase
	}

	return slug
}

// UniqueSlug returns base if free, otherwise base-1 through base-100, and
// finally base-<unix nanos> so the search always terminates.
func UniqueSlug(ctx context.Context, exists SlugExistsFunc, base string) (string, error) {
	for attempt := 0; attempt <= maxSlugAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", base, attempt)
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}

		if !taken {
			return candidate, nil
		}
	}

	return fmt.Sprintf("%s-%d", base, time.Now().UnixNano()), nil
}
