package utils

import (
	"strings"

	"github.com/google/uuid"
)

// MaxSlugBase bounds the title derived part of a slug.
const MaxSlugBase = 60

// Slugify lowercases title and keeps ASCII letters and digits joined by single hyphens.
func Slugify(title string) string {
	base := strings.ToLower(strings.TrimSpace(title))

	slug := make([]rune, 0, len(base))
	for _, r := range base {
		if len(slug) >= MaxSlugBase {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			slug = append(slug, r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if len(slug) == 0 || slug[len(slug)-1] == '-' {
				continue
			}
			slug = append(slug, '-')
		}
	}
	return strings.Trim(string(slug), "-")
}

// GenerateSlug returns the slugified title followed by a short random suffix.
func GenerateSlug(title, fallback string) string {
	base := Slugify(title)
	if base == "" {
		base = fallback
	}
	return base + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}
