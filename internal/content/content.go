package content

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"govorilka/internal/models"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxMessageLength   = 4096
	MaxGroupNameLength = 100
	MaxGroupBioLength  = 500
	MaxQueryLength     = 100
)

var (
	policy      = bluemonday.StrictPolicy()
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,64}$`)
)

// Sanitize strips all markup and returns plain text. The strict policy
// escapes what it keeps, so the result is unescaped again; stored text is
// what search and lastMessage match against.
func Sanitize(input string) string {
	return html.UnescapeString(policy.Sanitize(input))
}

// NormalizeText trims and sanitizes a message body. Text that is empty after
// sanitizing is rejected.
func NormalizeText(text string) (string, error) {
	return normalize("message text", text, MaxMessageLength, false)
}

func NormalizeGroupName(name string) (string, error) {
	return normalize("group name", name, MaxGroupNameLength, false)
}

// NormalizeGroupBio allows an empty bio.
func NormalizeGroupBio(bio string) (string, error) {
	return normalize("group bio", bio, MaxGroupBioLength, true)
}

// NormalizeQuery trims a search query. Queries are matched as plain
// substrings, so they are not sanitized.
func NormalizeQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", fmt.Errorf("search query is required: %w", models.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return "", fmt.Errorf("search query longer than %d characters: %w", MaxQueryLength, models.ErrInvalidArgument)
	}
	return q, nil
}

func normalize(what, input string, maxLen int, allowEmpty bool) (string, error) {
	input = strings.TrimSpace(input)
	if utf8.RuneCountInString(input) > maxLen {
		return "", fmt.Errorf("%s longer than %d characters: %w", what, maxLen, models.ErrInvalidArgument)
	}
	out := strings.TrimSpace(Sanitize(input))
	if out == "" && !allowEmpty {
		return "", fmt.Errorf("%s cannot be empty: %w", what, models.ErrInvalidArgument)
	}
	return out, nil
}

// ValidateUserID checks that an opaque user id is non-empty and made of
// alphanumerics, dot, dash, underscore or colon.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id cannot be empty: %w", models.ErrInvalidArgument)
	}
	if !userIDRegex.MatchString(id) {
		return fmt.Errorf("user id %q contains invalid characters: %w", id, models.ErrInvalidArgument)
	}
	return nil
}

// UniqueUserIDs validates ids and drops duplicates, keeping first-seen order.
func UniqueUserIDs(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := ValidateUserID(id); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
