package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultContext always exists and cannot be created or deleted by callers.
const DefaultContext = "default"

var contextNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Context is a named, isolated partition of the knowledge base, backed by its
// own vector collection.
type Context struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
}

// NormalizeContextName lower-cases and validates a context name so that case
// variants of the same name cannot coexist.
func NormalizeContextName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "", WrapError(ErrValidation, "normalize context name",
			fmt.Errorf("context name cannot be empty"))
	}
	if !contextNamePattern.MatchString(normalized) {
		return "", WrapError(ErrValidation, "normalize context name",
			fmt.Errorf("context name %q must be alphanumeric with dashes/underscores, 1-64 characters", name))
	}
	return normalized, nil
}

// IsReservedContext reports whether the name is protected from create/delete.
func IsReservedContext(name string) bool {
	return name == DefaultContext
}
