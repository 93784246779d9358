package util

import "github.com/google/uuid"

// NewID returns a prefixed random id, e.g. "render_3f1c...".
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}
