package observe

import (
	"errors"
	"fmt"

	"feedlens/pkg/feed"
)

// RootNotFoundError means no registered root selector (nor the body
// fallback) matched the surface after the retry.
type RootNotFoundError struct {
	Platform feed.Platform
}

func (e *RootNotFoundError) Error() string {
	return fmt.Sprintf("no feed root found for platform %s", e.Platform)
}

// IsRootNotFound checks whether an error is a failed root resolution.
func IsRootNotFound(err error) bool {
	var rootErr *RootNotFoundError
	return errors.As(err, &rootErr)
}
