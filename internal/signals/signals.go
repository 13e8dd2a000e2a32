// Package signals retrieves raw behavioral signal records for a user and
// domain from an upstream feed. Retrieval is an external concern: sources
// return whatever records exist (possibly none) and never treat "no data" as
// an error.
package signals

import (
	"context"
	"time"

	"github.com/kestrelsec/kestrel/internal/assessment"
)

// TimeRange bounds a signal query. A zero From or To means unbounded on
// that side.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Source fetches raw signal records for one (user, domain) pair.
// An empty result is valid; errors indicate the feed itself failed.
type Source interface {
	Fetch(ctx context.Context, userID string, domain assessment.Domain, tr TimeRange) ([]assessment.Signal, error)
}
