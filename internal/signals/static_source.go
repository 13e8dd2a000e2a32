package signals

import (
	"context"

	"github.com/kestrelsec/kestrel/internal/assessment"
)

// StaticSource serves a fixed signal set for demo/development mode, when no
// upstream feed is configured.
type StaticSource struct {
	byDomain map[assessment.Domain][]assessment.Signal
}

// NewStaticSource creates a source that returns the given signals for every
// user, keyed by domain.
func NewStaticSource(byDomain map[assessment.Domain][]assessment.Signal) *StaticSource {
	if byDomain == nil {
		byDomain = make(map[assessment.Domain][]assessment.Signal)
	}
	return &StaticSource{byDomain: byDomain}
}

func (s *StaticSource) Fetch(ctx context.Context, userID string, domain assessment.Domain, tr TimeRange) ([]assessment.Signal, error) {
	return s.byDomain[domain], nil
}
