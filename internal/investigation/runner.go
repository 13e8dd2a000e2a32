package investigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelsec/kestrel/internal/assessment"
	"github.com/kestrelsec/kestrel/internal/assessor"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/signals"
)

// Notifier receives assessment lifecycle events. Implementations must not
// block; the realtime hub fans events out to connected clients.
type Notifier interface {
	DomainAssessed(investigationID string, da assessment.DomainAssessment)
	VerdictReady(investigationID string, oa assessment.OverallAssessment)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) DomainAssessed(string, assessment.DomainAssessment) {}
func (NopNotifier) VerdictReady(string, assessment.OverallAssessment)  {}

// Runner fans domain assessments out across independent analyzers and
// persists their results. Each domain runs under its own timeout; analyzers
// share no state, so they run concurrently.
type Runner struct {
	store         Store
	source        signals.Source
	assessors     map[assessment.Domain]*assessor.Assessor
	notifier      Notifier
	domainTimeout time.Duration
}

// NewRunner wires a runner over the given store, signal source, and
// analyzers. timeout bounds each domain's end-to-end run (signal fetch plus
// model call); zero means 30 seconds.
func NewRunner(store Store, source signals.Source, assessors map[assessment.Domain]*assessor.Assessor, notifier Notifier, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Runner{
		store:         store,
		source:        source,
		assessors:     assessors,
		notifier:      notifier,
		domainTimeout: timeout,
	}
}

// RunDomains assesses the given domains for one investigation concurrently
// and writes each result to the store as it completes. An assessment is
// written atomically or not at all: if the run is cancelled mid-flight, the
// in-progress domain is abandoned and the store is left untouched for it.
//
// domainContext carries optional per-domain comparison values (e.g. the
// location domain's registered country).
//
// The returned map holds whichever assessments completed and were written.
// The error reports store or signal-feed failures; assessment itself cannot
// fail (analyzers fall back internally).
func (r *Runner) RunDomains(ctx context.Context, inv *Investigation, domains []assessment.Domain, domainContext map[assessment.Domain]map[string]any) (map[assessment.Domain]assessment.DomainAssessment, error) {
	results := make(map[assessment.Domain]assessment.DomainAssessment, len(domains))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range domains {
		a, ok := r.assessors[d]
		if !ok {
			return nil, fmt.Errorf("no analyzer registered for domain %q", d)
		}
		d := d
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, r.domainTimeout)
			defer cancel()

			sigs, err := r.source.Fetch(dctx, inv.UserID, d, signals.TimeRange{})
			if err != nil {
				// The feed failing is not an assessment failure: the analyzer
				// still produces a (fallback-capable) result from zero signals.
				logging.L(dctx).Warn("signal fetch failed, assessing with no signals",
					"domain", d, "error", err)
				sigs = nil
			}

			da := a.Assess(dctx, inv.ID, inv.UserID, sigs, domainContext[d])

			// Write-or-abandon: a cancelled run must not leave a partial
			// record behind.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := r.store.PutDomainAssessment(ctx, inv.ID, da); err != nil {
				return fmt.Errorf("persist %s assessment: %w", d, err)
			}

			mu.Lock()
			results[d] = da
			mu.Unlock()
			r.notifier.DomainAssessed(inv.ID, da)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
