// Package aggregator synthesizes per-domain risk assessments into one
// overall verdict. The model path produces a multi-paragraph narrative tied
// to a single overall score; when the model path fails the score degrades to
// a deterministic combination of the available domain scores, with the
// combination formula chosen by failure class.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelsec/kestrel/internal/assessment"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/prompt"
	"github.com/kestrelsec/kestrel/internal/traces"
)

const agentName = "risk-aggregator"

// ErrNoDomains is returned when aggregation is requested with zero domain
// assessments. This is a caller error, rejected before any model call.
var ErrNoDomains = errors.New("aggregation requires at least one domain assessment")

const systemPrompt = `You are a senior fraud analyst writing the overall risk verdict for one
user account. You will receive a "domains" object keyed by domain name
(device, location, network, logs); each entry carries that domain's
risk_level and the analyst rationale behind it.

Produce:
1. One overall_risk_score in [0.0, 1.0] weighing all domains together.
2. An accumulated_narrative: multi-paragraph professional prose explaining
   the score using evidence from each domain, ending with concrete
   recommended next actions for the reviewing analyst.

The narrative must refer to the user's risk only via overall_risk_score.
Never quote any single domain's risk_level as "the" risk score; domain
evidence may be described qualitatively, but the only number presented as the
user's risk is the overall score.

Respond with a single JSON object and nothing else:
{"overall_risk_score": <float 0.0-1.0>, "accumulated_narrative": "<prose>"}`

// Aggregator combines domain assessments into an OverallAssessment.
type Aggregator struct {
	invoker  model.Invoker
	budgeter *prompt.Budgeter
}

// New creates an aggregator using the given model invoker.
func New(invoker model.Invoker, maxTokens int) *Aggregator {
	return &Aggregator{
		invoker:  invoker,
		budgeter: prompt.NewBudgeter(maxTokens, []string{"domains"}),
	}
}

// Aggregate produces the overall assessment from whichever domain
// assessments are available. Partial aggregation (fewer than four domains)
// is a supported mode. The only caller-visible error is ErrNoDomains; all
// model-path failures resolve to a deterministic fallback.
func (a *Aggregator) Aggregate(ctx context.Context, investigationID, userID string, available map[assessment.Domain]assessment.DomainAssessment) (assessment.OverallAssessment, error) {
	if len(available) == 0 {
		return assessment.OverallAssessment{}, ErrNoDomains
	}

	ctx, span := traces.StartSpan(ctx, "aggregator.aggregate",
		traces.InvestigationID(investigationID),
		traces.UserID(userID),
	)
	defer span.End()

	log := logging.L(ctx).With("investigation_id", investigationID, "domains", len(available))
	domains := orderedDomains(available)

	payload := map[string]any{"domains": domainPayload(domains, available)}
	_, rendered, trimmed := a.budgeter.Trim(payload, systemPrompt)
	if trimmed {
		metrics.PromptTrimsTotal.WithLabelValues(agentName).Inc()
	}

	raw, traceID, err := a.invoker.Invoke(ctx, rendered, model.Metadata{
		AgentName:     agentName,
		CorrelationID: logging.CorrelationID(ctx),
		UserContext:   map[string]string{"user_id": userID},
	})
	if err != nil {
		log.Warn("aggregation model call failed, using deterministic fallback", "kind", model.KindOf(err), "error", err)
		return a.finish(fallbackOverall(investigationID, userID, domains, available, model.KindOf(err)), span), nil
	}

	parsed, err := assessment.ParseOverallResponse(raw)
	if err != nil {
		// A response the schema gate rejects is treated like a malformed
		// exchange: bias conservative (max) rather than averaging.
		log.Warn("aggregation response rejected, using deterministic fallback", "error", err)
		return a.finish(fallbackOverall(investigationID, userID, domains, available, model.KindMalformedRequest), span), nil
	}

	parsed.InvestigationID = investigationID
	parsed.UserID = userID
	parsed.IsFallback = false
	parsed.ContributingDomains = domains
	parsed.Timestamp = time.Now().UTC()
	parsed.TraceID = traceID

	log.Info("aggregation complete", "overall_risk_score", parsed.OverallRiskScore)
	return a.finish(*parsed, span), nil
}

func (a *Aggregator) finish(oa assessment.OverallAssessment, span trace.Span) assessment.OverallAssessment {
	outcome := "model"
	if oa.IsFallback {
		outcome = "fallback"
	}
	metrics.AggregationsTotal.WithLabelValues(outcome).Inc()
	metrics.RiskScore.WithLabelValues("overall").Observe(oa.OverallRiskScore)
	span.SetAttributes(traces.Fallback(oa.IsFallback), traces.RiskScore(oa.OverallRiskScore))
	return oa
}

// fallbackOverall computes the deterministic degraded verdict. The formula is
// chosen by failure class: an unavailable or timed-out backend averages the
// domain scores, while a rejected or unintelligible exchange takes their max,
// erring toward flagging when the model's own judgment never arrived.
func fallbackOverall(investigationID, userID string, domains []assessment.Domain, available map[assessment.Domain]assessment.DomainAssessment, kind model.Kind) assessment.OverallAssessment {
	var score float64
	var formula string
	switch kind {
	case model.KindServiceUnavailable, model.KindTimeout:
		score = meanScore(domains, available)
		formula = "mean"
	default:
		score = maxScore(domains, available)
		formula = "max"
	}

	parts := make([]string, len(domains))
	for i, d := range domains {
		parts[i] = fmt.Sprintf("%s=%.2f", d, available[d].RiskLevel)
	}
	narrative := fmt.Sprintf(
		"Degraded verdict: the synthesis model could not be used (%s), so the overall risk score %.2f "+
			"was computed as the %s of the available domain scores (%s). "+
			"Re-run aggregation once the model path recovers for a full narrative.",
		kind, score, formula, strings.Join(parts, ", "),
	)

	return assessment.OverallAssessment{
		InvestigationID:      investigationID,
		UserID:               userID,
		OverallRiskScore:     assessment.Clamp(score),
		AccumulatedNarrative: narrative,
		IsFallback:           true,
		ContributingDomains:  domains,
		Timestamp:            time.Now().UTC(),
	}
}

func meanScore(domains []assessment.Domain, available map[assessment.Domain]assessment.DomainAssessment) float64 {
	var sum float64
	for _, d := range domains {
		sum += available[d].RiskLevel
	}
	return sum / float64(len(domains))
}

func maxScore(domains []assessment.Domain, available map[assessment.Domain]assessment.DomainAssessment) float64 {
	var m float64
	for _, d := range domains {
		if available[d].RiskLevel > m {
			m = available[d].RiskLevel
		}
	}
	return m
}

// domainPayload serializes each domain's score and rationale for the
// aggregation prompt, keyed by domain identifier. Thoughts are preferred
// over the shorter summary when present.
func domainPayload(domains []assessment.Domain, available map[assessment.Domain]assessment.DomainAssessment) map[string]any {
	out := make(map[string]any, len(domains))
	for _, d := range domains {
		da := available[d]
		rationale := da.Thoughts
		if rationale == "" {
			rationale = da.Summary
		}
		out[string(d)] = map[string]any{
			"risk_level": da.RiskLevel,
			"rationale":  rationale,
			"fallback":   da.IsFallback,
		}
	}
	return out
}

// orderedDomains returns the available domains in canonical order so prompts
// and fallback narratives are deterministic.
func orderedDomains(available map[assessment.Domain]assessment.DomainAssessment) []assessment.Domain {
	out := make([]assessment.Domain, 0, len(available))
	for d := range available {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return canonicalIndex(out[i]) < canonicalIndex(out[j]) })
	return out
}

func canonicalIndex(d assessment.Domain) int {
	for i, known := range assessment.AllDomains {
		if known == d {
			return i
		}
	}
	return len(assessment.AllDomains)
}
