// Package assessor runs one domain analyzer: normalized signals in, a
// validated DomainAssessment out. The model path can fail in several ways
// (transport, timeout, bad JSON, schema violations); every failure resolves
// to a rule-based fallback assessment, so Assess never returns an error.
package assessor

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelsec/kestrel/internal/assessment"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/prompt"
	"github.com/kestrelsec/kestrel/internal/traces"
)

// Assessor is one domain analyzer instance. Instances for different domains
// share no state and can run concurrently.
type Assessor struct {
	cfg      Config
	invoker  model.Invoker
	budgeter *prompt.Budgeter
}

// New creates an analyzer for the given domain. Returns false when the
// domain has no registered specialization.
func New(d assessment.Domain, invoker model.Invoker, maxTokens int) (*Assessor, bool) {
	cfg, ok := ConfigFor(d)
	if !ok {
		return nil, false
	}
	return &Assessor{
		cfg:      cfg,
		invoker:  invoker,
		budgeter: prompt.NewBudgeter(maxTokens, cfg.PriorityFields),
	}, true
}

// Domain returns the domain this analyzer is specialized for.
func (a *Assessor) Domain() assessment.Domain {
	return a.cfg.Domain
}

// Assess produces a DomainAssessment for the user's signals. It never
// returns an error: model or validation failures yield a fallback assessment
// with IsFallback set and the failure cause stated in the summary.
//
// domainContext carries authoritative comparison values for domains that use
// them (the location domain reads "registered_country"); pass nil otherwise.
func (a *Assessor) Assess(ctx context.Context, investigationID, userID string, signals []assessment.Signal, domainContext map[string]any) assessment.DomainAssessment {
	ctx, span := traces.StartSpan(ctx, "assessor.assess",
		traces.InvestigationID(investigationID),
		traces.UserID(userID),
		traces.DomainName(string(a.cfg.Domain)),
	)
	defer span.End()

	log := logging.L(ctx).With("domain", a.cfg.Domain, "investigation_id", investigationID)

	normalized := assessment.Normalize(signals, assessment.DefaultMaxSignals)

	payload := map[string]any{"signals": anySlice(normalized)}
	for k, v := range domainContext {
		payload[k] = v
	}

	_, rendered, trimmed := a.budgeter.Trim(payload, a.cfg.SystemPrompt)
	if trimmed {
		metrics.PromptTrimsTotal.WithLabelValues(a.cfg.AgentName).Inc()
		log.Debug("prompt trimmed to fit token budget")
	}

	raw, traceID, err := a.invoker.Invoke(ctx, rendered, model.Metadata{
		AgentName:     a.cfg.AgentName,
		CorrelationID: logging.CorrelationID(ctx),
		UserContext:   map[string]string{"user_id": userID},
	})
	if err != nil {
		cause := invokeCause(err)
		log.Warn("model call failed, using rule-based fallback", "cause", cause, "error", err)
		metrics.AssessmentFallbacksTotal.WithLabelValues(string(a.cfg.Domain), cause).Inc()
		return a.finish(fallbackAssessment(a.cfg, investigationID, userID, normalized, cause), span)
	}

	parsed, err := assessment.ParseDomainResponse(raw)
	if err != nil {
		cause := responseCause(err)
		log.Warn("model response rejected, using rule-based fallback", "cause", cause, "error", err)
		metrics.AssessmentFallbacksTotal.WithLabelValues(string(a.cfg.Domain), cause).Inc()
		return a.finish(fallbackAssessment(a.cfg, investigationID, userID, normalized, cause), span)
	}

	parsed.InvestigationID = investigationID
	parsed.UserID = userID
	parsed.Domain = a.cfg.Domain
	parsed.Timestamp = time.Now().UTC()
	parsed.IsFallback = false
	parsed.TraceID = traceID

	log.Info("domain assessment complete", "risk_level", parsed.RiskLevel, "confidence", parsed.Confidence)
	return a.finish(*parsed, span)
}

func (a *Assessor) finish(da assessment.DomainAssessment, span trace.Span) assessment.DomainAssessment {
	outcome := "model"
	if da.IsFallback {
		outcome = "fallback"
	}
	metrics.AssessmentsTotal.WithLabelValues(string(a.cfg.Domain), outcome).Inc()
	metrics.RiskScore.WithLabelValues(string(a.cfg.Domain)).Observe(da.RiskLevel)
	span.SetAttributes(traces.Fallback(da.IsFallback), traces.RiskScore(da.RiskLevel))
	return da
}

// invokeCause maps a model-boundary error to a fallback cause label.
func invokeCause(err error) string {
	switch model.KindOf(err) {
	case model.KindServiceUnavailable:
		return causeServiceUnavailable
	case model.KindMalformedRequest:
		return causeMalformedRequest
	case model.KindTimeout:
		return causeTimeout
	default:
		return causeOther
	}
}

// responseCause maps a parse/validation error to a fallback cause label.
func responseCause(err error) string {
	var pe *assessment.ParseError
	if errors.As(err, &pe) {
		return causeParseError
	}
	var se *assessment.SchemaError
	if errors.As(err, &se) {
		return causeSchemaError
	}
	return causeOther
}

func anySlice(signals []assessment.Signal) []any {
	out := make([]any, len(signals))
	for i, s := range signals {
		out[i] = map[string]any(s)
	}
	return out
}
