package assessor

import (
	"fmt"
	"time"

	"github.com/kestrelsec/kestrel/internal/assessment"
)

// fallbackConfidence is the fixed confidence stamped on every rule-based
// assessment, signalling a degraded result to downstream consumers.
const fallbackConfidence = 0.2

// Failure causes distinguished in fallback output. Each maps to a distinct
// risk_factors entry and summary phrasing so an operator reading the
// assessment can tell why the model path was skipped.
const (
	causeServiceUnavailable = "service_unavailable"
	causeMalformedRequest   = "malformed_request"
	causeTimeout            = "timeout"
	causeParseError         = "parse_error"
	causeSchemaError        = "schema_error"
	causeOther              = "model_error"
)

func causePhrase(cause string) string {
	switch cause {
	case causeServiceUnavailable:
		return "the model service was unavailable"
	case causeMalformedRequest:
		return "the model service rejected the request"
	case causeTimeout:
		return "the model call timed out"
	case causeParseError:
		return "the model response was not valid JSON"
	case causeSchemaError:
		return "the model response failed schema validation"
	default:
		return "the model call failed"
	}
}

// fallbackAssessment builds a rule-based DomainAssessment from the normalized
// signals. The score depends only on the signals, not on why the model failed;
// the cause shapes the narrative fields so the degradation is visible.
func fallbackAssessment(cfg Config, investigationID, userID string, signals []assessment.Signal, cause string) assessment.DomainAssessment {
	score, factors, anomalies := fallbackScore(cfg, signals)

	phrase := causePhrase(cause)
	factors = append([]string{fmt.Sprintf("degraded rule-based assessment: %s", phrase)}, factors...)

	summary := fmt.Sprintf(
		"Rule-based %s assessment (score %.2f) because %s; based on %d signals.",
		cfg.Domain, score, phrase, len(signals),
	)
	thoughts := fmt.Sprintf(
		"The model-based %s analysis could not complete because %s. "+
			"This assessment was derived from deterministic heuristics over the %d available signals: "+
			"distinct %s values drive the base score, and distinct %s values can raise it. "+
			"Treat the score as low-confidence and re-run the domain once the model path recovers.",
		cfg.Domain, phrase, len(signals), cfg.PrimaryField, cfg.SecondaryField,
	)

	return assessment.DomainAssessment{
		InvestigationID: investigationID,
		UserID:          userID,
		Domain:          cfg.Domain,
		RiskLevel:       score,
		RiskFactors:     factors,
		AnomalyDetails:  anomalies,
		Confidence:      fallbackConfidence,
		Summary:         summary,
		Thoughts:        thoughts,
		Timestamp:       time.Now().UTC(),
		IsFallback:      true,
	}
}

// fallbackScore computes the deterministic score from signal cardinality.
// The primary categorical field sets the base; the secondary field can only
// raise it via max(), never by summing, so stacked heuristics cannot inflate
// the score past either one's ceiling.
func fallbackScore(cfg Config, signals []assessment.Signal) (score float64, factors, anomalies []string) {
	primary := distinctValues(signals, cfg.PrimaryField)
	secondary := distinctValues(signals, cfg.SecondaryField)

	score = thresholdScore(len(primary), cfg.PrimaryHigh, cfg.PrimaryModerate)
	if score > 0 {
		factors = append(factors, fmt.Sprintf("%d distinct %s values observed", len(primary), cfg.PrimaryField))
		anomalies = append(anomalies, fmt.Sprintf("signals span %d distinct %s values: %v", len(primary), cfg.PrimaryField, primary))
	}

	secondaryScore := thresholdScore(len(secondary), cfg.SecondaryHigh, cfg.SecondaryModerate)
	if secondaryScore > score {
		score = secondaryScore
	}
	if secondaryScore > 0 {
		factors = append(factors, fmt.Sprintf("%d distinct %s values observed", len(secondary), cfg.SecondaryField))
	}

	return assessment.Clamp(score), factors, anomalies
}

// thresholdScore maps a distinct-value count onto the fallback score bands:
// strictly above the high threshold scores 0.55, strictly above the moderate
// threshold scores 0.3, otherwise 0.
func thresholdScore(count, high, moderate int) float64 {
	switch {
	case count > high:
		return 0.55
	case count > moderate:
		return 0.3
	default:
		return 0
	}
}

// distinctValues returns the ordered distinct stringified values of a field
// across signals, skipping signals where the field is absent.
func distinctValues(signals []assessment.Signal, field string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sig := range signals {
		v, ok := sig[field]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
