package assessment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire contract for model responses. Validation here is a hard gate: a
// response missing a required field, or carrying a non-numeric or
// out-of-bounds score, is rejected and routed to fallback by the caller.

// ParseError indicates the model response was not valid JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "response is not valid JSON: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError indicates the response parsed but violates the contract.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation on %q: %s", e.Field, e.Reason)
}

// domainWire mirrors the JSON shape the domain prompts mandate. Pointers
// distinguish absent from zero-valued fields.
type domainWire struct {
	RiskLevel      *float64 `json:"risk_level"`
	RiskFactors    []string `json:"risk_factors"`
	AnomalyDetails []string `json:"anomaly_details"`
	Confidence     *float64 `json:"confidence"`
	Summary        *string  `json:"summary"`
	Thoughts       *string  `json:"thoughts"`
}

type overallWire struct {
	OverallRiskScore     *float64 `json:"overall_risk_score"`
	AccumulatedNarrative *string  `json:"accumulated_narrative"`
}

// ParseDomainResponse validates a raw model response against the domain
// assessment contract and returns the validated fields. The caller stamps
// identity, timestamp, and the fallback flag.
func ParseDomainResponse(raw string) (*DomainAssessment, error) {
	body := extractJSON(raw)

	var w domainWire
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return nil, &ParseError{Err: err}
	}

	if w.RiskLevel == nil {
		return nil, &SchemaError{Field: "risk_level", Reason: "missing"}
	}
	if *w.RiskLevel < 0.0 || *w.RiskLevel > 1.0 {
		return nil, &SchemaError{Field: "risk_level", Reason: fmt.Sprintf("%.3f outside [0.0, 1.0]", *w.RiskLevel)}
	}
	if w.Confidence == nil {
		return nil, &SchemaError{Field: "confidence", Reason: "missing"}
	}
	if *w.Confidence < 0.0 || *w.Confidence > 1.0 {
		return nil, &SchemaError{Field: "confidence", Reason: fmt.Sprintf("%.3f outside [0.0, 1.0]", *w.Confidence)}
	}
	if w.Summary == nil || strings.TrimSpace(*w.Summary) == "" {
		return nil, &SchemaError{Field: "summary", Reason: "missing or empty"}
	}
	if w.Thoughts == nil || strings.TrimSpace(*w.Thoughts) == "" {
		return nil, &SchemaError{Field: "thoughts", Reason: "missing or empty"}
	}
	if len(w.RiskFactors) == 0 && *w.RiskLevel > 0.0 {
		return nil, &SchemaError{Field: "risk_factors", Reason: "empty with non-zero risk_level"}
	}

	return &DomainAssessment{
		RiskLevel:      *w.RiskLevel,
		RiskFactors:    w.RiskFactors,
		AnomalyDetails: w.AnomalyDetails,
		Confidence:     *w.Confidence,
		Summary:        strings.TrimSpace(*w.Summary),
		Thoughts:       strings.TrimSpace(*w.Thoughts),
	}, nil
}

// ParseOverallResponse validates a raw aggregation response. The contract is
// exactly {overall_risk_score, accumulated_narrative}.
func ParseOverallResponse(raw string) (*OverallAssessment, error) {
	body := extractJSON(raw)

	var w overallWire
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return nil, &ParseError{Err: err}
	}

	if w.OverallRiskScore == nil {
		return nil, &SchemaError{Field: "overall_risk_score", Reason: "missing"}
	}
	if *w.OverallRiskScore < 0.0 || *w.OverallRiskScore > 1.0 {
		return nil, &SchemaError{Field: "overall_risk_score", Reason: fmt.Sprintf("%.3f outside [0.0, 1.0]", *w.OverallRiskScore)}
	}
	if w.AccumulatedNarrative == nil || strings.TrimSpace(*w.AccumulatedNarrative) == "" {
		return nil, &SchemaError{Field: "accumulated_narrative", Reason: "missing or empty"}
	}

	return &OverallAssessment{
		OverallRiskScore:     *w.OverallRiskScore,
		AccumulatedNarrative: strings.TrimSpace(*w.AccumulatedNarrative),
	}, nil
}

// extractJSON peels markdown code fences and surrounding prose off a model
// response, returning the outermost JSON object. Models occasionally wrap
// their output despite instructions; the validation gate still applies to
// whatever is extracted.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
