package assessment

import (
	"errors"
	"testing"
)

func TestParseDomainResponseValid(t *testing.T) {
	raw := `{
		"risk_level": 0.85,
		"risk_factors": ["logins from 4 countries", "new device fingerprint"],
		"anomaly_details": ["login from VN 11 minutes after login from US"],
		"confidence": 0.9,
		"summary": "High risk of account takeover.",
		"thoughts": "The travel pattern between observed locations is not physically possible."
	}`

	a, err := ParseDomainResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.RiskLevel != 0.85 || a.Confidence != 0.9 {
		t.Errorf("numeric fields wrong: risk=%f confidence=%f", a.RiskLevel, a.Confidence)
	}
	if len(a.RiskFactors) != 2 || len(a.AnomalyDetails) != 1 {
		t.Errorf("list fields wrong: %v / %v", a.RiskFactors, a.AnomalyDetails)
	}
}

func TestParseDomainResponseFencedJSON(t *testing.T) {
	raw := "Here is my assessment:\n```json\n" +
		`{"risk_level": 0.1, "risk_factors": ["minor"], "anomaly_details": [], "confidence": 0.7, "summary": "Low risk.", "thoughts": "Nothing unusual in the signals."}` +
		"\n```\n"

	a, err := ParseDomainResponse(raw)
	if err != nil {
		t.Fatalf("fenced JSON should parse: %v", err)
	}
	if a.RiskLevel != 0.1 {
		t.Errorf("risk_level = %f, want 0.1", a.RiskLevel)
	}
}

func TestParseDomainResponseFailures(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantParse bool // ParseError vs SchemaError
	}{
		{"not json", "the user seems fine to me", true},
		{"truncated", `{"risk_level": 0.5, "confi`, true},
		{"missing risk_level", `{"confidence": 0.5, "summary": "s", "thoughts": "t", "risk_factors": ["x"]}`, false},
		{"risk_level above bounds", `{"risk_level": 1.5, "confidence": 0.5, "summary": "s", "thoughts": "t", "risk_factors": ["x"]}`, false},
		{"risk_level below bounds", `{"risk_level": -0.1, "confidence": 0.5, "summary": "s", "thoughts": "t", "risk_factors": ["x"]}`, false},
		{"non-numeric risk_level", `{"risk_level": "high", "confidence": 0.5, "summary": "s", "thoughts": "t", "risk_factors": ["x"]}`, true},
		{"missing confidence", `{"risk_level": 0.5, "summary": "s", "thoughts": "t", "risk_factors": ["x"]}`, false},
		{"confidence out of bounds", `{"risk_level": 0.5, "confidence": 2.0, "summary": "s", "thoughts": "t", "risk_factors": ["x"]}`, false},
		{"empty summary", `{"risk_level": 0.5, "confidence": 0.5, "summary": "  ", "thoughts": "t", "risk_factors": ["x"]}`, false},
		{"empty thoughts", `{"risk_level": 0.5, "confidence": 0.5, "summary": "s", "thoughts": "", "risk_factors": ["x"]}`, false},
		{"no factors with nonzero risk", `{"risk_level": 0.5, "confidence": 0.5, "summary": "s", "thoughts": "t", "risk_factors": []}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDomainResponse(tt.raw)
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *ParseError
			var se *SchemaError
			if tt.wantParse && !errors.As(err, &pe) {
				t.Errorf("expected ParseError, got %T: %v", err, err)
			}
			if !tt.wantParse && !errors.As(err, &se) {
				t.Errorf("expected SchemaError, got %T: %v", err, err)
			}
		})
	}
}

func TestParseDomainResponseZeroRiskAllowsEmptyFactors(t *testing.T) {
	raw := `{"risk_level": 0.0, "risk_factors": [], "anomaly_details": [], "confidence": 0.8, "summary": "Clean.", "thoughts": "No signals indicate fraud."}`
	a, err := ParseDomainResponse(raw)
	if err != nil {
		t.Fatalf("zero risk with empty factors should validate: %v", err)
	}
	if a.RiskLevel != 0.0 {
		t.Errorf("risk_level = %f, want 0.0", a.RiskLevel)
	}
}

func TestParseOverallResponse(t *testing.T) {
	raw := `{"overall_risk_score": 0.72, "accumulated_narrative": "The account shows coordinated anomalies across domains."}`
	o, err := ParseOverallResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.OverallRiskScore != 0.72 {
		t.Errorf("overall_risk_score = %f, want 0.72", o.OverallRiskScore)
	}

	if _, err := ParseOverallResponse(`{"overall_risk_score": 1.2, "accumulated_narrative": "x"}`); err == nil {
		t.Error("out-of-bounds overall score must be rejected")
	}
	if _, err := ParseOverallResponse(`{"accumulated_narrative": "x"}`); err == nil {
		t.Error("missing overall score must be rejected")
	}
	if _, err := ParseOverallResponse(`{"overall_risk_score": 0.5}`); err == nil {
		t.Error("missing narrative must be rejected")
	}
	if _, err := ParseOverallResponse("no json at all"); err == nil {
		t.Error("non-JSON must be rejected")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(1.4) != 1.0 || Clamp(-0.2) != 0.0 || Clamp(0.5) != 0.5 {
		t.Error("clamp bounds wrong")
	}
}

func TestDomainValid(t *testing.T) {
	for _, d := range AllDomains {
		if !d.Valid() {
			t.Errorf("%s should be valid", d)
		}
	}
	if Domain("payments").Valid() {
		t.Error("unknown domain should be invalid")
	}
}
