package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kestrelsec/kestrel/internal/assessment"
	"github.com/kestrelsec/kestrel/internal/model"
)

type fakeInvoker struct {
	response string
	err      error
	prompt   string
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt string, meta model.Metadata) (string, string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", "", f.err
	}
	return f.response, "trace_agg", nil
}

func domainAssessments(scores map[assessment.Domain]float64) map[assessment.Domain]assessment.DomainAssessment {
	out := make(map[assessment.Domain]assessment.DomainAssessment, len(scores))
	for d, s := range scores {
		out[d] = assessment.DomainAssessment{
			Domain:    d,
			RiskLevel: s,
			Summary:   fmt.Sprintf("%s summary", d),
			Thoughts:  fmt.Sprintf("%s rationale", d),
		}
	}
	return out
}

func TestAggregateRequiresAtLeastOneDomain(t *testing.T) {
	inv := &fakeInvoker{}
	a := New(inv, 6000)

	_, err := a.Aggregate(context.Background(), "inv_1", "user_1", nil)
	if !errors.Is(err, ErrNoDomains) {
		t.Fatalf("err = %v, want ErrNoDomains", err)
	}
	if inv.prompt != "" {
		t.Error("no model call should be attempted with zero domains")
	}
}

func TestAggregateSuccess(t *testing.T) {
	inv := &fakeInvoker{response: `{
		"overall_risk_score": 0.87,
		"accumulated_narrative": "The account shows coordinated anomalies across all evidence categories.\n\nRecommended next actions: suspend the session and require re-verification."
	}`}
	a := New(inv, 6000)

	available := domainAssessments(map[assessment.Domain]float64{
		assessment.DomainDevice:   0.85,
		assessment.DomainLocation: 0.90,
		assessment.DomainNetwork:  0.80,
		assessment.DomainLogs:     0.70,
	})

	oa, err := a.Aggregate(context.Background(), "inv_1", "user_1", available)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if oa.IsFallback {
		t.Error("successful synthesis should not be a fallback")
	}
	if oa.OverallRiskScore != 0.87 {
		t.Errorf("OverallRiskScore = %v, want 0.87", oa.OverallRiskScore)
	}
	if len(oa.ContributingDomains) != 4 {
		t.Errorf("ContributingDomains = %v, want all four", oa.ContributingDomains)
	}
	if oa.ContributingDomains[0] != assessment.DomainDevice || oa.ContributingDomains[3] != assessment.DomainLogs {
		t.Errorf("ContributingDomains not in canonical order: %v", oa.ContributingDomains)
	}
	if oa.Timestamp.IsZero() {
		t.Error("Timestamp should be stamped")
	}
	if oa.TraceID != "trace_agg" {
		t.Errorf("TraceID = %q, want trace_agg", oa.TraceID)
	}
}

func TestAggregatePromptKeyedByDomain(t *testing.T) {
	inv := &fakeInvoker{response: `{"overall_risk_score": 0.5, "accumulated_narrative": "ok"}`}
	a := New(inv, 6000)

	available := domainAssessments(map[assessment.Domain]float64{
		assessment.DomainNetwork: 0.2,
	})
	if _, err := a.Aggregate(context.Background(), "inv_1", "user_1", available); err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if !strings.Contains(inv.prompt, `"network"`) {
		t.Error("prompt payload should be keyed by domain identifier")
	}
	if !strings.Contains(inv.prompt, "network rationale") {
		t.Error("prompt should carry the domain rationale (thoughts preferred over summary)")
	}
}

func TestFallbackBiasAsymmetry(t *testing.T) {
	available := domainAssessments(map[assessment.Domain]float64{
		assessment.DomainDevice:   0.2,
		assessment.DomainLocation: 0.8,
	})

	// Service unavailable averages the domain scores.
	a := New(&fakeInvoker{err: &model.Error{Kind: model.KindServiceUnavailable, Op: "invoke"}}, 6000)
	oa, err := a.Aggregate(context.Background(), "inv_1", "user_1", available)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if !oa.IsFallback || oa.OverallRiskScore != 0.5 {
		t.Errorf("unavailable fallback: score = %v fallback=%v, want mean 0.5", oa.OverallRiskScore, oa.IsFallback)
	}

	// Malformed request takes the max, erring toward flagging.
	a = New(&fakeInvoker{err: &model.Error{Kind: model.KindMalformedRequest, Op: "invoke"}}, 6000)
	oa, err = a.Aggregate(context.Background(), "inv_1", "user_1", available)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if !oa.IsFallback || oa.OverallRiskScore != 0.8 {
		t.Errorf("malformed fallback: score = %v fallback=%v, want max 0.8", oa.OverallRiskScore, oa.IsFallback)
	}
}

func TestFallbackTimeoutTreatedAsUnavailable(t *testing.T) {
	available := domainAssessments(map[assessment.Domain]float64{
		assessment.DomainDevice:   0.2,
		assessment.DomainLocation: 0.8,
	})
	a := New(&fakeInvoker{err: &model.Error{Kind: model.KindTimeout, Op: "invoke"}}, 6000)
	oa, err := a.Aggregate(context.Background(), "inv_1", "user_1", available)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if oa.OverallRiskScore != 0.5 {
		t.Errorf("timeout fallback: score = %v, want mean 0.5", oa.OverallRiskScore)
	}
}

func TestFallbackOnGarbageResponseUsesMax(t *testing.T) {
	available := domainAssessments(map[assessment.Domain]float64{
		assessment.DomainDevice:   0.2,
		assessment.DomainLocation: 0.8,
	})
	a := New(&fakeInvoker{response: "the model rambled instead of emitting JSON"}, 6000)
	oa, err := a.Aggregate(context.Background(), "inv_1", "user_1", available)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if !oa.IsFallback || oa.OverallRiskScore != 0.8 {
		t.Errorf("garbage response fallback: score = %v fallback=%v, want max 0.8", oa.OverallRiskScore, oa.IsFallback)
	}
}

func TestFallbackNarrativeNamesDomainsAndScores(t *testing.T) {
	available := domainAssessments(map[assessment.Domain]float64{
		assessment.DomainNetwork: 0.35,
		assessment.DomainLogs:    0.65,
	})
	a := New(&fakeInvoker{err: &model.Error{Kind: model.KindServiceUnavailable, Op: "invoke"}}, 6000)
	oa, err := a.Aggregate(context.Background(), "inv_1", "user_1", available)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}

	for _, want := range []string{"network=0.35", "logs=0.65", "mean"} {
		if !strings.Contains(oa.AccumulatedNarrative, want) {
			t.Errorf("fallback narrative %q should contain %q", oa.AccumulatedNarrative, want)
		}
	}
}

func TestPartialAggregation(t *testing.T) {
	inv := &fakeInvoker{response: `{"overall_risk_score": 0.25, "accumulated_narrative": "Low risk overall; only network evidence was available."}`}
	a := New(inv, 6000)

	available := domainAssessments(map[assessment.Domain]float64{
		assessment.DomainNetwork: 0.2,
	})
	oa, err := a.Aggregate(context.Background(), "inv_1", "user_1", available)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if len(oa.ContributingDomains) != 1 || oa.ContributingDomains[0] != assessment.DomainNetwork {
		t.Errorf("ContributingDomains = %v, want [network]", oa.ContributingDomains)
	}
}

func TestNarrativeNonAttribution(t *testing.T) {
	// Domain scores are distinct decimals from the overall score; a compliant
	// synthesis narrative quotes none of them.
	narrative := "With an overall_risk_score of 0.87, this account warrants immediate review. Device and location evidence both point to account takeover.\n\nRecommended next actions: lock the account and contact the user out of band."
	inv := &fakeInvoker{response: fmt.Sprintf(`{"overall_risk_score": 0.87, "accumulated_narrative": %q}`, narrative)}
	a := New(inv, 6000)

	available := domainAssessments(map[assessment.Domain]float64{
		assessment.DomainDevice:   0.81,
		assessment.DomainLocation: 0.93,
	})
	oa, err := a.Aggregate(context.Background(), "inv_1", "user_1", available)
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	for _, da := range available {
		quoted := fmt.Sprintf("%.2f", da.RiskLevel)
		if strings.Contains(oa.AccumulatedNarrative, quoted) {
			t.Errorf("narrative quotes domain score %s verbatim", quoted)
		}
	}
}

func TestSystemPromptForbidsDomainScoreQuoting(t *testing.T) {
	inv := &fakeInvoker{response: `{"overall_risk_score": 0.5, "accumulated_narrative": "ok"}`}
	a := New(inv, 6000)
	available := domainAssessments(map[assessment.Domain]float64{assessment.DomainDevice: 0.5})
	if _, err := a.Aggregate(context.Background(), "inv_1", "user_1", available); err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if !strings.Contains(inv.prompt, "Never quote any single domain") {
		t.Error("system prompt should forbid quoting domain scores as the risk score")
	}
}
