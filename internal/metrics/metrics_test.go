package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestAssessmentsTotalLabels(t *testing.T) {
	before := counterValue(t, "device", "model")
	AssessmentsTotal.WithLabelValues("device", "model").Inc()
	after := counterValue(t, "device", "model")
	if after != before+1 {
		t.Errorf("counter = %v, want %v", after, before+1)
	}
}

func counterValue(t *testing.T, domain, outcome string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := AssessmentsTotal.WithLabelValues(domain, outcome).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestFallbackCounterIndependentLabels(t *testing.T) {
	AssessmentFallbacksTotal.WithLabelValues("network", "timeout").Inc()
	AssessmentFallbacksTotal.WithLabelValues("network", "service_unavailable").Inc()

	m := &dto.Metric{}
	if err := AssessmentFallbacksTotal.WithLabelValues("network", "timeout").Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetCounter().GetValue() < 1 {
		t.Error("timeout label should have been incremented")
	}
}

func TestStatusBucket(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "1xx"},
	}
	for _, tc := range cases {
		if got := statusBucket(tc.code); got != tc.want {
			t.Errorf("statusBucket(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestRiskScoreHistogram(t *testing.T) {
	RiskScore.WithLabelValues("overall").Observe(0.55)

	m := &dto.Metric{}
	if err := RiskScore.WithLabelValues("overall").(interface {
		Write(*dto.Metric) error
	}).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetHistogram().GetSampleCount() < 1 {
		t.Error("histogram should have at least one sample")
	}
}
