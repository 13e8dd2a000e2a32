package investigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrelsec/kestrel/internal/assessment"
	"github.com/kestrelsec/kestrel/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	s := NewPostgresStore(db)

	inv := newInvestigation("inv_pg_1", "user_1")
	if err := s.Create(ctx, inv); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := s.Get(ctx, "inv_pg_1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.UserID != "user_1" || got.Status != StatusOpen {
		t.Errorf("Get() = %+v", got)
	}

	if err := s.UpdateStatus(ctx, "inv_pg_1", StatusAssessed); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	got, _ = s.Get(ctx, "inv_pg_1")
	if got.Status != StatusAssessed {
		t.Errorf("Status = %v, want assessed", got.Status)
	}

	if _, err := s.Get(ctx, "inv_pg_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestPostgresStoreDomainAssessments(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	s := NewPostgresStore(db)
	_ = s.Create(ctx, newInvestigation("inv_pg_2", "user_2"))

	da := assessment.DomainAssessment{
		InvestigationID: "inv_pg_2",
		UserID:          "user_2",
		Domain:          assessment.DomainLocation,
		RiskLevel:       0.65,
		RiskFactors:     []string{"logins from two countries"},
		AnomalyDetails:  []string{"Bucharest login 40 minutes after Chicago login"},
		Confidence:      0.8,
		Summary:         "Elevated location risk.",
		Thoughts:        "The travel window is physically impossible.",
		IsFallback:      false,
		TraceID:         "trace_pg",
		Timestamp:       time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.PutDomainAssessment(ctx, "inv_pg_2", da); err != nil {
		t.Fatalf("PutDomainAssessment() error: %v", err)
	}

	// Upsert supersedes the previous row for the same domain.
	da.RiskLevel = 0.9
	if err := s.PutDomainAssessment(ctx, "inv_pg_2", da); err != nil {
		t.Fatalf("PutDomainAssessment(upsert) error: %v", err)
	}

	got, err := s.GetDomainAssessments(ctx, "inv_pg_2")
	if err != nil {
		t.Fatalf("GetDomainAssessments() error: %v", err)
	}
	stored, ok := got[assessment.DomainLocation]
	if !ok || len(got) != 1 {
		t.Fatalf("GetDomainAssessments() = %v, want one location entry", got)
	}
	if stored.RiskLevel != 0.9 {
		t.Errorf("RiskLevel = %v, want superseding 0.9", stored.RiskLevel)
	}
	if len(stored.RiskFactors) != 1 || stored.RiskFactors[0] != "logins from two countries" {
		t.Errorf("RiskFactors = %v", stored.RiskFactors)
	}
	if stored.TraceID != "trace_pg" {
		t.Errorf("TraceID = %q", stored.TraceID)
	}
}

func TestPostgresStoreOverallAssessment(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	s := NewPostgresStore(db)
	_ = s.Create(ctx, newInvestigation("inv_pg_3", "user_3"))

	if _, err := s.GetOverallAssessment(ctx, "inv_pg_3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOverallAssessment(before put) = %v, want ErrNotFound", err)
	}

	oa := assessment.OverallAssessment{
		InvestigationID:      "inv_pg_3",
		UserID:               "user_3",
		OverallRiskScore:     0.72,
		AccumulatedNarrative: "High risk driven by device and location anomalies.",
		IsFallback:           false,
		ContributingDomains:  []assessment.Domain{assessment.DomainDevice, assessment.DomainLocation},
		Timestamp:            time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.PutOverallAssessment(ctx, "inv_pg_3", oa); err != nil {
		t.Fatalf("PutOverallAssessment() error: %v", err)
	}

	got, err := s.GetOverallAssessment(ctx, "inv_pg_3")
	if err != nil {
		t.Fatalf("GetOverallAssessment() error: %v", err)
	}
	if got.OverallRiskScore != 0.72 {
		t.Errorf("OverallRiskScore = %v, want 0.72", got.OverallRiskScore)
	}
	if len(got.ContributingDomains) != 2 || got.ContributingDomains[0] != assessment.DomainDevice {
		t.Errorf("ContributingDomains = %v", got.ContributingDomains)
	}
}
