package investigation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kestrelsec/kestrel/internal/assessment"
)

// PostgresStore persists investigations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed investigation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the investigation tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS investigations (
			id          VARCHAR(64) PRIMARY KEY,
			user_id     VARCHAR(64) NOT NULL,
			status      VARCHAR(16) NOT NULL CHECK (status IN ('open', 'assessed', 'closed')),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_investigations_user
			ON investigations (user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS domain_assessments (
			investigation_id  VARCHAR(64) NOT NULL REFERENCES investigations(id),
			domain            VARCHAR(16) NOT NULL CHECK (domain IN ('device', 'location', 'network', 'logs')),
			user_id           VARCHAR(64) NOT NULL,
			risk_level        NUMERIC(4,3) NOT NULL CHECK (risk_level >= 0 AND risk_level <= 1),
			risk_factors      JSONB NOT NULL DEFAULT '[]',
			anomaly_details   JSONB NOT NULL DEFAULT '[]',
			confidence        NUMERIC(4,3) NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			summary           TEXT NOT NULL,
			thoughts          TEXT NOT NULL,
			is_fallback       BOOLEAN NOT NULL,
			trace_id          VARCHAR(128),
			assessed_at       TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (investigation_id, domain)
		);

		CREATE TABLE IF NOT EXISTS overall_assessments (
			investigation_id       VARCHAR(64) PRIMARY KEY REFERENCES investigations(id),
			user_id                VARCHAR(64) NOT NULL,
			overall_risk_score     NUMERIC(4,3) NOT NULL CHECK (overall_risk_score >= 0 AND overall_risk_score <= 1),
			accumulated_narrative  TEXT NOT NULL,
			is_fallback            BOOLEAN NOT NULL,
			contributing_domains   TEXT[] NOT NULL,
			trace_id               VARCHAR(128),
			assessed_at            TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, inv *Investigation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO investigations (id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, inv.ID, inv.UserID, string(inv.Status), inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create investigation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Investigation, error) {
	var inv Investigation
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, created_at, updated_at
		FROM investigations WHERE id = $1
	`, id).Scan(&inv.ID, &inv.UserID, &status, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get investigation: %w", err)
	}
	inv.Status = Status(status)
	return &inv, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE investigations SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update investigation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetDomainAssessments(ctx context.Context, investigationID string) (map[assessment.Domain]assessment.DomainAssessment, error) {
	if _, err := s.Get(ctx, investigationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, user_id, risk_level, risk_factors, anomaly_details,
		       confidence, summary, thoughts, is_fallback, trace_id, assessed_at
		FROM domain_assessments
		WHERE investigation_id = $1
	`, investigationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[assessment.Domain]assessment.DomainAssessment)
	for rows.Next() {
		var da assessment.DomainAssessment
		var domain string
		var factorsJSON, anomaliesJSON []byte
		var traceID sql.NullString

		if err := rows.Scan(&domain, &da.UserID, &da.RiskLevel, &factorsJSON, &anomaliesJSON,
			&da.Confidence, &da.Summary, &da.Thoughts, &da.IsFallback, &traceID, &da.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan domain assessment: %w", err)
		}
		da.InvestigationID = investigationID
		da.Domain = assessment.Domain(domain)
		da.TraceID = traceID.String
		_ = json.Unmarshal(factorsJSON, &da.RiskFactors)
		_ = json.Unmarshal(anomaliesJSON, &da.AnomalyDetails)
		out[da.Domain] = da
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutDomainAssessment(ctx context.Context, investigationID string, da assessment.DomainAssessment) error {
	factorsJSON, err := json.Marshal(da.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}
	anomaliesJSON, err := json.Marshal(da.AnomalyDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO domain_assessments
			(investigation_id, domain, user_id, risk_level, risk_factors, anomaly_details,
			 confidence, summary, thoughts, is_fallback, trace_id, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (investigation_id, domain) DO UPDATE SET
			risk_level = EXCLUDED.risk_level,
			risk_factors = EXCLUDED.risk_factors,
			anomaly_details = EXCLUDED.anomaly_details,
			confidence = EXCLUDED.confidence,
			summary = EXCLUDED.summary,
			thoughts = EXCLUDED.thoughts,
			is_fallback = EXCLUDED.is_fallback,
			trace_id = EXCLUDED.trace_id,
			assessed_at = EXCLUDED.assessed_at
	`, investigationID, string(da.Domain), da.UserID, da.RiskLevel, factorsJSON, anomaliesJSON,
		da.Confidence, da.Summary, da.Thoughts, da.IsFallback, nullable(da.TraceID), da.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to put domain assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOverallAssessment(ctx context.Context, investigationID string) (*assessment.OverallAssessment, error) {
	var oa assessment.OverallAssessment
	var domains pq.StringArray
	var traceID sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, overall_risk_score, accumulated_narrative, is_fallback,
		       contributing_domains, trace_id, assessed_at
		FROM overall_assessments WHERE investigation_id = $1
	`, investigationID).Scan(&oa.UserID, &oa.OverallRiskScore, &oa.AccumulatedNarrative,
		&oa.IsFallback, &domains, &traceID, &oa.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get overall assessment: %w", err)
	}

	oa.InvestigationID = investigationID
	oa.TraceID = traceID.String
	oa.ContributingDomains = make([]assessment.Domain, len(domains))
	for i, d := range domains {
		oa.ContributingDomains[i] = assessment.Domain(d)
	}
	return &oa, nil
}

func (s *PostgresStore) PutOverallAssessment(ctx context.Context, investigationID string, oa assessment.OverallAssessment) error {
	domains := make([]string, len(oa.ContributingDomains))
	for i, d := range oa.ContributingDomains {
		domains[i] = string(d)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO overall_assessments
			(investigation_id, user_id, overall_risk_score, accumulated_narrative,
			 is_fallback, contributing_domains, trace_id, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (investigation_id) DO UPDATE SET
			overall_risk_score = EXCLUDED.overall_risk_score,
			accumulated_narrative = EXCLUDED.accumulated_narrative,
			is_fallback = EXCLUDED.is_fallback,
			contributing_domains = EXCLUDED.contributing_domains,
			trace_id = EXCLUDED.trace_id,
			assessed_at = EXCLUDED.assessed_at
	`, investigationID, oa.UserID, oa.OverallRiskScore, oa.AccumulatedNarrative,
		oa.IsFallback, pq.Array(domains), nullable(oa.TraceID), oa.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to put overall assessment: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
