// Package assessment defines the shared data model for fraud risk
// assessments: raw behavioral signals, per-domain risk judgments, and the
// synthesized overall verdict.
//
// Scores range from 0.0 (safe) to 1.0 (high risk). A DomainAssessment is
// produced either by a model call or by rule-based fallback; the IsFallback
// flag distinguishes the two so reviewers are never handed a degraded number
// without knowing it.
package assessment

import (
	"time"
)

// Domain identifies one category of behavioral evidence.
type Domain string

const (
	DomainDevice   Domain = "device"
	DomainLocation Domain = "location"
	DomainNetwork  Domain = "network"
	DomainLogs     Domain = "logs"
)

// AllDomains lists every analyzer domain in canonical order.
var AllDomains = []Domain{DomainDevice, DomainLocation, DomainNetwork, DomainLogs}

// Valid reports whether d is a known analyzer domain.
func (d Domain) Valid() bool {
	switch d {
	case DomainDevice, DomainLocation, DomainNetwork, DomainLogs:
		return true
	}
	return false
}

// Signal is one observed event record within a domain: a flat mapping of
// field names to scalar values. Signals are immutable once handed to the
// core; insertion order is chronological (most recent last) and is preserved
// through normalization and trimming.
type Signal map[string]any

// Risk band boundaries shared by prompt templates and fallback heuristics.
const (
	BandMediumFloor = 0.4
	BandHighFloor   = 0.7
)

// DomainAssessment is the unit of output from a domain risk assessor.
// Created once per (investigation, domain) pair and immutable after creation.
// A re-assessment of the same domain supersedes the previous one.
type DomainAssessment struct {
	ID              string    `json:"id"`
	InvestigationID string    `json:"investigationId"`
	UserID          string    `json:"userId"`
	Domain          Domain    `json:"domain"`
	RiskLevel       float64   `json:"risk_level"`
	RiskFactors     []string  `json:"risk_factors"`
	AnomalyDetails  []string  `json:"anomaly_details"`
	Confidence      float64   `json:"confidence"`
	Summary         string    `json:"summary"`
	Thoughts        string    `json:"thoughts"`
	Timestamp       time.Time `json:"timestamp"`
	IsFallback      bool      `json:"isFallback"`
	TraceID         string    `json:"traceId,omitempty"`
}

// OverallAssessment is the aggregator's output for one investigation.
type OverallAssessment struct {
	ID                   string    `json:"id"`
	InvestigationID      string    `json:"investigationId"`
	UserID               string    `json:"userId"`
	OverallRiskScore     float64   `json:"overall_risk_score"`
	AccumulatedNarrative string    `json:"accumulated_narrative"`
	IsFallback           bool      `json:"isFallback"`
	ContributingDomains  []Domain  `json:"contributingDomains"`
	Timestamp            time.Time `json:"timestamp"`
	TraceID              string    `json:"traceId,omitempty"`
}

// Clamp bounds a score to [0, 1].
func Clamp(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	if score < 0.0 {
		return 0.0
	}
	return score
}
