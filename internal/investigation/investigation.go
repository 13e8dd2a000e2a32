// Package investigation manages the case record tying together per-domain
// assessments and the overall verdict for one user under review.
package investigation

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelsec/kestrel/internal/assessment"
)

var (
	ErrNotFound = errors.New("investigation not found")
)

// Status tracks where an investigation is in its lifecycle.
type Status string

const (
	StatusOpen     Status = "open"
	StatusAssessed Status = "assessed"
	StatusClosed   Status = "closed"
)

// Investigation is one fraud case for one user.
type Investigation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists investigations and their assessments.
//
// Domain assessment writes are last-writer-wins per (investigation, domain):
// each domain writes exactly once per investigation run, and a re-run
// supersedes the previous assessment.
type Store interface {
	Create(ctx context.Context, inv *Investigation) error
	Get(ctx context.Context, id string) (*Investigation, error)
	UpdateStatus(ctx context.Context, id string, status Status) error

	GetDomainAssessments(ctx context.Context, investigationID string) (map[assessment.Domain]assessment.DomainAssessment, error)
	PutDomainAssessment(ctx context.Context, investigationID string, da assessment.DomainAssessment) error

	GetOverallAssessment(ctx context.Context, investigationID string) (*assessment.OverallAssessment, error)
	PutOverallAssessment(ctx context.Context, investigationID string, oa assessment.OverallAssessment) error
}
