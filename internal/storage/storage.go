// Package storage defines the pluggable persistence interfaces the Job
// Manager (C10) and Cache (C11) depend on, plus in-memory implementations.
// Grounded on ternarybob-quaero's internal/interfaces split (one interface
// per concern, a DB-backed impl behind each), generalized here to Atlas
// Codex's three concerns: jobs, artifacts, evidence.
package storage

import (
	"context"
	"errors"

	"github.com/atlas-codex/atlas-codex/internal/models"
)

// ErrNotFound is returned by any Get/lookup method when the key is absent.
var ErrNotFound = errors.New("storage: not found")

// JobStore persists Job Manager (C10) state: the append-only transition
// log, bounded log ring, and terminal outcome live on the Job value itself
// (spec §4.10); the store is responsible only for keeping it addressable
// by id and by idempotency key.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error)
	ListJobs(ctx context.Context) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// ArtifactStore persists the byte-bearing outputs a job produces; the Job
// Manager stores one per job, a redacted JSON snapshot of the extracted
// rows (spec §4.10 "persist logs/artifacts").
// Artifacts are referenced from Job.ArtifactRefs by id.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, id string, kind string, data []byte) error
	GetArtifact(ctx context.Context, id string) (kind string, data []byte, err error)
	DeleteArtifact(ctx context.Context, id string) error
}

// EvidenceStore persists the GDPR-safe EvidenceRecord trail linking output
// fields back to anchors (spec §3, §9), keyed by job id.
type EvidenceStore interface {
	PutEvidence(ctx context.Context, jobID string, records []models.EvidenceRecord) error
	GetEvidence(ctx context.Context, jobID string) ([]models.EvidenceRecord, error)
}
