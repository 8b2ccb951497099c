// Package service orchestrates verification requests: opening them,
// collecting proofs, running checks against the proof verifiers and turning
// the resulting tier into an approval and attestation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amodels "tokenverif/internal/attestation/models"
	attsvc "tokenverif/internal/attestation/service"
	"tokenverif/internal/platform/metrics"
	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	id "tokenverif/pkg/domain"
	dErrors "tokenverif/pkg/domain-errors"
	audit "tokenverif/pkg/platform/audit"
	"tokenverif/pkg/platform/sentinel"
)

// Store persists tokens, requests and proofs.
type Store interface {
	GetToken(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	GetProject(ctx context.Context, projectID id.ProjectID) (*models.Project, error)
	UpdateTokenReverifyState(ctx context.Context, tokenID id.TokenID, status models.ReverifyStatus, failures int) error
	CreateRequest(ctx context.Context, req *models.Request) error
	GetRequest(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	UpdateRequest(ctx context.Context, req *models.Request) error
	ListProofs(ctx context.Context, requestID id.RequestID) ([]models.Proof, error)
	// SaveProof inserts or replaces the request's proof of the same type.
	SaveProof(ctx context.Context, proof *models.Proof) error
}

// Attestations issues and revokes signed attestations.
type Attestations interface {
	CreateAttestation(ctx context.Context, in attsvc.CreateInput) (*amodels.Attestation, error)
	RevokeLatest(ctx context.Context, tokenID id.TokenID, reason string) (*amodels.Attestation, error)
	GetLive(ctx context.Context, tokenID id.TokenID) (*amodels.Attestation, error)
}

const defaultProofTimeout = 10 * time.Second

// Service is the verification orchestrator.
type Service struct {
	store        Store
	verifiers    *proofs.Registry
	attestations Attestations
	proofTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	publisher    audit.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithProofTimeout bounds each proof check, retries included.
func WithProofTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.proofTimeout = d
		}
	}
}

func New(store Store, verifiers *proofs.Registry, attestations Attestations, opts ...Option) *Service {
	s := &Service{
		store:        store,
		verifiers:    verifiers,
		attestations: attestations,
		proofTimeout: defaultProofTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) loadRequest(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
	}
	return req, nil
}

func (s *Service) loadToken(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	token, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "token not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load token")
	}
	return token, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	audit.LogAudit(ctx, s.logger, s.publisher, event)
}
