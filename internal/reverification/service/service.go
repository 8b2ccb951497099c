// Package service implements periodic re-verification of approved tokens.
//
// A run has two phases. ScheduleJobs queues a job for every approved token
// whose last successful check is older than the maximum proof age.
// ProcessJobs claims a bounded batch of due jobs and re-runs the proof checks
// of each token's approved request, driving the token through ok, grace,
// failing and finally revoked.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amodels "tokenverif/internal/attestation/models"
	"tokenverif/internal/platform/metrics"
	"tokenverif/internal/reverification/models"
	vmodels "tokenverif/internal/verification/models"
	vsvc "tokenverif/internal/verification/service"
	id "tokenverif/pkg/domain"
	audit "tokenverif/pkg/platform/audit"
	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/requestcontext"
)

// Store persists jobs and the per-token re-verification state.
type Store interface {
	ListCandidates(ctx context.Context) ([]models.Candidate, error)
	// CreateJob fails with sentinel.ErrConflict if the token already has an
	// open job.
	CreateJob(ctx context.Context, job *models.Job) error
	// ClaimDueJobs moves up to limit scheduled jobs due at now to in_progress,
	// oldest first, so concurrent claimers never share a job.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	GetToken(ctx context.Context, tokenID id.TokenID) (*vmodels.Token, error)
	UpdateTokenReverifyState(ctx context.Context, tokenID id.TokenID, status vmodels.ReverifyStatus, failures int) error
	// FindApprovedRequest returns the token's most recently approved request.
	FindApprovedRequest(ctx context.Context, tokenID id.TokenID) (*vmodels.Request, error)
}

// Checker re-runs proof checks and revokes approvals.
type Checker interface {
	RunChecks(ctx context.Context, requestID id.RequestID) (*vsvc.CheckResult, error)
	RevokeVerification(ctx context.Context, requestID id.RequestID, reason string) (*vmodels.Request, error)
}

// Locker grants at most one concurrent ProcessJobs run.
type Locker interface {
	TryLock(ctx context.Context) (release func(context.Context) error, acquired bool, err error)
}

// Config bounds the state machine.
type Config struct {
	MaxProofAge time.Duration
	MaxFailures int
	BatchSize   int
	RetryDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxProofAge: 30 * 24 * time.Hour,
		MaxFailures: 3,
		BatchSize:   50,
		RetryDelay:  24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxProofAge <= 0 {
		c.MaxProofAge = d.MaxProofAge
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

type Service struct {
	store     Store
	checker   Checker
	cfg       Config
	locker    Locker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher audit.Publisher
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

// WithLocker makes ProcessJobs skip the run when another process holds the lock.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

func New(store Store, checker Checker, cfg Config, opts ...Option) *Service {
	s := &Service{store: store, checker: checker, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleJobs queues a job for every approved token that is due for a
// re-check and has no open job. It returns the number of jobs created.
func (s *Service) ScheduleJobs(ctx context.Context) (int, error) {
	candidates, err := s.store.ListCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list re-verification candidates: %w", err)
	}

	now := requestcontext.Now(ctx)
	created := 0
	for _, c := range candidates {
		if c.HasOpenJob || now.Sub(c.LastCheckedAt()) <= s.cfg.MaxProofAge {
			continue
		}
		err := s.store.CreateJob(ctx, models.NewJob(c.TokenID, now, now))
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("schedule job for token %s: %w", c.TokenID, err)
		}
		created++
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "re-verification jobs scheduled",
			"candidates", len(candidates),
			"created", created,
		)
	}
	return created, nil
}

// Outcome labels how a processed job ended.
type Outcome string

const (
	OutcomePassed       Outcome = "passed"
	OutcomeGracePeriod  Outcome = "grace_period"
	OutcomeInconclusive Outcome = "inconclusive"
	OutcomeRevoked      Outcome = "revoked"
	OutcomeFailed       Outcome = "failed"
)

// BatchResult counts job outcomes of one ProcessJobs run.
type BatchResult struct {
	Skipped  bool
	Claimed  int
	Outcomes map[Outcome]int
}

// ProcessJobs claims and processes one batch of due jobs. Each job is
// independent; an error or panic is recorded on that job as failed and the
// batch continues.
func (s *Service) ProcessJobs(ctx context.Context) (*BatchResult, error) {
	result := &BatchResult{Outcomes: make(map[Outcome]int)}

	if s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx)
		if err != nil {
			return nil, err
		}
		if !acquired {
			if s.logger != nil {
				s.logger.InfoContext(ctx, "re-verification run skipped, lock held elsewhere")
			}
			result.Skipped = true
			return result, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "failed to release re-verification lock", "error", err)
			}
		}()
	}

	start := time.Now()
	defer func() { s.metrics.ObserveReverificationBatch(time.Since(start)) }()

	now := requestcontext.Now(ctx)
	ctx = requestcontext.WithTime(ctx, now)
	jobs, err := s.store.ClaimDueJobs(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	result.Claimed = len(jobs)

	for _, job := range jobs {
		outcome := s.runJob(ctx, job)
		result.Outcomes[outcome]++
		s.metrics.IncReverificationJob(string(outcome))
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "re-verification batch processed",
			"claimed", result.Claimed,
			"passed", result.Outcomes[OutcomePassed],
			"grace_period", result.Outcomes[OutcomeGracePeriod],
			"inconclusive", result.Outcomes[OutcomeInconclusive],
			"revoked", result.Outcomes[OutcomeRevoked],
			"failed", result.Outcomes[OutcomeFailed],
		)
	}
	return result, nil
}

// runJob processes one job and converts any error or panic into a failed job.
func (s *Service) runJob(ctx context.Context, job *models.Job) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = s.failJob(ctx, job, fmt.Errorf("panic: %v", r))
		}
	}()

	outcome, err := s.processJob(ctx, job)
	if err != nil {
		return s.failJob(ctx, job, err)
	}
	return outcome
}

func (s *Service) failJob(ctx context.Context, job *models.Job, cause error) Outcome {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "re-verification job failed",
			"job_id", job.ID.String(),
			"token_id", job.TokenID.String(),
			"error", cause,
		)
	}
	if job.Status == models.JobStatusInProgress {
		if err := job.Complete(models.JobStatusFailed, job.ConsecutiveFailures, "error: "+cause.Error(), requestcontext.Now(ctx)); err == nil {
			if err := s.store.UpdateJob(ctx, job); err != nil && s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to record job failure", "job_id", job.ID.String(), "error", err)
			}
		}
	}
	return OutcomeFailed
}

func (s *Service) processJob(ctx context.Context, job *models.Job) (Outcome, error) {
	now := requestcontext.Now(ctx)

	req, err := s.store.FindApprovedRequest(ctx, job.TokenID)
	if errors.Is(err, sentinel.ErrNotFound) {
		if err := job.Complete(models.JobStatusFailed, job.ConsecutiveFailures, "no approved verification request", now); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeFailed, s.store.UpdateJob(ctx, job)
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find approved request: %w", err)
	}
	token, err := s.store.GetToken(ctx, job.TokenID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load token: %w", err)
	}

	checks, err := s.checker.RunChecks(ctx, req.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("run checks: %w", err)
	}
	summary := summarize(checks)

	switch {
	case checks.Tier.IsApproved():
		return OutcomePassed, s.pass(ctx, job, token, req, summary)
	case inconclusive(checks):
		return OutcomeInconclusive, s.postpone(ctx, job, token, req, summary)
	}

	failures := token.ConsecutiveFailures + 1
	if failures >= s.cfg.MaxFailures {
		return OutcomeRevoked, s.revoke(ctx, job, token, req, failures, summary)
	}
	return OutcomeGracePeriod, s.grace(ctx, job, token, req, failures, summary)
}

func (s *Service) pass(ctx context.Context, job *models.Job, token *vmodels.Token, req *vmodels.Request, summary string) error {
	now := requestcontext.Now(ctx)
	if err := s.store.UpdateTokenReverifyState(ctx, token.ID, vmodels.ReverifyStatusOK, 0); err != nil {
		return fmt.Errorf("update token state: %w", err)
	}
	if err := job.Complete(models.JobStatusPassed, 0, summary, now); err != nil {
		return err
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	s.logEvent(ctx, audit.EventReverificationPassed, job, req, summary, 0)
	return nil
}

// postpone keeps the failure counter when an external system was unreachable,
// and checks again after the retry delay.
func (s *Service) postpone(ctx context.Context, job *models.Job, token *vmodels.Token, req *vmodels.Request, summary string) error {
	now := requestcontext.Now(ctx)
	if err := job.Complete(models.JobStatusGracePeriod, token.ConsecutiveFailures, "inconclusive: "+summary, now); err != nil {
		return err
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err := s.scheduleRetry(ctx, job.TokenID, now); err != nil {
		return err
	}
	s.logEvent(ctx, audit.EventReverificationDeferred, job, req, summary, token.ConsecutiveFailures)
	return nil
}

func (s *Service) grace(ctx context.Context, job *models.Job, token *vmodels.Token, req *vmodels.Request, failures int, summary string) error {
	now := requestcontext.Now(ctx)
	status := vmodels.ReverifyStatusFailing
	if failures == 1 {
		status = vmodels.ReverifyStatusGrace
	}
	if err := s.store.UpdateTokenReverifyState(ctx, token.ID, status, failures); err != nil {
		return fmt.Errorf("update token state: %w", err)
	}
	if err := job.Complete(models.JobStatusGracePeriod, failures, summary, now); err != nil {
		return err
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err := s.scheduleRetry(ctx, job.TokenID, now); err != nil {
		return err
	}
	s.logEvent(ctx, audit.EventReverificationGrace, job, req, summary, failures)
	return nil
}

func (s *Service) revoke(ctx context.Context, job *models.Job, token *vmodels.Token, req *vmodels.Request, failures int, summary string) error {
	now := requestcontext.Now(ctx)
	reason := fmt.Sprintf("%s: re-verification failed %d consecutive times: %s", amodels.AutoRevocationPrefix, failures, summary)
	if _, err := s.checker.RevokeVerification(ctx, req.ID, reason); err != nil {
		return fmt.Errorf("revoke verification: %w", err)
	}
	if err := s.store.UpdateTokenReverifyState(ctx, token.ID, vmodels.ReverifyStatusRevoked, failures); err != nil {
		return fmt.Errorf("update token state: %w", err)
	}
	if err := job.Complete(models.JobStatusFailed, failures, summary, now); err != nil {
		return err
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	s.logEvent(ctx, audit.EventReverificationFailed, job, req, reason, failures)
	return nil
}

func (s *Service) scheduleRetry(ctx context.Context, tokenID id.TokenID, now time.Time) error {
	err := s.store.CreateJob(ctx, models.NewJob(tokenID, now.Add(s.cfg.RetryDelay), now))
	if err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, action audit.AuditEvent, job *models.Job, req *vmodels.Request, reason string, failures int) {
	audit.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		Action:    action,
		TokenID:   job.TokenID.String(),
		RequestID: req.ID.String(),
		Subject:   job.ID.String(),
		Decision:  string(job.Status),
		Reason:    reason,
		Attrs:     map[string]string{"consecutive_failures": fmt.Sprint(failures)},
	})
}

// inconclusive reports a failed pass caused only by unreachable external
// systems: at least one proof errored and none was judged invalid.
func inconclusive(checks *vsvc.CheckResult) bool {
	errored := false
	for _, p := range checks.Proofs {
		switch p.Status {
		case vmodels.ProofStatusInvalid:
			return false
		case vmodels.ProofStatusError:
			errored = true
		}
	}
	return errored
}

func summarize(checks *vsvc.CheckResult) string {
	out := "tier " + string(checks.Tier)
	for _, p := range checks.Proofs {
		out += "; " + string(p.Type) + " " + string(p.Status)
		if p.Reason != "" && p.Status != vmodels.ProofStatusValid {
			out += " (" + p.Reason + ")"
		}
	}
	return out
}
