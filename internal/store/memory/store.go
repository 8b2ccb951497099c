// Package memory is an in-process implementation of every store interface.
// It backs STORE=memory deployments and service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	amodels "tokenverif/internal/attestation/models"
	rmodels "tokenverif/internal/reverification/models"
	vmodels "tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/platform/sentinel"
)

type tokenKey struct {
	chainID int64
	address string
}

type Store struct {
	mu sync.RWMutex

	projects     map[id.ProjectID]vmodels.Project
	tokens       map[id.TokenID]vmodels.Token
	tokenIndex   map[tokenKey]id.TokenID
	requests     map[id.RequestID]vmodels.Request
	proofs       map[id.RequestID]map[vmodels.ProofType]vmodels.Proof
	keys         map[id.SigningKeyID]amodels.SigningKey
	attestations map[id.TokenID][]amodels.Attestation
	jobs         map[id.JobID]rmodels.Job
}

func New() *Store {
	return &Store{
		projects:     make(map[id.ProjectID]vmodels.Project),
		tokens:       make(map[id.TokenID]vmodels.Token),
		tokenIndex:   make(map[tokenKey]id.TokenID),
		requests:     make(map[id.RequestID]vmodels.Request),
		proofs:       make(map[id.RequestID]map[vmodels.ProofType]vmodels.Proof),
		keys:         make(map[id.SigningKeyID]amodels.SigningKey),
		attestations: make(map[id.TokenID][]amodels.Attestation),
		jobs:         make(map[id.JobID]rmodels.Job),
	}
}

// Ping always succeeds; it lets the memory store serve readiness checks.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Projects and tokens.

func (s *Store) CreateProject(_ context.Context, p *vmodels.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return fmt.Errorf("project %s: %w", p.ID, sentinel.ErrConflict)
	}
	s.projects[p.ID] = *p
	return nil
}

func (s *Store) GetProject(_ context.Context, projectID id.ProjectID) (*vmodels.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, sentinel.ErrNotFound)
	}
	return &p, nil
}

// CreateToken registers a token. (chain id, address) is unique.
func (s *Store) CreateToken(_ context.Context, t *vmodels.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey{t.ChainID, t.ContractAddress}
	if _, exists := s.tokenIndex[key]; exists {
		return fmt.Errorf("token %d/%s: %w", t.ChainID, t.ContractAddress, sentinel.ErrConflict)
	}
	if _, ok := s.projects[t.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", t.ProjectID, sentinel.ErrNotFound)
	}
	s.tokens[t.ID] = cloneToken(*t)
	s.tokenIndex[key] = t.ID
	return nil
}

func (s *Store) GetToken(_ context.Context, tokenID id.TokenID) (*vmodels.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
	}
	t = cloneToken(t)
	return &t, nil
}

func (s *Store) FindTokenByAddress(_ context.Context, chainID int64, address string) (*vmodels.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokenID, ok := s.tokenIndex[tokenKey{chainID, address}]
	if !ok {
		return nil, fmt.Errorf("token %d/%s: %w", chainID, address, sentinel.ErrNotFound)
	}
	t := cloneToken(s.tokens[tokenID])
	return &t, nil
}

func (s *Store) UpdateTokenReverifyState(_ context.Context, tokenID id.TokenID, status vmodels.ReverifyStatus, failures int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
	}
	t.ReverifyStatus = status
	t.ConsecutiveFailures = failures
	s.tokens[tokenID] = t
	return nil
}

func cloneToken(t vmodels.Token) vmodels.Token {
	if t.Decimals != nil {
		d := *t.Decimals
		t.Decimals = &d
	}
	return t
}

// Requests and proofs.

// CreateRequest fails with ErrConflict if the token already has a
// non-terminal request.
func (s *Store) CreateRequest(_ context.Context, req *vmodels.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[req.TokenID]; !ok {
		return fmt.Errorf("token %s: %w", req.TokenID, sentinel.ErrNotFound)
	}
	for _, existing := range s.requests {
		if existing.TokenID == req.TokenID && !existing.Status.IsTerminal() {
			return fmt.Errorf("open request for token %s: %w", req.TokenID, sentinel.ErrConflict)
		}
	}
	s.requests[req.ID] = *req
	return nil
}

func (s *Store) GetRequest(_ context.Context, requestID id.RequestID) (*vmodels.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, sentinel.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) UpdateRequest(_ context.Context, req *vmodels.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return fmt.Errorf("request %s: %w", req.ID, sentinel.ErrNotFound)
	}
	s.requests[req.ID] = *req
	return nil
}

func (s *Store) FindApprovedRequest(_ context.Context, tokenID id.TokenID) (*vmodels.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest, ok := s.latestApproved(tokenID)
	if !ok {
		return nil, fmt.Errorf("approved request for token %s: %w", tokenID, sentinel.ErrNotFound)
	}
	return &latest, nil
}

func (s *Store) latestApproved(tokenID id.TokenID) (vmodels.Request, bool) {
	var latest vmodels.Request
	found := false
	for _, r := range s.requests {
		if r.TokenID != tokenID || r.Status != vmodels.RequestStatusApproved || r.ReviewedAt == nil {
			continue
		}
		if !found || r.ReviewedAt.After(*latest.ReviewedAt) {
			latest, found = r, true
		}
	}
	return latest, found
}

func (s *Store) ListProofs(_ context.Context, requestID id.RequestID) ([]vmodels.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType := s.proofs[requestID]
	out := make([]vmodels.Proof, 0, len(byType))
	for _, t := range vmodels.AllProofTypes {
		if p, ok := byType[t]; ok {
			out = append(out, cloneProof(p))
		}
	}
	return out, nil
}

func (s *Store) SaveProof(_ context.Context, proof *vmodels.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[proof.RequestID]; !ok {
		return fmt.Errorf("request %s: %w", proof.RequestID, sentinel.ErrNotFound)
	}
	byType, ok := s.proofs[proof.RequestID]
	if !ok {
		byType = make(map[vmodels.ProofType]vmodels.Proof)
		s.proofs[proof.RequestID] = byType
	}
	p := cloneProof(*proof)
	if existing, ok := byType[proof.Type]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}
	byType[proof.Type] = p
	return nil
}

func cloneProof(p vmodels.Proof) vmodels.Proof {
	p.Claim = append([]byte(nil), p.Claim...)
	if p.Evidence.Details != nil {
		details := make(map[string]string, len(p.Evidence.Details))
		for k, v := range p.Evidence.Details {
			details[k] = v
		}
		p.Evidence.Details = details
	}
	if p.CheckedAt != nil {
		t := *p.CheckedAt
		p.CheckedAt = &t
	}
	return p
}

// Signing keys.

func (s *Store) GetActiveSigningKey(context.Context) (*amodels.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Active {
			return &k, nil
		}
	}
	return nil, fmt.Errorf("active signing key: %w", sentinel.ErrNotFound)
}

func (s *Store) GetSigningKey(_ context.Context, keyID id.SigningKeyID) (*amodels.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("signing key %s: %w", keyID, sentinel.ErrNotFound)
	}
	return &k, nil
}

func (s *Store) CreateActiveSigningKey(_ context.Context, key *amodels.SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !key.HasValidMaterial() || key.PrivateKey == nil {
		return fmt.Errorf("signing key %s has invalid material", key.ID)
	}
	for _, k := range s.keys {
		if k.Active {
			return fmt.Errorf("active signing key: %w", sentinel.ErrConflict)
		}
	}
	stored := *key
	stored.Active = true
	s.keys[key.ID] = stored
	return nil
}

func (s *Store) RotateSigningKey(_ context.Context, current id.SigningKeyID, next *amodels.SigningKey, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[current]
	if !ok {
		return fmt.Errorf("signing key %s: %w", current, sentinel.ErrNotFound)
	}
	if !k.Active {
		return fmt.Errorf("signing key %s is retired: %w", current, sentinel.ErrInvalidState)
	}
	if !next.HasValidMaterial() || next.PrivateKey == nil {
		return fmt.Errorf("signing key %s has invalid material", next.ID)
	}
	retiredAt := now
	k.Active = false
	k.RetiredAt = &retiredAt
	s.keys[current] = k

	stored := *next
	stored.Active = true
	s.keys[next.ID] = stored
	return nil
}

// Attestations.

func (s *Store) IssueAttestation(_ context.Context, tokenID id.TokenID, build func(version int) (*amodels.Attestation, error)) (*amodels.Attestation, *amodels.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tokenID]; !ok {
		return nil, nil, fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
	}

	history := s.attestations[tokenID]
	next := 1
	for _, a := range history {
		if a.Version >= next {
			next = a.Version + 1
		}
	}
	issued, err := build(next)
	if err != nil {
		return nil, nil, err
	}
	if issued.Version != next || issued.TokenID != tokenID {
		return nil, nil, fmt.Errorf("built attestation does not match version %d of token %s", next, tokenID)
	}

	var superseded *amodels.Attestation
	for i := range history {
		if !history[i].IsRevoked() {
			history[i].Revoke(amodels.SupersededReason(next), issued.IssuedAt)
			cp := history[i]
			superseded = &cp
		}
	}
	s.attestations[tokenID] = append(history, *issued)
	out := *issued
	return &out, superseded, nil
}

func (s *Store) GetAttestation(_ context.Context, attestationID id.AttestationID) (*amodels.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.findAttestation(attestationID); ok {
		cp := *a
		return &cp, nil
	}
	return nil, fmt.Errorf("attestation %s: %w", attestationID, sentinel.ErrNotFound)
}

func (s *Store) findAttestation(attestationID id.AttestationID) (*amodels.Attestation, bool) {
	for tokenID := range s.attestations {
		history := s.attestations[tokenID]
		for i := range history {
			if history[i].ID == attestationID {
				return &history[i], true
			}
		}
	}
	return nil, false
}

func (s *Store) GetLiveAttestation(_ context.Context, tokenID id.TokenID) (*amodels.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.attestations[tokenID]
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].IsRevoked() {
			cp := history[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("live attestation for token %s: %w", tokenID, sentinel.ErrNotFound)
}

func (s *Store) ListAttestations(_ context.Context, tokenID id.TokenID) ([]*amodels.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.attestations[tokenID]
	out := make([]*amodels.Attestation, 0, len(history))
	for i := range history {
		cp := history[i]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) RevokeAttestation(_ context.Context, attestationID id.AttestationID, reason string, now time.Time) (*amodels.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.findAttestation(attestationID)
	if !ok {
		return nil, fmt.Errorf("attestation %s: %w", attestationID, sentinel.ErrNotFound)
	}
	a.Revoke(reason, now)
	cp := *a
	return &cp, nil
}

// Re-verification jobs.

func (s *Store) ListCandidates(context.Context) ([]rmodels.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make(map[id.TokenID]bool)
	lastPassed := make(map[id.TokenID]time.Time)
	for _, j := range s.jobs {
		if j.Status.IsOpen() {
			open[j.TokenID] = true
		}
		if j.Status == rmodels.JobStatusPassed && j.CompletedAt != nil && j.CompletedAt.After(lastPassed[j.TokenID]) {
			lastPassed[j.TokenID] = *j.CompletedAt
		}
	}

	var out []rmodels.Candidate
	for tokenID := range s.tokens {
		req, ok := s.latestApproved(tokenID)
		if !ok {
			continue
		}
		c := rmodels.Candidate{
			TokenID:    tokenID,
			RequestID:  req.ID,
			ApprovedAt: *req.ReviewedAt,
			HasOpenJob: open[tokenID],
		}
		if t, ok := lastPassed[tokenID]; ok {
			c.LastPassedAt = &t
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovedAt.Before(out[j].ApprovedAt) })
	return out, nil
}

func (s *Store) CreateJob(_ context.Context, job *rmodels.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.TokenID == job.TokenID && j.Status.IsOpen() {
			return fmt.Errorf("open job for token %s: %w", job.TokenID, sentinel.ErrConflict)
		}
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) ClaimDueJobs(_ context.Context, now time.Time, limit int) ([]*rmodels.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []rmodels.Job
	for _, j := range s.jobs {
		if j.Status == rmodels.JobStatusScheduled && !j.ScheduledAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].ScheduledAt.Before(due[k].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*rmodels.Job, 0, len(due))
	for _, j := range due {
		if err := j.Start(now); err != nil {
			return nil, err
		}
		s.jobs[j.ID] = j
		cp := j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) UpdateJob(_ context.Context, job *rmodels.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, sentinel.ErrNotFound)
	}
	s.jobs[job.ID] = *job
	return nil
}

// ListJobs returns a token's jobs ordered by scheduled time.
func (s *Store) ListJobs(_ context.Context, tokenID id.TokenID) ([]*rmodels.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rmodels.Job
	for _, j := range s.jobs {
		if j.TokenID == tokenID {
			cp := j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ScheduledAt.Before(out[k].ScheduledAt) })
	return out, nil
}
