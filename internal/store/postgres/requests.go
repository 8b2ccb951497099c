package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	vmodels "tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
)

// CreateRequest fails with ErrConflict if the token already has a
// non-terminal request.
func (s *Store) CreateRequest(ctx context.Context, req *vmodels.Request) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO verification_requests (
			id, token_id, nonce, status, reviewer_notes, created_at, updated_at,
			reviewed_at, revoked_at, revocation_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID.String(), req.TokenID.String(), req.Nonce, string(req.Status), req.ReviewerNotes,
		req.CreatedAt.UTC(), req.UpdatedAt.UTC(), nullTime(req.ReviewedAt), nullTime(req.RevokedAt), req.RevocationReason,
	)
	return translate(err, "create request")
}

const requestColumns = `id, token_id, nonce, status, reviewer_notes, created_at, updated_at,
	reviewed_at, revoked_at, revocation_reason`

func scanRequest(row interface{ Scan(...any) error }) (*vmodels.Request, error) {
	var (
		r                   vmodels.Request
		status              string
		reviewedAt, revoked sql.NullTime
	)
	err := row.Scan((*uuid.UUID)(&r.ID), (*uuid.UUID)(&r.TokenID), &r.Nonce, &status, &r.ReviewerNotes,
		&r.CreatedAt, &r.UpdatedAt, &reviewedAt, &revoked, &r.RevocationReason)
	if err != nil {
		return nil, err
	}
	r.Status = vmodels.RequestStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.ReviewedAt = timePtr(reviewedAt)
	r.RevokedAt = timePtr(revoked)
	return &r, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID id.RequestID) (*vmodels.Request, error) {
	r, err := scanRequest(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM verification_requests WHERE id = $1`, requestID.String()))
	if err != nil {
		return nil, translate(err, "get request "+requestID.String())
	}
	return r, nil
}

func (s *Store) UpdateRequest(ctx context.Context, req *vmodels.Request) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE verification_requests SET
			status = $2, reviewer_notes = $3, updated_at = $4,
			reviewed_at = $5, revoked_at = $6, revocation_reason = $7
		WHERE id = $1`,
		req.ID.String(), string(req.Status), req.ReviewerNotes, req.UpdatedAt.UTC(),
		nullTime(req.ReviewedAt), nullTime(req.RevokedAt), req.RevocationReason,
	)
	if err != nil {
		return translate(err, "update request")
	}
	return expectRow(res, "request "+req.ID.String())
}

func (s *Store) FindApprovedRequest(ctx context.Context, tokenID id.TokenID) (*vmodels.Request, error) {
	r, err := scanRequest(s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM verification_requests
		WHERE token_id = $1 AND status = $2
		ORDER BY reviewed_at DESC
		LIMIT 1`, tokenID.String(), string(vmodels.RequestStatusApproved)))
	if err != nil {
		return nil, translate(err, "approved request for token "+tokenID.String())
	}
	return r, nil
}

// ListProofs returns a request's proofs in check order.
func (s *Store) ListProofs(ctx context.Context, requestID id.RequestID) ([]vmodels.Proof, error) {
	order := make([]string, len(vmodels.AllProofTypes))
	for i, t := range vmodels.AllProofTypes {
		order[i] = string(t)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, request_id, type, status, claim, evidence, checked_at, failure_reason, created_at, updated_at
		FROM proofs
		WHERE request_id = $1
		ORDER BY array_position($2::text[], type)`,
		requestID.String(), pq.Array(order),
	)
	if err != nil {
		return nil, translate(err, "list proofs")
	}
	defer rows.Close()

	var out []vmodels.Proof
	for rows.Next() {
		var (
			p               vmodels.Proof
			typ, status     string
			claim, evidence []byte
			checkedAt       sql.NullTime
		)
		if err := rows.Scan((*uuid.UUID)(&p.ID), (*uuid.UUID)(&p.RequestID), &typ, &status, &claim, &evidence,
			&checkedAt, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, translate(err, "scan proof")
		}
		p.Type = vmodels.ProofType(typ)
		p.Status = vmodels.ProofStatus(status)
		p.Claim = json.RawMessage(claim)
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &p.Evidence); err != nil {
				return nil, fmt.Errorf("decode evidence of proof %s: %w", p.ID, err)
			}
		}
		p.CheckedAt = timePtr(checkedAt)
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list proofs")
	}
	return out, nil
}

// SaveProof upserts by (request, type). The stored id and creation time of
// an existing proof are kept.
func (s *Store) SaveProof(ctx context.Context, proof *vmodels.Proof) error {
	evidence, err := json.Marshal(proof.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	createdAt := proof.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO proofs (
			id, request_id, type, status, claim, evidence, checked_at, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (request_id, type) DO UPDATE SET
			status = EXCLUDED.status,
			claim = EXCLUDED.claim,
			evidence = EXCLUDED.evidence,
			checked_at = EXCLUDED.checked_at,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at`,
		proof.ID.String(), proof.RequestID.String(), string(proof.Type), string(proof.Status),
		[]byte(proof.Claim), evidence, nullTime(proof.CheckedAt), proof.FailureReason,
		createdAt.UTC(), proof.UpdatedAt.UTC(),
	)
	return translate(err, "save proof")
}
