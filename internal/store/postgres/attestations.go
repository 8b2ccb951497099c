package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	amodels "tokenverif/internal/attestation/models"
	vmodels "tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/platform/tx"
)

const attestationColumns = `id, token_id, request_id, version, tier, payload, signature,
	signing_key_id, issued_at, revoked_at, revoked_reason`

func scanAttestation(row interface{ Scan(...any) error }) (*amodels.Attestation, error) {
	var (
		a         amodels.Attestation
		tier      string
		revokedAt sql.NullTime
	)
	err := row.Scan((*uuid.UUID)(&a.ID), (*uuid.UUID)(&a.TokenID), (*uuid.UUID)(&a.RequestID), &a.Version,
		&tier, &a.Payload, &a.Signature, (*uuid.UUID)(&a.SigningKeyID), &a.IssuedAt, &revokedAt, &a.RevokedReason)
	if err != nil {
		return nil, err
	}
	a.Tier = vmodels.Tier(tier)
	a.IssuedAt = a.IssuedAt.UTC()
	a.RevokedAt = timePtr(revokedAt)
	return &a, nil
}

// IssueAttestation locks the token row so versions are assigned serially,
// supersedes the live version and inserts the one built for the next number.
func (s *Store) IssueAttestation(ctx context.Context, tokenID id.TokenID, build func(version int) (*amodels.Attestation, error)) (*amodels.Attestation, *amodels.Attestation, error) {
	var issued, superseded *amodels.Attestation
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		conn := s.conn(ctx)
		var locked uuid.UUID
		if err := conn.QueryRowContext(ctx,
			`SELECT id FROM tokens WHERE id = $1 FOR UPDATE`, tokenID.String(),
		).Scan(&locked); err != nil {
			return translate(err, "token "+tokenID.String())
		}

		var next int
		if err := conn.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM attestations WHERE token_id = $1`, tokenID.String(),
		).Scan(&next); err != nil {
			return translate(err, "next attestation version")
		}

		built, err := build(next)
		if err != nil {
			return err
		}
		if built.Version != next || built.TokenID != tokenID {
			return fmt.Errorf("built attestation does not match version %d of token %s", next, tokenID)
		}

		prev, err := scanAttestation(conn.QueryRowContext(ctx, `
			UPDATE attestations SET revoked_at = $2, revoked_reason = $3
			WHERE token_id = $1 AND revoked_at IS NULL
			RETURNING `+attestationColumns,
			tokenID.String(), built.IssuedAt.UTC(), amodels.SupersededReason(next),
		))
		switch {
		case err == nil:
			superseded = prev
		case !errors.Is(err, sql.ErrNoRows):
			return translate(err, "supersede attestation")
		}

		if _, err := conn.ExecContext(ctx, `
			INSERT INTO attestations (
				id, token_id, request_id, version, tier, payload, signature,
				signing_key_id, issued_at, revoked_at, revoked_reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			built.ID.String(), built.TokenID.String(), built.RequestID.String(), built.Version, string(built.Tier),
			built.Payload, built.Signature, built.SigningKeyID.String(), built.IssuedAt.UTC(),
			nullTime(built.RevokedAt), built.RevokedReason,
		); err != nil {
			return translate(err, "insert attestation")
		}
		cp := *built
		issued = &cp
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return issued, superseded, nil
}

func (s *Store) GetAttestation(ctx context.Context, attestationID id.AttestationID) (*amodels.Attestation, error) {
	a, err := scanAttestation(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+attestationColumns+` FROM attestations WHERE id = $1`, attestationID.String()))
	if err != nil {
		return nil, translate(err, "attestation "+attestationID.String())
	}
	return a, nil
}

func (s *Store) GetLiveAttestation(ctx context.Context, tokenID id.TokenID) (*amodels.Attestation, error) {
	a, err := scanAttestation(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+attestationColumns+` FROM attestations WHERE token_id = $1 AND revoked_at IS NULL`, tokenID.String()))
	if err != nil {
		return nil, translate(err, "live attestation for token "+tokenID.String())
	}
	return a, nil
}

// ListAttestations returns every version of a token's attestation, oldest first.
func (s *Store) ListAttestations(ctx context.Context, tokenID id.TokenID) ([]*amodels.Attestation, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+attestationColumns+` FROM attestations WHERE token_id = $1 ORDER BY version`, tokenID.String())
	if err != nil {
		return nil, translate(err, "list attestations")
	}
	defer rows.Close()

	out := []*amodels.Attestation{}
	for rows.Next() {
		a, err := scanAttestation(rows)
		if err != nil {
			return nil, translate(err, "scan attestation")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list attestations")
	}
	return out, nil
}

// RevokeAttestation is idempotent: an already revoked attestation keeps its
// first revocation time and reason.
func (s *Store) RevokeAttestation(ctx context.Context, attestationID id.AttestationID, reason string, now time.Time) (*amodels.Attestation, error) {
	a, err := scanAttestation(s.conn(ctx).QueryRowContext(ctx, `
		UPDATE attestations SET
			revoked_at = COALESCE(revoked_at, $2),
			revoked_reason = CASE WHEN revoked_at IS NULL THEN $3 ELSE revoked_reason END
		WHERE id = $1
		RETURNING `+attestationColumns,
		attestationID.String(), now.UTC(), reason,
	))
	if err != nil {
		return nil, translate(err, "revoke attestation "+attestationID.String())
	}
	return a, nil
}
