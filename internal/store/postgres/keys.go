package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	amodels "tokenverif/internal/attestation/models"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/platform/tx"
)

const signingKeyColumns = `id, algorithm, public_key, private_key, active, created_at, retired_at`

func scanSigningKey(row interface{ Scan(...any) error }) (*amodels.SigningKey, error) {
	var (
		k               amodels.SigningKey
		public, private []byte
		retiredAt       sql.NullTime
	)
	if err := row.Scan((*uuid.UUID)(&k.ID), &k.Algorithm, &public, &private, &k.Active, &k.CreatedAt, &retiredAt); err != nil {
		return nil, err
	}
	k.PublicKey = public
	k.PrivateKey = private
	k.CreatedAt = k.CreatedAt.UTC()
	k.RetiredAt = timePtr(retiredAt)
	return &k, nil
}

func (s *Store) GetActiveSigningKey(ctx context.Context) (*amodels.SigningKey, error) {
	k, err := scanSigningKey(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE active`))
	if err != nil {
		return nil, translate(err, "active signing key")
	}
	return k, nil
}

func (s *Store) GetSigningKey(ctx context.Context, keyID id.SigningKeyID) (*amodels.SigningKey, error) {
	k, err := scanSigningKey(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE id = $1`, keyID.String()))
	if err != nil {
		return nil, translate(err, "signing key "+keyID.String())
	}
	return k, nil
}

// CreateActiveSigningKey fails with ErrConflict when another process created
// the active key first.
func (s *Store) CreateActiveSigningKey(ctx context.Context, key *amodels.SigningKey) error {
	if !key.HasValidMaterial() || key.PrivateKey == nil {
		return fmt.Errorf("signing key %s has invalid material", key.ID)
	}
	return translate(s.insertActiveKey(ctx, key), "create signing key")
}

func (s *Store) insertActiveKey(ctx context.Context, key *amodels.SigningKey) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO signing_keys (id, algorithm, public_key, private_key, active, created_at, retired_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, NULL)`,
		key.ID.String(), key.Algorithm, []byte(key.PublicKey), []byte(key.PrivateKey), key.CreatedAt.UTC(),
	)
	return err
}

// RotateSigningKey retires current and activates next in one transaction.
func (s *Store) RotateSigningKey(ctx context.Context, current id.SigningKeyID, next *amodels.SigningKey, now time.Time) error {
	if !next.HasValidMaterial() || next.PrivateKey == nil {
		return fmt.Errorf("signing key %s has invalid material", next.ID)
	}
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		conn := s.conn(ctx)
		var active bool
		err := conn.QueryRowContext(ctx,
			`SELECT active FROM signing_keys WHERE id = $1 FOR UPDATE`, current.String(),
		).Scan(&active)
		if err != nil {
			return translate(err, "signing key "+current.String())
		}
		if !active {
			return fmt.Errorf("signing key %s is retired: %w", current, sentinel.ErrInvalidState)
		}
		if _, err := conn.ExecContext(ctx,
			`UPDATE signing_keys SET active = FALSE, retired_at = $2 WHERE id = $1`,
			current.String(), now.UTC(),
		); err != nil {
			return translate(err, "retire signing key")
		}
		return translate(s.insertActiveKey(ctx, next), "activate signing key")
	})
}
