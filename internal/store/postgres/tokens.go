package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	vmodels "tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
)

func (s *Store) CreateProject(ctx context.Context, p *vmodels.Project) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO projects (id, display_name, website_url) VALUES ($1, $2, $3)`,
		p.ID.String(), p.DisplayName, p.WebsiteURL,
	)
	return translate(err, "create project")
}

func (s *Store) GetProject(ctx context.Context, projectID id.ProjectID) (*vmodels.Project, error) {
	var p vmodels.Project
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT id, display_name, website_url FROM projects WHERE id = $1`, projectID.String(),
	).Scan((*uuid.UUID)(&p.ID), &p.DisplayName, &p.WebsiteURL)
	if err != nil {
		return nil, translate(err, "get project "+projectID.String())
	}
	return &p, nil
}

// CreateToken registers a token. (chain id, address) is unique; a missing
// project surfaces as a foreign key error.
func (s *Store) CreateToken(ctx context.Context, t *vmodels.Token) error {
	var decimals sql.NullInt32
	if t.Decimals != nil {
		decimals = sql.NullInt32{Int32: int32(*t.Decimals), Valid: true}
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO tokens (
			id, project_id, chain_id, contract_address, symbol, name, decimals,
			logo_url, website_url, reverify_status, consecutive_failures, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID.String(), t.ProjectID.String(), t.ChainID, t.ContractAddress, t.Symbol, t.Name, decimals,
		t.LogoURL, t.WebsiteURL, string(t.ReverifyStatus), t.ConsecutiveFailures, t.CreatedAt.UTC(),
	)
	return translate(err, "create token")
}

const tokenColumns = `id, project_id, chain_id, contract_address, symbol, name, decimals,
	logo_url, website_url, reverify_status, consecutive_failures, created_at`

func scanToken(row interface{ Scan(...any) error }) (*vmodels.Token, error) {
	var (
		t        vmodels.Token
		decimals sql.NullInt32
		status   string
	)
	err := row.Scan((*uuid.UUID)(&t.ID), (*uuid.UUID)(&t.ProjectID), &t.ChainID, &t.ContractAddress,
		&t.Symbol, &t.Name, &decimals, &t.LogoURL, &t.WebsiteURL, &status, &t.ConsecutiveFailures, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if decimals.Valid {
		d := int(decimals.Int32)
		t.Decimals = &d
	}
	t.ReverifyStatus = vmodels.ReverifyStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (s *Store) GetToken(ctx context.Context, tokenID id.TokenID) (*vmodels.Token, error) {
	t, err := scanToken(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, tokenID.String()))
	if err != nil {
		return nil, translate(err, "get token "+tokenID.String())
	}
	return t, nil
}

func (s *Store) FindTokenByAddress(ctx context.Context, chainID int64, address string) (*vmodels.Token, error) {
	t, err := scanToken(s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE chain_id = $1 AND contract_address = $2`, chainID, address))
	if err != nil {
		return nil, translate(err, "find token by address")
	}
	return t, nil
}

func (s *Store) UpdateTokenReverifyState(ctx context.Context, tokenID id.TokenID, status vmodels.ReverifyStatus, failures int) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE tokens SET reverify_status = $2, consecutive_failures = $3 WHERE id = $1`,
		tokenID.String(), string(status), failures,
	)
	if err != nil {
		return translate(err, "update token reverify state")
	}
	return expectRow(res, "token "+tokenID.String())
}
