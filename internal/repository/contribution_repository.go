package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/svirmi/lifejar-payments/internal/model"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type ContributionRepository struct {
	db *sql.DB
}

func NewContributionRepository(db *sql.DB) *ContributionRepository {
	return &ContributionRepository{db: db}
}

// InsertContribution relies on the UNIQUE constraint on reference to reject
// duplicate webhook deliveries, and on the jar foreign key to reject
// contributions for a jar deleted in the meantime.
func (r *ContributionRepository) InsertContribution(ctx context.Context, c *model.Contribution) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO contributions
			(id, jar_id, reference, provider_transaction_id, contributor_name, contributor_email,
			 amount, currency, status, is_anonymous, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		 RETURNING created_at`,
		c.ID, c.JarID, c.Reference, c.ProviderTransactionID, c.ContributorName, c.ContributorEmail,
		c.Amount, c.Currency, c.Status, c.IsAnonymous,
	).Scan(&c.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pqUniqueViolation:
				return ErrDuplicateContribution
			case pqForeignKeyViolation:
				return ErrJarNotFound
			}
		}
		return fmt.Errorf("failed to insert contribution: %w", err)
	}
	return nil
}

func (r *ContributionRepository) DeleteContribution(ctx context.Context, c *model.Contribution) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contributions WHERE id = $1`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to delete contribution: %w", err)
	}
	return requireOneRow(res, ErrContributionNotFound)
}

func (r *ContributionRepository) GetContributionByReference(ctx context.Context, reference string) (*model.Contribution, error) {
	row := r.db.QueryRowContext(ctx, selectContribution+` WHERE reference = $1`, reference)
	c, err := scanContribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContributionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return c, nil
}

func (r *ContributionRepository) ListContributions(ctx context.Context, jarID string) ([]model.Contribution, error) {
	rows, err := r.db.QueryContext(ctx, selectContribution+` WHERE jar_id = $1 ORDER BY created_at DESC`, jarID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	defer rows.Close()

	var out []model.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const selectContribution = `SELECT id, jar_id, reference, provider_transaction_id, contributor_name, contributor_email,
	amount, currency, status, is_anonymous, created_at FROM contributions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContribution(s rowScanner) (*model.Contribution, error) {
	var c model.Contribution
	err := s.Scan(&c.ID, &c.JarID, &c.Reference, &c.ProviderTransactionID, &c.ContributorName, &c.ContributorEmail,
		&c.Amount, &c.Currency, &c.Status, &c.IsAnonymous, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
