package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/svirmi/lifejar-payments/internal/model"
)

type PendingPaymentRepository struct {
	db *sql.DB
}

func NewPendingPaymentRepository(db *sql.DB) *PendingPaymentRepository {
	return &PendingPaymentRepository{db: db}
}

func (r *PendingPaymentRepository) CreatePendingPayment(ctx context.Context, p *model.PendingPayment) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO pending_payments
			(id, jar_id, provider_transaction_id, amount, contributor_name, contributor_email,
			 is_anonymous, channel, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		p.ID, p.JarID, p.ProviderTransactionID, p.Amount, p.ContributorName, p.ContributorEmail,
		p.IsAnonymous, p.Channel, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePendingPayment
		}
		return fmt.Errorf("failed to insert pending payment: %w", err)
	}
	return nil
}

func (r *PendingPaymentRepository) GetPendingPayment(ctx context.Context, id string) (*model.PendingPayment, error) {
	var p model.PendingPayment
	err := r.db.QueryRowContext(ctx,
		`SELECT id, jar_id, provider_transaction_id, amount, contributor_name, contributor_email,
			is_anonymous, channel, status, created_at, updated_at
		 FROM pending_payments WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.JarID, &p.ProviderTransactionID, &p.Amount, &p.ContributorName, &p.ContributorEmail,
		&p.IsAnonymous, &p.Channel, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPendingPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending payment: %w", err)
	}
	return &p, nil
}

// UpdatePendingPaymentStatus keeps the stored provider transaction id when
// providerTransactionID is empty. A payment in success only accepts success.
func (r *PendingPaymentRepository) UpdatePendingPaymentStatus(ctx context.Context, id string, status model.PendingPaymentStatus, providerTransactionID string) error {
	query := `UPDATE pending_payments
		 SET status = $1,
		     provider_transaction_id = COALESCE(NULLIF($2, ''), provider_transaction_id),
		     updated_at = NOW()
		 WHERE id = $3`
	if status != model.PaymentSuccess {
		query += ` AND status <> 'success'`
	}
	res, err := r.db.ExecContext(ctx, query, status, providerTransactionID, id)
	if err != nil {
		return fmt.Errorf("failed to update pending payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetPendingPayment(ctx, id); err != nil {
		return err
	}
	return ErrPaymentSettled
}

// PostgresStore is the lib/pq backed Store.
type PostgresStore struct {
	*JarRepository
	*ContributionRepository
	*PendingPaymentRepository
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		JarRepository:            NewJarRepository(db),
		ContributionRepository:   NewContributionRepository(db),
		PendingPaymentRepository: NewPendingPaymentRepository(db),
	}
}
