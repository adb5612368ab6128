package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/model"
)

type JarRepository struct {
	db *sql.DB
}

func NewJarRepository(db *sql.DB) *JarRepository {
	return &JarRepository{db: db}
}

func (r *JarRepository) CreateJar(ctx context.Context, jar *model.Jar) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO jars (id, owner_id, title, target_amount, current_amount, currency, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		jar.ID, jar.OwnerID, jar.Title, jar.TargetAmount, jar.CurrentAmount, jar.Currency, jar.IsActive,
	).Scan(&jar.CreatedAt, &jar.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateJar
		}
		return fmt.Errorf("failed to insert jar: %w", err)
	}
	return nil
}

func (r *JarRepository) GetJar(ctx context.Context, id string) (*model.Jar, error) {
	var j model.Jar
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, target_amount, current_amount, currency, is_active, created_at, updated_at
		 FROM jars WHERE id = $1`,
		id,
	).Scan(&j.ID, &j.OwnerID, &j.Title, &j.TargetAmount, &j.CurrentAmount, &j.Currency, &j.IsActive, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJarNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get jar: %w", err)
	}
	return &j, nil
}

// DeleteJar removes the jar; contributions go with it via ON DELETE CASCADE.
func (r *JarRepository) DeleteJar(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jars WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete jar: %w", err)
	}
	return requireOneRow(res, ErrJarNotFound)
}

// IncrementJarAmount is a single UPDATE so concurrent contributions to the
// same jar serialize on the row lock instead of racing a read-modify-write.
func (r *JarRepository) IncrementJarAmount(ctx context.Context, jarID string, amount decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jars SET current_amount = current_amount + $1, updated_at = NOW() WHERE id = $2`,
		amount, jarID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment jar amount: %w", err)
	}
	return requireOneRow(res, ErrJarNotFound)
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
