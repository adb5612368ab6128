package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/model"
)

type JarStore interface {
	CreateJar(ctx context.Context, jar *model.Jar) error
	GetJar(ctx context.Context, id string) (*model.Jar, error)
	DeleteJar(ctx context.Context, id string) error
	// IncrementJarAmount adds amount to the jar's current_amount in a single
	// conditional update. It returns ErrJarNotFound if the jar is gone.
	IncrementJarAmount(ctx context.Context, jarID string, amount decimal.Decimal) error
}

type ContributionStore interface {
	// InsertContribution fails with ErrDuplicateContribution when the
	// reference is already recorded, enforced by the storage layer.
	InsertContribution(ctx context.Context, c *model.Contribution) error
	DeleteContribution(ctx context.Context, c *model.Contribution) error
	GetContributionByReference(ctx context.Context, reference string) (*model.Contribution, error)
	ListContributions(ctx context.Context, jarID string) ([]model.Contribution, error)
}

type PendingPaymentStore interface {
	CreatePendingPayment(ctx context.Context, p *model.PendingPayment) error
	GetPendingPayment(ctx context.Context, id string) (*model.PendingPayment, error)
	UpdatePendingPaymentStatus(ctx context.Context, id string, status model.PendingPaymentStatus, providerTransactionID string) error
}

// Store is everything the payment core persists.
type Store interface {
	JarStore
	ContributionStore
	PendingPaymentStore
}
