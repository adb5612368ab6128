package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/ledger"
	"github.com/svirmi/lifejar-payments/internal/model"
	"github.com/svirmi/lifejar-payments/internal/repository"
)

// JarService handles queries about jar state.
type JarService struct {
	store  repository.Store
	ledger *ledger.Ledger
}

func NewJarService(store repository.Store, l *ledger.Ledger) *JarService {
	return &JarService{store: store, ledger: l}
}

// CreateJarRequest is the body of POST /api/jars.
type CreateJarRequest struct {
	OwnerID      string          `json:"owner_id"`
	Title        string          `json:"title"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	Currency     string          `json:"currency"`
}

// CreateJar opens a jar with a zero running total.
func (s *JarService) CreateJar(ctx context.Context, req CreateJarRequest) (*model.Jar, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, invalid("owner_id", "is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, invalid("title", "is required")
	}
	if !req.TargetAmount.IsPositive() {
		return nil, invalid("target_amount", "must be positive")
	}
	currency := canonicalCurrency(req.Currency)
	if currency == "" {
		currency = "KES"
	}

	jar := &model.Jar{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		Title:         strings.TrimSpace(req.Title),
		TargetAmount:  req.TargetAmount,
		CurrentAmount: decimal.Zero,
		Currency:      currency,
		IsActive:      true,
	}
	if err := s.store.CreateJar(ctx, jar); err != nil {
		return nil, err
	}
	return jar, nil
}

// GetJar returns the jar with its contributions, newest first.
func (s *JarService) GetJar(ctx context.Context, jarID string) (*model.JarWithContributions, error) {
	jar, err := s.store.GetJar(ctx, jarID)
	if err != nil {
		return nil, err
	}
	contributions, err := s.store.ListContributions(ctx, jarID)
	if err != nil {
		return nil, err
	}
	if contributions == nil {
		contributions = []model.Contribution{}
	}
	return &model.JarWithContributions{Jar: *jar, Contributions: contributions}, nil
}

// DeleteJar removes a jar. Contributions still in flight for it fail their
// increment and are rolled back by the ledger.
func (s *JarService) DeleteJar(ctx context.Context, jarID string) error {
	return s.store.DeleteJar(ctx, jarID)
}

func (s *JarService) Audit(ctx context.Context, jarID string) (*ledger.Audit, error) {
	return s.ledger.Audit(ctx, jarID)
}
