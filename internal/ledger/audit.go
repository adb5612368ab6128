package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/model"
)

// Audit compares a jar's stored total with its confirmed contributions.
type Audit struct {
	JarID          string          `json:"jar_id"`
	CurrentAmount  decimal.Decimal `json:"current_amount"`
	ConfirmedTotal decimal.Decimal `json:"confirmed_total"`
	ConfirmedCount int             `json:"confirmed_count"`
	Discrepancy    decimal.Decimal `json:"discrepancy"`
	Balanced       bool            `json:"balanced"`
}

func (l *Ledger) Audit(ctx context.Context, jarID string) (*Audit, error) {
	jar, err := l.store.GetJar(ctx, jarID)
	if err != nil {
		return nil, fmt.Errorf("failed to load jar: %w", err)
	}
	contributions, err := l.store.ListContributions(ctx, jarID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contributions: %w", err)
	}

	a := &Audit{JarID: jarID, CurrentAmount: jar.CurrentAmount, ConfirmedTotal: decimal.Zero}
	for _, c := range contributions {
		if c.Status != model.ContributionConfirmed {
			continue
		}
		a.ConfirmedTotal = a.ConfirmedTotal.Add(c.Amount)
		a.ConfirmedCount++
	}
	a.Discrepancy = a.CurrentAmount.Sub(a.ConfirmedTotal)
	a.Balanced = a.Discrepancy.IsZero()
	if !a.Balanced {
		l.logger.Error("ledger imbalance", "jarID", jarID,
			"currentAmount", a.CurrentAmount.String(), "confirmedTotal", a.ConfirmedTotal.String())
	}
	return a, nil
}
