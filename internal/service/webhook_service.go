package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/svirmi/lifejar-payments/internal/correlation"
	"github.com/svirmi/lifejar-payments/internal/events"
	"github.com/svirmi/lifejar-payments/internal/gateway"
	"github.com/svirmi/lifejar-payments/internal/ledger"
	"github.com/svirmi/lifejar-payments/internal/model"
	"github.com/svirmi/lifejar-payments/internal/repository"
)

// Outcome is what an accepted webhook did to the ledger.
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomePaymentFailed Outcome = "payment_failed"
	OutcomePending       Outcome = "pending"
)

type WebhookService struct {
	store     repository.Store
	ledger    *ledger.Ledger
	verifier  *SignatureVerifier
	publisher events.Publisher
	logger    *slog.Logger
}

func NewWebhookService(store repository.Store, l *ledger.Ledger, verifier *SignatureVerifier, publisher events.Publisher, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		store:     store,
		ledger:    l,
		verifier:  verifier,
		publisher: publisher,
		logger:    logger,
	}
}

// HandleNotification admits a provider notification and applies it.
// Authenticity and reference failures never reach the ledger.
func (s *WebhookService) HandleNotification(ctx context.Context, n model.WebhookNotification) (Outcome, error) {
	if err := s.verifier.Verify(n); err != nil {
		s.logger.Warn("webhook rejected", "reference", n.Reference, "transactionID", n.TransactionID, "error", err)
		return "", err
	}

	ref, err := correlation.Decode(n.Reference)
	if err != nil {
		s.logger.Warn("webhook reference unresolvable", "reference", n.Reference, "error", err)
		return "", &ReferenceError{Reference: n.Reference, Err: err}
	}

	switch gateway.NormalizeStatus(n.Status) {
	case gateway.StatusSuccess:
		return s.applySuccess(ctx, ref, n)
	case gateway.StatusFailed:
		return s.recordFailure(ctx, ref, n)
	default:
		s.logger.Info("payment still pending", "reference", n.Reference, "status", n.Status)
		return OutcomePending, nil
	}
}

func (s *WebhookService) applySuccess(ctx context.Context, ref correlation.Reference, n model.WebhookNotification) (Outcome, error) {
	jar, err := s.store.GetJar(ctx, ref.JarID)
	if err != nil {
		if errors.Is(err, repository.ErrJarNotFound) {
			s.logger.Warn("webhook for unknown jar", "jarID", ref.JarID, "reference", n.Reference)
			return "", &ReferenceError{Reference: n.Reference, Err: err}
		}
		return "", fmt.Errorf("failed to load jar: %w", err)
	}

	// The signature covers the amount to two places only.
	if err := checkAmount("amount", n.Amount); err != nil {
		return "", err
	}
	currency, err := matchCurrency(n.Currency, jar.Currency)
	if err != nil {
		return "", err
	}

	entry := ledger.Entry{
		JarID:                 ref.JarID,
		Reference:             n.Reference,
		ProviderTransactionID: n.TransactionID,
		Amount:                n.Amount,
		Currency:              currency,
		ContributorName:       model.AnonymousContributor,
		Anonymous:             true,
	}
	pending, err := s.store.GetPendingPayment(ctx, n.Reference)
	switch {
	case err == nil:
		entry.Anonymous = pending.IsAnonymous
		entry.ContributorEmail = pending.ContributorEmail
		if !pending.IsAnonymous && pending.ContributorName != "" {
			entry.ContributorName = pending.ContributorName
		}
	case errors.Is(err, repository.ErrPendingPaymentNotFound):
	default:
		// Attribution is optional; the payment itself is still applied.
		s.logger.Warn("failed to load pending payment", "reference", n.Reference, "error", err)
		pending = nil
	}

	outcome := OutcomeApplied
	if _, err := s.ledger.ApplyConfirmedContribution(ctx, entry); err != nil {
		switch {
		case errors.Is(err, ledger.ErrDuplicate):
			s.logger.Info("duplicate webhook ignored", "jarID", ref.JarID, "reference", n.Reference)
			outcome = OutcomeDuplicate
		case errors.Is(err, ledger.ErrJarNotFound):
			return "", &ReferenceError{Reference: n.Reference, Err: err}
		default:
			return "", err
		}
	}

	if pending != nil && pending.Status != model.PaymentSuccess {
		if err := s.store.UpdatePendingPaymentStatus(ctx, n.Reference, model.PaymentSuccess, n.TransactionID); err != nil {
			s.logger.Warn("failed to mark pending payment", "reference", n.Reference, "error", err)
		}
	}
	return outcome, nil
}

// recordFailure keeps a durable failed PendingPayment for audit. The ledger
// is never touched, and a payment that already confirmed stays confirmed.
func (s *WebhookService) recordFailure(ctx context.Context, ref correlation.Reference, n model.WebhookNotification) (Outcome, error) {
	_, err := s.store.GetContributionByReference(ctx, n.Reference)
	switch {
	case err == nil:
		s.logger.Warn("failure reported for confirmed payment, ignoring", "jarID", ref.JarID, "reference", n.Reference)
		return OutcomeDuplicate, nil
	case !errors.Is(err, repository.ErrContributionNotFound):
		return "", fmt.Errorf("failed to check contribution: %w", err)
	}

	err = s.store.UpdatePendingPaymentStatus(ctx, n.Reference, model.PaymentFailed, n.TransactionID)
	if errors.Is(err, repository.ErrPendingPaymentNotFound) {
		err = s.store.CreatePendingPayment(ctx, &model.PendingPayment{
			ID:                    n.Reference,
			JarID:                 ref.JarID,
			ProviderTransactionID: n.TransactionID,
			Amount:                n.Amount,
			ContributorName:       model.AnonymousContributor,
			IsAnonymous:           true,
			Status:                model.PaymentFailed,
		})
		// A concurrent delivery created it first.
		if errors.Is(err, repository.ErrDuplicatePendingPayment) {
			err = s.store.UpdatePendingPaymentStatus(ctx, n.Reference, model.PaymentFailed, n.TransactionID)
		}
	}
	if errors.Is(err, repository.ErrPaymentSettled) {
		s.logger.Warn("failure reported for settled payment, ignoring", "jarID", ref.JarID, "reference", n.Reference)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to record failed payment: %w", err)
	}

	s.logger.Info("payment failed", "jarID", ref.JarID, "reference", n.Reference, "transactionID", n.TransactionID)
	ev := events.NewEvent(events.TopicPaymentFailed, ref.JarID, n.Reference)
	ev.TransactionID = n.TransactionID
	ev.Amount = n.Amount
	ev.Currency = strings.ToUpper(n.Currency)
	events.Emit(ctx, s.publisher, s.logger, ev)
	return OutcomePaymentFailed, nil
}

// matchCurrency returns the jar currency when got is empty or an alias of it.
func matchCurrency(got, jarCurrency string) (string, error) {
	want := canonicalCurrency(jarCurrency)
	if strings.TrimSpace(got) == "" {
		return want, nil
	}
	if canonicalCurrency(got) != want {
		return "", invalid("currency", fmt.Sprintf("%s does not match jar currency %s", strings.ToUpper(got), want))
	}
	return want, nil
}

func canonicalCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "KSH" {
		return "KES"
	}
	return c
}
