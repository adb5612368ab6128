package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/svirmi/lifejar-payments/internal/correlation"
	"github.com/svirmi/lifejar-payments/internal/gateway"
	"github.com/svirmi/lifejar-payments/internal/model"
	"github.com/svirmi/lifejar-payments/internal/repository"
)

// PaymentService starts payments with the provider. It records
// PendingPayments for attribution but never touches the ledger.
type PaymentService struct {
	store   repository.Store
	gateway gateway.Client
	logger  *slog.Logger
	timeout time.Duration
}

func NewPaymentService(store repository.Store, gw gateway.Client, logger *slog.Logger, timeout time.Duration) *PaymentService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PaymentService{store: store, gateway: gw, logger: logger, timeout: timeout}
}

func (s *PaymentService) InitiatePushPayment(ctx context.Context, req model.PushPaymentRequest) (*model.PushPaymentResponse, error) {
	if strings.TrimSpace(req.JarID) == "" {
		return nil, invalid("jar_id", "is required")
	}
	if err := checkAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	phone, err := normalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	jar, err := s.activeJar(ctx, req.JarID)
	if err != nil {
		return nil, err
	}
	ref, err := correlation.Encode(jar.ID, correlation.NewNonce())
	if err != nil {
		return nil, invalid("jar_id", err.Error())
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.gateway.InitiatePush(gctx, gateway.PushRequest{
		Amount:            req.Amount,
		DestinationHandle: phone,
		CallbackReference: ref,
	})
	if err != nil {
		ge := gateway.AsError(err)
		s.logger.Error("push initiation failed", "jarID", jar.ID, "reference", ref, "error", ge)
		return nil, ge
	}
	if !res.Accepted {
		ge := &gateway.Error{
			Reason:  gateway.ClassifyProviderError(res.ErrorCode, res.ErrorMessage),
			Code:    res.ErrorCode,
			Message: res.ErrorMessage,
		}
		s.logger.Warn("push rejected by provider", "jarID", jar.ID, "reference", ref, "reason", ge.Reason, "code", ge.Code)
		return nil, ge
	}

	pending := &model.PendingPayment{
		ID:                    ref,
		JarID:                 jar.ID,
		ProviderTransactionID: res.ProviderTransactionID,
		Amount:                req.Amount,
		ContributorName:       displayName(req.ContributorName, req.IsAnonymous),
		IsAnonymous:           req.IsAnonymous,
		Channel:               model.ChannelPush,
		Status:                model.PaymentInitiated,
	}
	// The push is already on the payer's phone; losing the record only
	// loses attribution.
	if err := s.store.CreatePendingPayment(ctx, pending); err != nil {
		s.logger.Error("failed to record pending push payment", "reference", ref, "error", err)
	}

	s.logger.Info("push payment initiated", "jarID", jar.ID, "reference", ref, "transactionID", res.ProviderTransactionID)
	return &model.PushPaymentResponse{
		Accepted:              true,
		TransactionRef:        ref,
		ProviderTransactionID: res.ProviderTransactionID,
		Message:               "Payment request sent. Check your phone to complete the payment.",
	}, nil
}

func (s *PaymentService) InitiateRedirectPayment(ctx context.Context, req model.RedirectPaymentRequest) (*model.RedirectPaymentResponse, error) {
	if strings.TrimSpace(req.JarID) == "" {
		return nil, invalid("jar_id", "is required")
	}
	if err := checkAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	if !strings.Contains(req.CustomerEmail, "@") {
		return nil, invalid("customer_email", "must be a valid email address")
	}
	if strings.TrimSpace(req.CustomerFirstName) == "" || strings.TrimSpace(req.CustomerLastName) == "" {
		return nil, invalid("customer_name", "first and last name are required")
	}
	phone := ""
	if req.PhoneNumber != "" {
		var err error
		if phone, err = normalizePhone(req.PhoneNumber); err != nil {
			return nil, err
		}
	}

	jar, err := s.activeJar(ctx, req.JarID)
	if err != nil {
		return nil, err
	}
	ref, err := correlation.Encode(jar.ID, correlation.NewNonce())
	if err != nil {
		return nil, invalid("jar_id", err.Error())
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.gateway.InitiateRedirect(gctx, gateway.RedirectRequest{
		Amount:      req.Amount,
		Currency:    canonicalCurrency(jar.Currency),
		Description: "Contribution to " + jar.Title,
		Payer: gateway.PayerProfile{
			Email:       req.CustomerEmail,
			FirstName:   req.CustomerFirstName,
			LastName:    req.CustomerLastName,
			PhoneNumber: phone,
		},
		CallbackReference: ref,
	})
	if err != nil {
		ge := gateway.AsError(err)
		s.logger.Error("redirect initiation failed", "jarID", jar.ID, "reference", ref, "error", ge)
		return nil, ge
	}

	err = s.store.CreatePendingPayment(ctx, &model.PendingPayment{
		ID:                    ref,
		JarID:                 jar.ID,
		ProviderTransactionID: res.TrackingID,
		Amount:                req.Amount,
		ContributorName:       displayName(req.ContributorName, req.IsAnonymous),
		ContributorEmail:      req.CustomerEmail,
		IsAnonymous:           req.IsAnonymous,
		Channel:               model.ChannelRedirect,
		Status:                model.PaymentInitiated,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record pending payment: %w", err)
	}

	s.logger.Info("redirect payment initiated", "jarID", jar.ID, "reference", ref, "trackingID", res.TrackingID)
	return &model.RedirectPaymentResponse{
		RedirectURL:    res.RedirectURL,
		TransactionRef: ref,
		TrackingID:     res.TrackingID,
	}, nil
}

// GetStatus asks the provider for the current state of a transaction.
// transactionID is a provider id or a reference returned at initiation; a
// reference is resolved through its PendingPayment first.
func (s *PaymentService) GetStatus(ctx context.Context, transactionID string) (*model.StatusResponse, error) {
	id := strings.TrimSpace(transactionID)
	if id == "" {
		return nil, invalid("transaction_id", "is required")
	}
	if _, err := correlation.Decode(id); err == nil {
		p, err := s.store.GetPendingPayment(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrPendingPaymentNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to load pending payment: %w", err)
		}
		if p.ProviderTransactionID == "" {
			return localStatus(p), nil
		}
		id = p.ProviderTransactionID
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.gateway.VerifyTransaction(gctx, id)
	if err != nil {
		return nil, gateway.AsError(err)
	}
	return &model.StatusResponse{Status: string(v.Status), Amount: v.Amount, Message: v.Message}, nil
}

// localStatus reports a payment the provider has not assigned an id to yet.
func localStatus(p *model.PendingPayment) *model.StatusResponse {
	status := gateway.StatusPending
	switch p.Status {
	case model.PaymentSuccess:
		status = gateway.StatusSuccess
	case model.PaymentFailed:
		status = gateway.StatusFailed
	}
	amount := p.Amount
	return &model.StatusResponse{Status: string(status), Amount: &amount}
}

func (s *PaymentService) activeJar(ctx context.Context, jarID string) (*model.Jar, error) {
	jar, err := s.store.GetJar(ctx, jarID)
	if err != nil {
		if errors.Is(err, repository.ErrJarNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load jar: %w", err)
	}
	if !jar.IsActive {
		return nil, ErrJarInactive
	}
	return jar, nil
}

func displayName(name string, anonymous bool) string {
	name = strings.TrimSpace(name)
	if anonymous || name == "" {
		return model.AnonymousContributor
	}
	return name
}

// normalizePhone accepts 07XXXXXXXX, 01XXXXXXXX, 2547XXXXXXXX and
// +2547XXXXXXXX and returns the 254 form.
func normalizePhone(raw string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(p, "0") && len(p) == 10 {
		p = "254" + p[1:]
	}
	if len(p) != 12 || !strings.HasPrefix(p, "254") {
		return "", invalid("phone_number", "use the format 07XXXXXXXX")
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return "", invalid("phone_number", "use the format 07XXXXXXXX")
		}
	}
	return p, nil
}
