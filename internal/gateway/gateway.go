// Package gateway defines the capability surface the payment orchestrator
// needs from the external payment provider, and normalises provider
// vocabularies into a closed set at that boundary.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the normalised transaction status.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Reason is the stable, user-facing classification of a gateway failure.
type Reason string

const (
	ReasonChannelInactive Reason = "channel_inactive"
	ReasonInvalidHandle   Reason = "invalid_handle"
	ReasonRejected        Reason = "rejected"
	ReasonUnavailable     Reason = "unavailable"
)

type Client interface {
	InitiatePush(ctx context.Context, req PushRequest) (*PushResult, error)
	InitiateRedirect(ctx context.Context, req RedirectRequest) (*RedirectResult, error)
	VerifyTransaction(ctx context.Context, providerTransactionID string) (*Verification, error)
}

type PushRequest struct {
	Amount            decimal.Decimal
	DestinationHandle string
	CallbackReference string
}

type PushResult struct {
	Accepted              bool
	ProviderTransactionID string
	ErrorCode             string
	ErrorMessage          string
}

type PayerProfile struct {
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
}

type RedirectRequest struct {
	Amount            decimal.Decimal
	Currency          string
	Description       string
	Payer             PayerProfile
	CallbackReference string
}

type RedirectResult struct {
	TrackingID  string
	RedirectURL string
}

type Verification struct {
	Status  Status
	Amount  *decimal.Decimal
	Message string
}

// Error is the only error type that crosses the Client boundary.
type Error struct {
	Reason    Reason
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s (%s): %s", e.Reason, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is safe to show to a payer.
func (e *Error) UserMessage() string {
	switch e.Reason {
	case ReasonChannelInactive:
		return "Payment service is temporarily unavailable. Please contact support or use card payment instead."
	case ReasonInvalidHandle:
		return "Invalid phone number format. Please use the format: 07XXXXXXXX"
	case ReasonUnavailable:
		return "Payment service is temporarily unavailable. Please try again later."
	default:
		if e.Message != "" {
			return "Payment failed: " + e.Message
		}
		return "Payment failed"
	}
}

// AsError converts any error returned by a Client into *Error. Context
// deadline and cancellation are classified as retryable unavailability.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Reason: ReasonUnavailable, Message: "payment provider timed out", Retryable: true, Err: err}
	}
	return &Error{Reason: ReasonUnavailable, Message: err.Error(), Retryable: true, Err: err}
}
