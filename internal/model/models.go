package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ContributionStatus string

const (
	ContributionPending   ContributionStatus = "pending"
	ContributionConfirmed ContributionStatus = "confirmed"
	ContributionFailed    ContributionStatus = "failed"
)

type PendingPaymentStatus string

const (
	PaymentInitiated PendingPaymentStatus = "initiated"
	PaymentSuccess   PendingPaymentStatus = "success"
	PaymentFailed    PendingPaymentStatus = "failed"
)

// Channel is the flow a payment was initiated through.
type Channel string

const (
	ChannelPush     Channel = "push"
	ChannelRedirect Channel = "redirect"
)

// AnonymousContributor is the display name used when a notification cannot be
// attributed to a known payer.
const AnonymousContributor = "Anonymous Contributor"

type Jar struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Title         string          `json:"title"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	Currency      string          `json:"currency"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Contribution struct {
	ID                    string             `json:"id"`
	JarID                 string             `json:"jar_id"`
	Reference             string             `json:"reference"`
	ProviderTransactionID string             `json:"provider_transaction_id,omitempty"`
	ContributorName       string             `json:"contributor_name,omitempty"`
	ContributorEmail      string             `json:"contributor_email,omitempty"`
	Amount                decimal.Decimal    `json:"amount"`
	Currency              string             `json:"currency"`
	Status                ContributionStatus `json:"status"`
	IsAnonymous           bool               `json:"is_anonymous"`
	CreatedAt             time.Time          `json:"created_at"`
}

// PendingPayment correlates a gateway-side transaction with a jar until the
// provider reports an outcome. Its ID is the correlation reference.
type PendingPayment struct {
	ID                    string               `json:"id"`
	JarID                 string               `json:"jar_id"`
	ProviderTransactionID string               `json:"provider_transaction_id,omitempty"`
	Amount                decimal.Decimal      `json:"amount"`
	ContributorName       string               `json:"contributor_name"`
	ContributorEmail      string               `json:"contributor_email,omitempty"`
	IsAnonymous           bool                 `json:"is_anonymous"`
	Channel               Channel              `json:"channel"`
	Status                PendingPaymentStatus `json:"status"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

type JarWithContributions struct {
	Jar
	Contributions []Contribution `json:"contributions"`
}

// PushPaymentRequest is the body of POST /api/payments/stk-push.
type PushPaymentRequest struct {
	JarID           string          `json:"jar_id"`
	Amount          decimal.Decimal `json:"amount"`
	ContributorName string          `json:"contributor_name"`
	PhoneNumber     string          `json:"phone_number"`
	IsAnonymous     bool            `json:"is_anonymous"`
}

// RedirectPaymentRequest is the body of POST /api/payments/redirect.
type RedirectPaymentRequest struct {
	JarID             string          `json:"jar_id"`
	Amount            decimal.Decimal `json:"amount"`
	ContributorName   string          `json:"contributor_name"`
	CustomerEmail     string          `json:"customer_email"`
	CustomerFirstName string          `json:"customer_first_name"`
	CustomerLastName  string          `json:"customer_last_name"`
	PhoneNumber       string          `json:"phone_number,omitempty"`
	IsAnonymous       bool            `json:"is_anonymous"`
}

type PushPaymentResponse struct {
	Accepted              bool   `json:"accepted"`
	TransactionRef        string `json:"transaction_ref"`
	ProviderTransactionID string `json:"provider_transaction_id,omitempty"`
	Message               string `json:"message"`
}

type RedirectPaymentResponse struct {
	RedirectURL    string `json:"payment_url"`
	TransactionRef string `json:"transaction_ref"`
	TrackingID     string `json:"transaction_id"`
}

type StatusResponse struct {
	Status  string           `json:"status"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
	Message string           `json:"message,omitempty"`
}

// WebhookNotification is the payload the payment provider posts back.
type WebhookNotification struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
	Signature     string          `json:"signature"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
