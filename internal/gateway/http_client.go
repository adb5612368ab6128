package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
)

const (
	DefaultPayHeroBaseURL = "https://backend.payhero.co.ke"
	DefaultPesapalBaseURL = "https://payments.pesapal.com/pesapalv3/api"
	maxResponseBytes      = 1 << 20
)

type Config struct {
	PayHeroBaseURL        string
	PayHeroAuthToken      string
	PayHeroChannelID      int
	PesapalBaseURL        string
	PesapalConsumerKey    string
	PesapalConsumerSecret string
	PesapalIPNID          string
	CallbackURL           string
	CountryCode           string
	Timeout               time.Duration
}

// HTTPClient talks to PayHero for mobile-money push payments and to Pesapal
// for redirect checkout. It is constructed explicitly and injected; there is
// no package-level client.
type HTTPClient struct {
	cfg     Config
	payhero *http.Client
	pesapal *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if cfg.PayHeroBaseURL == "" {
		cfg.PayHeroBaseURL = DefaultPayHeroBaseURL
	}
	if cfg.PesapalBaseURL == "" {
		cfg.PesapalBaseURL = DefaultPesapalBaseURL
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "KE"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.PayHeroBaseURL = strings.TrimRight(cfg.PayHeroBaseURL, "/")
	cfg.PesapalBaseURL = strings.TrimRight(cfg.PesapalBaseURL, "/")

	base := &http.Client{Timeout: cfg.Timeout}
	c := &HTTPClient{cfg: cfg, payhero: base, logger: logger}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	c.pesapal = oauth2.NewClient(ctx, &pesapalTokenSource{client: c, http: base})

	if cfg.PayHeroAuthToken == "" {
		logger.Warn("payhero configuration incomplete", "missing", "PAYHERO_AUTH_TOKEN")
	}
	return c
}

type payheroPushBody struct {
	Amount            json.Number `json:"amount"`
	PhoneNumber       string      `json:"phone_number"`
	ChannelID         int         `json:"channel_id"`
	Provider          string      `json:"provider"`
	ExternalReference string      `json:"external_reference"`
	CallbackURL       string      `json:"callback_url"`
}

type payheroPushResponse struct {
	Success           bool   `json:"success"`
	Status            string `json:"status"`
	Reference         string `json:"reference"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type payheroErrorResponse struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	StatusCode   int    `json:"status_code"`
}

// InitiatePush sends an STK push. A provider-side rejection comes back as a
// PushResult with Accepted false; only transport failures return an error.
func (c *HTTPClient) InitiatePush(ctx context.Context, req PushRequest) (*PushResult, error) {
	body := payheroPushBody{
		Amount:            json.Number(req.Amount.String()),
		PhoneNumber:       req.DestinationHandle,
		ChannelID:         c.cfg.PayHeroChannelID,
		Provider:          "m-pesa",
		ExternalReference: req.CallbackReference,
		CallbackURL:       c.cfg.CallbackURL,
	}
	header := http.Header{"Authorization": []string{c.cfg.PayHeroAuthToken}}

	status, raw, err := doJSON(ctx, c.payhero, http.MethodPost, c.cfg.PayHeroBaseURL+"/api/v2/payments", header, body)
	if err != nil {
		return nil, AsError(err)
	}
	if status >= 300 {
		var perr payheroErrorResponse
		if err := json.Unmarshal(raw, &perr); err != nil || perr.ErrorCode == "" {
			if status >= 500 {
				return nil, &Error{Reason: ReasonUnavailable, Message: fmt.Sprintf("payhero returned %d", status), Retryable: true}
			}
			return &PushResult{Accepted: false, ErrorCode: http.StatusText(status), ErrorMessage: strings.TrimSpace(string(raw))}, nil
		}
		c.logger.Warn("payhero push rejected", "reference", req.CallbackReference, "code", perr.ErrorCode, "message", perr.ErrorMessage)
		return &PushResult{Accepted: false, ErrorCode: perr.ErrorCode, ErrorMessage: perr.ErrorMessage}, nil
	}

	var resp payheroPushResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Message: "malformed payhero response", Retryable: true, Err: err}
	}
	if !resp.Success {
		return &PushResult{Accepted: false, ErrorCode: resp.Status, ErrorMessage: "push not accepted"}, nil
	}
	txID := resp.Reference
	if txID == "" {
		txID = resp.CheckoutRequestID
	}
	if txID == "" {
		txID = req.CallbackReference
	}
	return &PushResult{Accepted: true, ProviderTransactionID: txID}, nil
}

type pesapalBillingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	CountryCode  string `json:"country_code"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type pesapalOrderBody struct {
	ID             string                `json:"id"`
	Currency       string                `json:"currency"`
	Amount         json.Number           `json:"amount"`
	Description    string                `json:"description"`
	CallbackURL    string                `json:"callback_url"`
	NotificationID string                `json:"notification_id"`
	BillingAddress pesapalBillingAddress `json:"billing_address"`
}

type pesapalError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type pesapalOrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Error             *pesapalError `json:"error"`
	Status            string        `json:"status"`
}

func (c *HTTPClient) InitiateRedirect(ctx context.Context, req RedirectRequest) (*RedirectResult, error) {
	body := pesapalOrderBody{
		ID:             req.CallbackReference,
		Currency:       req.Currency,
		Amount:         json.Number(req.Amount.String()),
		Description:    req.Description,
		CallbackURL:    c.cfg.CallbackURL,
		NotificationID: c.cfg.PesapalIPNID,
		BillingAddress: pesapalBillingAddress{
			EmailAddress: req.Payer.Email,
			PhoneNumber:  req.Payer.PhoneNumber,
			CountryCode:  c.cfg.CountryCode,
			FirstName:    req.Payer.FirstName,
			LastName:     req.Payer.LastName,
		},
	}

	status, raw, err := doJSON(ctx, c.pesapal, http.MethodPost, c.cfg.PesapalBaseURL+"/Transactions/SubmitOrderRequest", nil, body)
	if err != nil {
		return nil, AsError(err)
	}
	if status >= 500 {
		return nil, &Error{Reason: ReasonUnavailable, Message: fmt.Sprintf("pesapal returned %d", status), Retryable: true}
	}

	var resp pesapalOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Message: "malformed pesapal response", Retryable: true, Err: err}
	}
	if resp.Error != nil && (resp.Error.Code != "" || resp.Error.Message != "") {
		return nil, &Error{Reason: ClassifyProviderError(resp.Error.Code, resp.Error.Message), Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if status >= 300 || resp.OrderTrackingID == "" || resp.RedirectURL == "" {
		return nil, &Error{Reason: ReasonRejected, Message: "pesapal did not return a checkout url"}
	}
	return &RedirectResult{TrackingID: resp.OrderTrackingID, RedirectURL: resp.RedirectURL}, nil
}

type pesapalStatusResponse struct {
	PaymentStatusDescription string           `json:"payment_status_description"`
	StatusCode               *int             `json:"status_code"`
	Amount                   *decimal.Decimal `json:"amount"`
	Message                  string           `json:"message"`
	Error                    *pesapalError    `json:"error"`
}

type payheroStatusResponse struct {
	Status           string           `json:"status"`
	Amount           *decimal.Decimal `json:"amount"`
	ResultDesc       string           `json:"result_desc"`
	ProviderRef      string           `json:"provider_reference"`
	ThirdPartyRef    string           `json:"third_party_reference"`
	ErrorCode        string           `json:"error_code"`
	ErrorDescription string           `json:"error_message"`
}

// VerifyTransaction queries Pesapal for order tracking ids (which are UUIDs)
// and PayHero for everything else.
func (c *HTTPClient) VerifyTransaction(ctx context.Context, providerTransactionID string) (*Verification, error) {
	if providerTransactionID == "" {
		return nil, &Error{Reason: ReasonRejected, Message: "transaction id is required"}
	}
	if _, err := uuid.Parse(providerTransactionID); err == nil {
		return c.verifyPesapal(ctx, providerTransactionID)
	}
	return c.verifyPayHero(ctx, providerTransactionID)
}

func (c *HTTPClient) verifyPesapal(ctx context.Context, trackingID string) (*Verification, error) {
	u := c.cfg.PesapalBaseURL + "/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(trackingID)
	status, raw, err := doJSON(ctx, c.pesapal, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, AsError(err)
	}
	if status >= 500 {
		return nil, &Error{Reason: ReasonUnavailable, Message: fmt.Sprintf("pesapal returned %d", status), Retryable: true}
	}
	var resp pesapalStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Message: "malformed pesapal response", Retryable: true, Err: err}
	}
	if resp.Error != nil && resp.Error.Code != "" {
		return nil, &Error{Reason: ReasonRejected, Code: resp.Error.Code, Message: resp.Error.Message}
	}

	v := &Verification{Amount: resp.Amount, Message: resp.Message}
	if resp.PaymentStatusDescription != "" {
		v.Status = NormalizeStatus(resp.PaymentStatusDescription)
	} else if resp.StatusCode != nil {
		v.Status = NormalizeStatus(fmt.Sprint(*resp.StatusCode))
	} else {
		v.Status = StatusPending
	}
	if v.Message == "" {
		v.Message = "Transaction verified"
	}
	return v, nil
}

func (c *HTTPClient) verifyPayHero(ctx context.Context, reference string) (*Verification, error) {
	u := c.cfg.PayHeroBaseURL + "/api/v2/transaction-status?reference=" + url.QueryEscape(reference)
	header := http.Header{"Authorization": []string{c.cfg.PayHeroAuthToken}}
	status, raw, err := doJSON(ctx, c.payhero, http.MethodGet, u, header, nil)
	if err != nil {
		return nil, AsError(err)
	}
	if status >= 500 {
		return nil, &Error{Reason: ReasonUnavailable, Message: fmt.Sprintf("payhero returned %d", status), Retryable: true}
	}
	var resp payheroStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Message: "malformed payhero response", Retryable: true, Err: err}
	}
	if status >= 300 {
		return nil, &Error{Reason: ClassifyProviderError(resp.ErrorCode, resp.ErrorDescription), Code: resp.ErrorCode, Message: resp.ErrorDescription}
	}
	msg := resp.ResultDesc
	if msg == "" {
		msg = "Transaction status retrieved"
	}
	return &Verification{Status: NormalizeStatus(resp.Status), Amount: resp.Amount, Message: msg}, nil
}

type pesapalTokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type pesapalTokenResponse struct {
	Token      string        `json:"token"`
	ExpiryDate time.Time     `json:"expiryDate"`
	Error      *pesapalError `json:"error"`
}

// pesapalTokenSource exchanges the consumer key and secret for a bearer
// token. oauth2 caches it until expiry.
type pesapalTokenSource struct {
	client *HTTPClient
	http   *http.Client
}

func (s *pesapalTokenSource) Token() (*oauth2.Token, error) {
	cfg := s.client.cfg
	if cfg.PesapalConsumerKey == "" || cfg.PesapalConsumerSecret == "" {
		return nil, &Error{Reason: ReasonUnavailable, Message: "pesapal credentials are not configured"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	status, raw, err := doJSON(ctx, s.http, http.MethodPost, cfg.PesapalBaseURL+"/Auth/RequestToken", nil,
		pesapalTokenRequest{ConsumerKey: cfg.PesapalConsumerKey, ConsumerSecret: cfg.PesapalConsumerSecret})
	if err != nil {
		return nil, fmt.Errorf("failed to request pesapal token: %w", err)
	}
	var resp pesapalTokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode pesapal token: %w", err)
	}
	if status >= 300 || resp.Token == "" {
		msg := "empty token"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, &Error{Reason: ReasonUnavailable, Message: "pesapal auth failed: " + msg, Retryable: true}
	}
	return &oauth2.Token{AccessToken: resp.Token, TokenType: "Bearer", Expiry: resp.ExpiryDate}, nil
}

func doJSON(ctx context.Context, hc *http.Client, method, u string, header http.Header, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		// oauth2 wraps token failures in *url.Error; surface ours.
		var ge *Error
		if errors.As(err, &ge) {
			return 0, nil, ge
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
