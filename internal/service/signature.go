package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/svirmi/lifejar-payments/internal/model"
)

const signaturePrefix = "sha256="

// canonicalNotification is the string both sides sign. Amounts are fixed to
// two decimal places so "500" and "500.00" sign identically.
func canonicalNotification(n model.WebhookNotification) string {
	return strings.Join([]string{
		n.TransactionID,
		strings.ToLower(n.Status),
		n.Amount.StringFixed(2),
		strings.ToUpper(n.Currency),
		n.Reference,
	}, "|")
}

// SignNotification returns the hex HMAC-SHA256 of n under secret.
func SignNotification(secret string, n model.WebhookNotification) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalNotification(n)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureVerifier checks webhook authenticity. With no secret configured
// it accepts any present signature outside production and rejects
// everything in production.
type SignatureVerifier struct {
	secret     string
	production bool
	logger     *slog.Logger
}

func NewSignatureVerifier(secret string, env string, logger *slog.Logger) *SignatureVerifier {
	v := &SignatureVerifier{
		secret:     secret,
		production: strings.EqualFold(env, "production"),
		logger:     logger,
	}
	if secret == "" {
		if v.production {
			logger.Error("WEBHOOK_SECRET is not set, all webhooks will be rejected")
		} else {
			logger.Warn("WEBHOOK_SECRET is not set, webhook signatures will not be verified", "env", env)
		}
	}
	return v
}

func (v *SignatureVerifier) Verify(n model.WebhookNotification) error {
	sig := strings.TrimSpace(n.Signature)
	if sig == "" {
		return fmt.Errorf("%w: signature missing", ErrAuthenticity)
	}

	if v.secret == "" {
		if v.production {
			v.logger.Error("rejecting webhook, no secret configured", "reference", n.Reference)
			return fmt.Errorf("%w: no webhook secret configured", ErrAuthenticity)
		}
		v.logger.Warn("accepting unverified webhook", "reference", n.Reference)
		return nil
	}

	got, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(sig), signaturePrefix))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrAuthenticity)
	}
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(canonicalNotification(n)))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", ErrAuthenticity)
	}
	return nil
}
