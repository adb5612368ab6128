package gateway

import (
	"strings"
)

// NormalizeStatus maps the status strings used by PayHero and Pesapal onto
// Status. Unknown values are treated as still pending.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "successful", "completed", "complete", "paid", "1":
		return StatusSuccess
	case "failed", "failure", "cancelled", "canceled", "reversed", "invalid", "rejected", "expired", "0", "2", "3":
		return StatusFailed
	default:
		return StatusPending
	}
}

// ClassifyProviderError maps a provider error code and message onto Reason.
func ClassifyProviderError(code, message string) Reason {
	switch strings.ToUpper(code) {
	case "PERMISSION_DENIED":
		if strings.Contains(strings.ToLower(message), "inactive payment channel") {
			return ReasonChannelInactive
		}
	case "INVALID_PHONE_NUMBER", "INVALID_MSISDN":
		return ReasonInvalidHandle
	case "SERVICE_UNAVAILABLE", "TIMEOUT", "INTERNAL_ERROR":
		return ReasonUnavailable
	}
	return ReasonRejected
}
