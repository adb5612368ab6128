package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/svirmi/lifejar-payments/internal/gateway"
	"github.com/svirmi/lifejar-payments/internal/helpers"
	"github.com/svirmi/lifejar-payments/internal/ledger"
	"github.com/svirmi/lifejar-payments/internal/model"
	"github.com/svirmi/lifejar-payments/internal/repository"
	"github.com/svirmi/lifejar-payments/internal/service"
)

const (
	maxBodyBytes    = 1 << 20
	signatureHeader = "X-Webhook-Signature"
)

// decodeBody reads a JSON request body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, dst); err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// writeServiceError maps service, gateway and repository errors to HTTP.
func (app *application) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	var ge *gateway.Error
	switch {
	case errors.As(err, &ve):
		helpers.WriteError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, repository.ErrJarNotFound):
		helpers.WriteError(w, http.StatusNotFound, "jar not found")
	case errors.Is(err, repository.ErrPendingPaymentNotFound):
		helpers.WriteError(w, http.StatusNotFound, "payment not found")
	case errors.Is(err, service.ErrJarInactive):
		helpers.WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &ge):
		status := http.StatusBadGateway
		switch ge.Reason {
		case gateway.ReasonInvalidHandle:
			status = http.StatusBadRequest
		case gateway.ReasonUnavailable, gateway.ReasonChannelInactive:
			status = http.StatusServiceUnavailable
		}
		helpers.WriteJSON(w, status, map[string]string{"error": ge.UserMessage(), "reason": string(ge.Reason)})
	default:
		app.logger.Error("request failed", "uri", r.URL.RequestURI(), "error", err)
		helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// createJar() POST /api/jars
func (app *application) createJar(w http.ResponseWriter, r *http.Request) {
	var req service.CreateJarRequest
	if !decodeBody(w, r, &req) {
		return
	}
	jar, err := app.jars.CreateJar(r.Context(), req)
	if err != nil {
		app.writeServiceError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, jar)
}

// getJar() GET /api/jars/{jarId}
func (app *application) getJar(w http.ResponseWriter, r *http.Request) {
	jarID, err := helpers.ParsePathID(r, "jarId")
	if err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "invalid jar id")
		return
	}
	jar, err := app.jars.GetJar(r.Context(), jarID)
	if err != nil {
		app.writeServiceError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, jar)
}

// deleteJar() DELETE /api/jars/{jarId}
func (app *application) deleteJar(w http.ResponseWriter, r *http.Request) {
	jarID, err := helpers.ParsePathID(r, "jarId")
	if err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "invalid jar id")
		return
	}
	if err := app.jars.DeleteJar(r.Context(), jarID); err != nil {
		app.writeServiceError(w, r, err)
		return
	}
	app.logger.Info("jar deleted", "jarID", jarID)
	w.WriteHeader(http.StatusNoContent)
}

// auditJar() GET /api/jars/{jarId}/audit
func (app *application) auditJar(w http.ResponseWriter, r *http.Request) {
	jarID, err := helpers.ParsePathID(r, "jarId")
	if err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "invalid jar id")
		return
	}
	audit, err := app.jars.Audit(r.Context(), jarID)
	if err != nil {
		app.writeServiceError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, audit)
}

// initiatePushPayment() POST /api/payments/stk-push
func (app *application) initiatePushPayment(w http.ResponseWriter, r *http.Request) {
	var req model.PushPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := app.payments.InitiatePushPayment(r.Context(), req)
	if err != nil {
		app.writeServiceError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res)
}

// initiateRedirectPayment() POST /api/payments/redirect
func (app *application) initiateRedirectPayment(w http.ResponseWriter, r *http.Request) {
	var req model.RedirectPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := app.payments.InitiateRedirectPayment(r.Context(), req)
	if err != nil {
		app.writeServiceError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res)
}

// getPaymentStatus() GET /api/payments/status/{transactionId}
func (app *application) getPaymentStatus(w http.ResponseWriter, r *http.Request) {
	txID, err := helpers.ParsePathID(r, "transactionId")
	if err != nil {
		helpers.WriteError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	res, err := app.payments.GetStatus(r.Context(), txID)
	if err != nil {
		app.writeServiceError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, res)
}

// handleWebhook() POST /api/payments/webhook
func (app *application) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var n model.WebhookNotification
	if !decodeBody(w, r, &n) {
		return
	}
	if sig := strings.TrimSpace(r.Header.Get(signatureHeader)); sig != "" {
		n.Signature = sig
	}

	outcome, err := app.webhooks.HandleNotification(r.Context(), n)
	if err != nil {
		var re *service.ReferenceError
		var ve *service.ValidationError
		var le *ledger.Error
		switch {
		case errors.Is(err, service.ErrAuthenticity):
			helpers.WriteError(w, http.StatusUnauthorized, "invalid webhook signature")
		case errors.As(err, &re) && errors.Is(err, repository.ErrJarNotFound):
			helpers.WriteError(w, http.StatusNotFound, "jar not found")
		case errors.As(err, &re):
			helpers.WriteError(w, http.StatusBadRequest, "invalid reference")
		case errors.As(err, &ve):
			helpers.WriteError(w, http.StatusBadRequest, ve.Error())
		case errors.As(err, &le) && le.Retryable():
			helpers.WriteError(w, http.StatusServiceUnavailable, "temporary failure, retry later")
		default:
			app.logger.Error("webhook processing failed", "reference", n.Reference, "error", err)
			helpers.WriteError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	helpers.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    string(outcome),
		"reference": n.Reference,
	})
}

func (app *application) healthCheck(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"env":     app.config.env,
		"backend": app.config.storeBackend,
	})
}
