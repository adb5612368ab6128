package main

import "net/http"

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", app.healthCheck)
	mux.HandleFunc("POST /api/jars", app.createJar)
	mux.HandleFunc("GET /api/jars/{jarId}", app.getJar)
	mux.HandleFunc("DELETE /api/jars/{jarId}", app.deleteJar)
	mux.HandleFunc("GET /api/jars/{jarId}/audit", app.auditJar)
	mux.HandleFunc("POST /api/payments/stk-push", app.initiatePushPayment)
	mux.HandleFunc("POST /api/payments/redirect", app.initiateRedirectPayment)
	mux.HandleFunc("POST /api/payments/webhook", app.handleWebhook)
	mux.HandleFunc("GET /api/payments/status/{transactionId}", app.getPaymentStatus)

	return app.logRequest(mux)
}
