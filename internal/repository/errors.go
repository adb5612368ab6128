package repository

import "errors"

var (
	ErrJarNotFound             = errors.New("jar not found")
	ErrDuplicateJar            = errors.New("jar already exists")
	ErrContributionNotFound    = errors.New("contribution not found")
	ErrDuplicateContribution   = errors.New("contribution already recorded for reference")
	ErrPendingPaymentNotFound  = errors.New("pending payment not found")
	ErrDuplicatePendingPayment = errors.New("pending payment already exists")
	// ErrPaymentSettled is returned when a status change would move a
	// pending payment away from success.
	ErrPaymentSettled          = errors.New("pending payment already settled")
)
