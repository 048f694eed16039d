package status

import "errors"

var (
	ErrTicketNotFound    = errors.New("ticket: ticket not found")
	ErrAlreadyExpired    = errors.New("ticket: ticket already expired")
	ErrAlreadyInProgress = errors.New("ticket: validation already in progress")
	ErrNotExpired        = errors.New("ticket: ticket not expired")
	ErrTransientStore    = errors.New("store: ticket store unavailable")

	ErrInvalidCredential = errors.New("credential: invalid credential")
	ErrMalformedMessage  = errors.New("scan: malformed message")

	ErrPaymentNotSucceeded = errors.New("payment: payment not succeeded")
	ErrAmountMismatch      = errors.New("payment: amount mismatch")
	ErrDuplicatePayment    = errors.New("payment: payment already processed")
)
