package server

import (
	"errors"
	"log/slog"
	"net/http"

	"loanforge/native/loan"
	"loanforge/observability/logging"
	"loanforge/storage/loanstore"
)

// errMissingAmount is returned when a request body is missing or cannot be
// decoded, when its amount field is not a decimal integer, and when an
// address field in it is not a valid bech32 address.
var errMissingAmount = errors.New("loand: request body must carry a valid decimal amount")

// toStatus maps a loan.Error's Kind to an HTTP status code, the same
// Kind-to-transport-code switch services/lending/server/errors.go performs
// against gRPC codes.
func toStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, loanstore.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, errMissingAmount) || errors.Is(err, errMalformedRefinance) {
		return http.StatusBadRequest
	}
	var lerr *loan.Error
	if !errors.As(err, &lerr) {
		return http.StatusInternalServerError
	}
	switch lerr.Kind {
	case loan.KindAuth:
		return http.StatusForbidden
	case loan.KindPaused:
		return http.StatusServiceUnavailable
	case loan.KindState:
		return http.StatusConflict
	case loan.KindInvariant:
		return http.StatusUnprocessableEntity
	case loan.KindArithmetic:
		return http.StatusUnprocessableEntity
	case loan.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// logServerError records an operator-facing line for any error that maps to
// a 5xx status. Both the loan ID (the lookup key for a borrower's custody
// address) and the caller's bech32 address are masked the same way a JWT
// secret would be; caller is omitted when the request never resolved one.
func logServerError(loanID, caller string, err error) {
	status := toStatus(err)
	if status < http.StatusInternalServerError {
		return
	}
	fields := []any{
		logging.MaskField("loan_id", loanID),
		slog.String("error", err.Error()),
		slog.Int("status", status),
	}
	if caller != "" {
		fields = append(fields, logging.MaskField("caller", caller))
	}
	slog.Default().Error("loand request failed", fields...)
}
