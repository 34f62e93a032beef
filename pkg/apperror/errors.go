package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Error codes.
const (
	CodeUnauthorized        = "WAL_001"
	CodeWalletNotFound      = "WAL_002"
	CodeDestinationNotFound = "WAL_003"
	CodeWalletBlocked       = "WAL_004"
	CodeSelfTransfer        = "WAL_005"

	CodeInsufficientFunds = "LED_001"
	CodeValidation        = "LED_002"
	CodeUnknownCurrency   = "LED_003"
	CodeSameCurrency      = "LED_004"
	CodeIdempotencyReuse  = "LED_005"

	CodeQuoteUnavailable = "QUO_001"

	CodeRateLimitExceeded = "RATE_001"

	CodeStoreFailure = "SYS_001"
	CodeContention   = "SYS_002"
)

// ---- Wallet (WAL) ----

func ErrUnauthorized() *AppError {
	return New(CodeUnauthorized, "Invalid private key or wallet not found", http.StatusUnauthorized)
}

func ErrWalletNotFound() *AppError {
	return New(CodeWalletNotFound, "Wallet not found", http.StatusNotFound)
}

func ErrDestinationNotFound() *AppError {
	return New(CodeDestinationNotFound, "Destination wallet not found", http.StatusNotFound)
}

func ErrWalletBlocked(address string) *AppError {
	return New(CodeWalletBlocked, fmt.Sprintf("Wallet %s is blocked", address), http.StatusForbidden)
}

func ErrSelfTransfer() *AppError {
	return New(CodeSelfTransfer, "Source and destination wallets must differ", http.StatusBadRequest)
}

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient balance", http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New(CodeValidation, "Amount must be greater than zero", http.StatusBadRequest)
}

func ErrUnknownCurrency(code string) *AppError {
	return New(CodeUnknownCurrency, fmt.Sprintf("Unknown currency: %s", code), http.StatusBadRequest)
}

func ErrSameCurrency() *AppError {
	return New(CodeSameCurrency, "Source and destination currencies must differ", http.StatusBadRequest)
}

// ErrIdempotencyReuse reports a token already used for a request with different parameters.
func ErrIdempotencyReuse() *AppError {
	return New(CodeIdempotencyReuse, "Idempotency key was already used with different request parameters", http.StatusUnprocessableEntity)
}

// ---- Quotes (QUO) ----

func ErrQuoteUnavailable(err error) *AppError {
	return Wrap(CodeQuoteUnavailable, "Exchange rate unavailable", http.StatusBadGateway, err)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// ErrStoreFailure wraps an underlying transactional store error.
func ErrStoreFailure(err error) *AppError {
	return Wrap(CodeStoreFailure, "Internal storage error", http.StatusInternalServerError, err)
}

// ErrContention signals a lock-wait timeout or aborted conflicting transaction. Retryable.
func ErrContention(err error) *AppError {
	return Wrap(CodeContention, "Balance is busy, retry later", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeStoreFailure, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a LED_002 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

// Is reports whether err is an *AppError carrying code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	return Is(err, CodeContention)
}
