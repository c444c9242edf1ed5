package x402

import (
	"errors"
	"fmt"
)

// PaymentError is the error type surfaced by every terminal failure of a
// payment attempt. Code identifies the taxonomy entry; Details carries
// context such as the HTTP status or the server's invalid reason.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for the four terminal states of a payment attempt. None of
// them is retried automatically: an automatic retry of a financial signature
// risks double authorization, so re-entry always takes a fresh caller action.
const (
	// ErrCodeQuoteMalformed: the 402 body could not be interpreted as a
	// quote. Permanent until the server is fixed.
	ErrCodeQuoteMalformed = "quote_malformed"
	// ErrCodeSignatureDenied: the signer refused or failed to produce a
	// signature. Retryable by user action.
	ErrCodeSignatureDenied = "signature_denied"
	// ErrCodePaymentRejected: the server rejected the signed envelope.
	// Retryable by re-quoting, since the quote may have changed.
	ErrCodePaymentRejected = "payment_rejected"
	// ErrCodeRequestFailed: transport failure or a non-402, non-2xx status
	// unrelated to payment state. Retryable per normal HTTP semantics.
	ErrCodeRequestFailed = "request_failed"

	// Gate-side error codes.
	ErrCodeInvalidPayment     = "invalid_payment"
	ErrCodeSettlementFailed   = "settlement_failed"
	ErrCodeUnsupportedScheme  = "unsupported_scheme"
	ErrCodeUnsupportedNetwork = "unsupported_network"
)

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// AsPaymentError unwraps err into a *PaymentError if one is in its chain.
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrorCode returns the payment error code in err's chain, or empty if err
// is not a payment error. Callers use it to pick UI: "you declined to sign"
// is not "the server rejected your payment".
func ErrorCode(err error) string {
	if pe, ok := AsPaymentError(err); ok {
		return pe.Code
	}
	return ""
}

// IsQuoteMalformed reports whether err is a quote interpretation failure.
func IsQuoteMalformed(err error) bool { return ErrorCode(err) == ErrCodeQuoteMalformed }

// IsSignatureDenied reports whether err is a signer refusal.
func IsSignatureDenied(err error) bool { return ErrorCode(err) == ErrCodeSignatureDenied }

// IsPaymentRejected reports whether err is a server-side payment rejection.
func IsPaymentRejected(err error) bool { return ErrorCode(err) == ErrCodePaymentRejected }

// IsRequestFailed reports whether err is a generic request failure.
func IsRequestFailed(err error) bool { return ErrorCode(err) == ErrCodeRequestFailed }
