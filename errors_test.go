package x402

import (
	"errors"
	"fmt"
	"testing"
)

func TestPaymentErrorChain(t *testing.T) {
	base := NewPaymentError(ErrCodeSignatureDenied, "user declined", map[string]interface{}{"signer": "hardware"})
	wrapped := fmt.Errorf("attempt failed: %w", base)

	pe, ok := AsPaymentError(wrapped)
	if !ok {
		t.Fatal("Expected payment error in chain")
	}
	if pe.Code != ErrCodeSignatureDenied {
		t.Fatalf("Expected code %s, got %s", ErrCodeSignatureDenied, pe.Code)
	}
	if !IsSignatureDenied(wrapped) {
		t.Fatal("Expected IsSignatureDenied on wrapped error")
	}
	if IsPaymentRejected(wrapped) {
		t.Fatal("Codes must not cross-match")
	}
}

func TestErrorCodeNonPaymentError(t *testing.T) {
	if code := ErrorCode(errors.New("plain")); code != "" {
		t.Fatalf("Expected empty code for plain error, got %s", code)
	}
	if ErrorCode(nil) != "" {
		t.Fatal("Expected empty code for nil error")
	}
}

func TestPaymentErrorMessage(t *testing.T) {
	err := NewPaymentError(ErrCodeQuoteMalformed, "402 body is not valid JSON", nil)
	want := "quote_malformed: 402 body is not valid JSON"
	if err.Error() != want {
		t.Fatalf("Expected %q, got %q", want, err.Error())
	}
}
