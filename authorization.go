package x402

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthorizationValiditySeconds is the fixed validity window of every
// authorization: validBefore = validAfter + 300. If the user takes longer
// than the window to approve the signature, the authorization is already
// expired and the server rejects it.
const AuthorizationValiditySeconds = 300

// NonceSize is the byte length of the EIP-3009 replay nonce.
const NonceSize = 32

// BuildAuthorization produces the TransferWithAuthorization message for a
// quote and payer address. Pure construction: no network or signing side
// effects. The value echoes the quote's required amount exactly (the exact
// scheme requires equality, not "at least"), the window opens at now and
// closes 300 seconds later, and the nonce is freshly drawn from a
// cryptographically secure source.
func BuildAuthorization(req PaymentRequirements, from string, now time.Time) (ExactEvmAuthorization, error) {
	if err := req.Validate(); err != nil {
		return ExactEvmAuthorization{}, fmt.Errorf("invalid payment requirements: %w", err)
	}
	if req.Scheme != SchemeExact {
		return ExactEvmAuthorization{}, NewPaymentError(ErrCodeUnsupportedScheme,
			fmt.Sprintf("unsupported payment scheme: %s", req.Scheme), nil)
	}
	if !IsHexAddress(from) {
		return ExactEvmAuthorization{}, fmt.Errorf("invalid payer address: %q", from)
	}
	if !IsHexAddress(req.PayTo) {
		return ExactEvmAuthorization{}, fmt.Errorf("invalid payTo address: %q", req.PayTo)
	}

	nonce, err := CreateNonce()
	if err != nil {
		return ExactEvmAuthorization{}, err
	}

	validAfter := now.Unix()
	return ExactEvmAuthorization{
		From:        from,
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validAfter+AuthorizationValiditySeconds, 10),
		Nonce:       nonce,
	}, nil
}

// CreateNonce returns a fresh 32-byte nonce as a 0x-prefixed hex string.
// Nonces must be unpredictable and practically unique across all
// authorizations a payer ever issues: a collision is either rejected as a
// replay or, on a gate without a replay cache, a double-spend.
func CreateNonce() (string, error) {
	buf := make([]byte, NonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// CreateNonceWithPaymentID returns a nonce whose upper 16 bytes are a
// UUID-derived payment identifier and whose lower 16 bytes are random.
// The identifier lets back-office systems correlate a settlement with a
// payment record; the random half keeps the full nonce unpredictable.
func CreateNonceWithPaymentID() (nonce string, paymentID string, err error) {
	id := uuid.New()
	buf := make([]byte, NonceSize)
	copy(buf[:16], id[:])
	if _, err := rand.Read(buf[16:]); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), hex.EncodeToString(id[:]), nil
}

// PaymentIDFromNonce extracts the embedded payment identifier (the upper
// 16 bytes) from a nonce created by CreateNonceWithPaymentID.
func PaymentIDFromNonce(nonce string) (string, error) {
	raw := strings.TrimPrefix(nonce, "0x")
	buf, err := hex.DecodeString(raw)
	if err != nil || len(buf) != NonceSize {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}
	return hex.EncodeToString(buf[:16]), nil
}

// IsHexAddress reports whether s is a 20-byte 0x-prefixed hex address.
// Checksum casing is not enforced here; addresses are normalized to their
// checksummed form inside the evm package when hashed.
func IsHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
