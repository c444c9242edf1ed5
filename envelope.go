package x402

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PaymentHeader is the request header that carries the base64-encoded
// payment envelope on a retried request.
const PaymentHeader = "X-PAYMENT"

// SettlementHeader is the response header on which the gate returns the
// base64-encoded settlement result alongside the fulfilled response.
const SettlementHeader = "X-PAYMENT-RESPONSE"

// NewPaymentPayload wraps a signature and authorization into the X-PAYMENT
// envelope for the given network.
func NewPaymentPayload(network Network, signature string, auth ExactEvmAuthorization) *PaymentPayload {
	return &PaymentPayload{
		X402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     network,
		Payload: &ExactEvmPayload{
			Signature:     signature,
			Authorization: auth,
		},
	}
}

// EncodeToBase64String serializes the envelope as JSON and base64-encodes
// the UTF-8 bytes. This is the wire format of the X-PAYMENT header value;
// servers decode with the inverse operation and answer malformed base64 or
// JSON with a 400-class error rather than a 402.
func (p *PaymentPayload) EncodeToBase64String() (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid payment payload: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentPayloadFromBase64 decodes an X-PAYMENT header value back into
// a PaymentPayload. Exact inverse of EncodeToBase64String.
func DecodePaymentPayloadFromBase64(encoded string) (*PaymentPayload, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid payment payload JSON: %w", err)
	}
	return &payload, nil
}

// EncodeToBase64String serializes a settlement response for the
// X-PAYMENT-RESPONSE header.
func (s *SettleResponse) EncodeToBase64String() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettleResponseFromBase64 decodes an X-PAYMENT-RESPONSE header value.
func DecodeSettleResponseFromBase64(encoded string) (*SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var resp SettleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invalid settle response JSON: %w", err)
	}
	return &resp, nil
}

// NormalizeSignature coerces the value returned by a signer backend into a
// 0x-prefixed hex string. Wallet providers are inconsistent here: some
// return the bare signature string, some an object exposing a signature
// field, and in-process signers return raw bytes. The ambiguity is resolved
// at this boundary and nowhere else.
func NormalizeSignature(v interface{}) (string, error) {
	switch sig := v.(type) {
	case string:
		return normalizeHexSignature(sig)
	case []byte:
		return "0x" + hex.EncodeToString(sig), nil
	case map[string]interface{}:
		inner, ok := sig["signature"].(string)
		if !ok {
			return "", fmt.Errorf("signer result object has no signature field")
		}
		return normalizeHexSignature(inner)
	default:
		return "", fmt.Errorf("unsupported signer result type %T", v)
	}
}

func normalizeHexSignature(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty signature")
	}
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("signature is not hex: %w", err)
	}
	return "0x" + s, nil
}
