// Package x402 implements the client side of the x402 "HTTP 402 Payment
// Required" protocol: parsing a server-issued payment quote, building and
// signing an EIP-3009 TransferWithAuthorization message, encoding it into
// the X-PAYMENT header, and driving the quote → sign → retry exchange.
//
// The server-side counterpart (the payment gate) lives in the gate package.
package x402

import (
	"fmt"
	"strings"
)

// ProtocolVersion is the x402 protocol version carried in every envelope.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme this module implements: the
// authorization's value must equal the quote's required amount exactly.
const SchemeExact = "exact"

// Network is a blockchain network identifier in CAIP-2 format,
// namespace:reference (e.g. "eip155:8453" for Base mainnet).
type Network string

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks whether this network matches a pattern. Patterns may end in
// ":*" to match every reference in a namespace, e.g. "eip155:8453" matches
// "eip155:*".
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	patternStr := string(pattern)
	if strings.HasSuffix(patternStr, ":*") {
		return strings.HasPrefix(string(n), strings.TrimSuffix(patternStr, "*"))
	}
	return false
}

// TokenMetadata carries the ERC-20 token's EIP-712 domain fields. The gate
// includes it in the quote's extra field so the client can construct the
// signing domain without a contract read.
type TokenMetadata struct {
	// Name is the token display name used in the EIP-712 domain (e.g. "USD Coin").
	Name string `json:"name,omitempty"`
	// Version is the token contract's EIP-712 version (e.g. "2").
	Version string `json:"version,omitempty"`
}

// PaymentRequirements is a server-issued quote describing one acceptable
// payment for a resource. A quote is immutable once issued: the client must
// echo asset, payTo and the required amount back in its authorization or the
// gate rejects the payment.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           Network        `json:"network"`
	Asset             string         `json:"asset"`
	PayTo             string         `json:"payTo"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource,omitempty"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Extra             *TokenMetadata `json:"extra,omitempty"`
}

// Validate performs basic shape validation on a quote before it is used to
// build an authorization.
func (r PaymentRequirements) Validate() error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	if r.MaxAmountRequired == "" {
		return fmt.Errorf("payment amount is required")
	}
	return nil
}

// PaymentRequired is the machine-readable body of a 402 response. Accepts
// lists the acceptable payment options; the top-level Amount and Description
// fields are a fallback shape emitted by older resource servers.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version,omitempty"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts,omitempty"`
	Amount      string                `json:"amount,omitempty"`
	Description string                `json:"description,omitempty"`
}

// ExactEvmAuthorization is the EIP-3009 TransferWithAuthorization message the
// payer signs. All numeric fields are decimal strings in token base units or
// unix seconds; they are never carried as native numbers to avoid precision
// loss across 64-bit boundaries.
type ExactEvmAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"` // 32-byte hex, unique per authorization
}

// ExactEvmPayload pairs the signed authorization with its EIP-712 signature.
type ExactEvmPayload struct {
	Signature     string                `json:"signature"`
	Authorization ExactEvmAuthorization `json:"authorization"`
}

// PaymentPayload is the X-PAYMENT envelope: the signed payment authorization
// a client attaches to its retried request. It is constructed once per paid
// call and never reused; every call gets a fresh nonce and validity window.
type PaymentPayload struct {
	X402Version int              `json:"x402Version"`
	Scheme      string           `json:"scheme"`
	Network     Network          `json:"network"`
	Payload     *ExactEvmPayload `json:"payload"`
}

// Validate checks the envelope shape before encoding or verification.
func (p PaymentPayload) Validate() error {
	if p.X402Version != ProtocolVersion {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	if p.Scheme != SchemeExact {
		return fmt.Errorf("unsupported payment scheme: %s", p.Scheme)
	}
	if p.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if p.Payload == nil || p.Payload.Signature == "" {
		return fmt.Errorf("payment payload signature is required")
	}
	return nil
}

// VerifyResponse is the result of verifying a payment, whether locally by the
// gate or by a remote facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the result of settling a verified payment on chain.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
	Payer       string  `json:"payer,omitempty"`
}
