// Package gate implements the server side of the x402 exchange: deciding
// that a request requires payment, issuing the machine-readable quote on a
// 402 response, and validating the X-PAYMENT envelope a client attaches to
// its retry. Framework adapters live in the ginx402, echox402 and nethttp
// subpackages.
package gate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	x402 "github.com/agent402/x402-go"
	"github.com/agent402/x402-go/evm"
	"github.com/agent402/x402-go/facilitatorclient"
)

// Invalid reasons returned on rejected payments. Scoped strings so client
// UIs and logs can tell exactly which invariant broke.
const (
	ReasonSchemeMismatch    = "invalid_scheme_mismatch"
	ReasonNetworkMismatch   = "invalid_network_mismatch"
	ReasonValidAfter        = "invalid_authorization_valid_after"
	ReasonValidBefore       = "invalid_authorization_valid_before"
	ReasonTimeWindow        = "invalid_authorization_time_window"
	ReasonNotYetValid       = "authorization_not_yet_valid"
	ReasonExpired           = "authorization_expired"
	ReasonValue             = "invalid_authorization_value"
	ReasonValueExceeded     = "invalid_authorization_value_exceeded"
	ReasonValueInsufficient = "invalid_authorization_value_insufficient"
	ReasonToMismatch        = "invalid_authorization_to_address_mismatch"
	ReasonNonce             = "invalid_authorization_nonce"
	ReasonNonceReused       = "invalid_authorization_nonce_reused"
	ReasonSignature         = "invalid_authorization_signature"
	ReasonSenderMismatch    = "invalid_authorization_sender_mismatch"
)

// Config describes one protected resource. Price is the human-readable
// decimal amount (e.g. "0.01"); it is converted to base units when the gate
// is built and never re-derived from a float afterwards.
type Config struct {
	// PayTo is the destination address for funds. Required.
	PayTo string
	// Network is a CAIP-2 identifier or a legacy alias ("base"). Required.
	Network string
	// Price is the decimal amount to charge in the asset's units. Required.
	Price string
	// Asset overrides the network's default USDC deployment.
	Asset string
	// Token metadata for the EIP-712 domain of a custom Asset.
	TokenName    string
	TokenVersion string

	Description       string
	MimeType          string
	MaxTimeoutSeconds int

	// Facilitator, when set, delegates verification and settlement to a
	// facilitator service. Without it the gate verifies locally and no
	// settlement is performed.
	Facilitator *facilitatorclient.Client
}

// Gate holds immutable quote parameters for one protected resource plus the
// nonce replay cache.
type Gate struct {
	requirements x402.PaymentRequirements
	decimals     int
	facilitator  *facilitatorclient.Client
	nonces       *NonceCache
	now          func() time.Time
}

// New builds a gate from the resource configuration.
func New(config Config) (*Gate, error) {
	if config.PayTo == "" {
		return nil, fmt.Errorf("payTo is required")
	}
	if !x402.IsHexAddress(config.PayTo) {
		return nil, fmt.Errorf("invalid payTo address: %q", config.PayTo)
	}

	network, err := evm.ResolveNetwork(config.Network)
	if err != nil {
		return nil, err
	}

	asset, err := evm.AssetInfoFor(network.Network, config.Asset)
	if err != nil {
		return nil, err
	}
	if config.TokenName != "" {
		asset.Name = config.TokenName
	}
	if config.TokenVersion != "" {
		asset.Version = config.TokenVersion
	}

	amount, err := x402.ParseAmount(config.Price, asset.Decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid price: %w", err)
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("price must be positive")
	}

	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = x402.AuthorizationValiditySeconds
	}

	return &Gate{
		requirements: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           network.Network,
			Asset:             asset.Address,
			PayTo:             config.PayTo,
			MaxAmountRequired: amount.String(),
			Description:       config.Description,
			MimeType:          config.MimeType,
			MaxTimeoutSeconds: maxTimeout,
			Extra: &x402.TokenMetadata{
				Name:    asset.Name,
				Version: asset.Version,
			},
		},
		decimals:    asset.Decimals,
		facilitator: config.Facilitator,
		nonces:      NewNonceCache(),
		now:         time.Now,
	}, nil
}

// Requirements returns the quote for the given resource URL. Quotes are
// immutable once issued; every 402 for the same resource carries identical
// terms.
func (g *Gate) Requirements(resource string) x402.PaymentRequirements {
	req := g.requirements
	req.Resource = resource
	return req
}

// PaymentRequired builds the 402 response body for a resource, with an
// optional error message explaining why a previously attached payment was
// rejected.
func (g *Gate) PaymentRequired(resource, errorMessage string) *x402.PaymentRequired {
	return &x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       errorMessage,
		Accepts:     []x402.PaymentRequirements{g.Requirements(resource)},
		Description: g.requirements.Description,
	}
}

// DisplayPrice returns the quote's amount as a human-readable decimal
// string, for paywall rendering only.
func (g *Gate) DisplayPrice() string {
	display, err := x402.DisplayAmount(g.requirements.MaxAmountRequired, g.decimals)
	if err != nil {
		return g.requirements.MaxAmountRequired
	}
	return display
}

// DecodePayment decodes and schema-validates an X-PAYMENT header value.
// A malformed header is an encoding error, not a payment rejection: callers
// answer it with a 400-class status.
func (g *Gate) DecodePayment(header string) (*x402.PaymentPayload, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if err := validateEnvelopeJSON(data); err != nil {
		return nil, err
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid payment payload JSON: %w", err)
	}
	return &payload, nil
}

// Verify checks a decoded payment against the resource's quote. With a
// facilitator configured the decision is delegated; otherwise the gate
// recovers the EIP-712 signer locally and enforces every quote-echo
// invariant. In both cases the nonce is consumed on success, so replaying
// the same envelope is rejected.
func (g *Gate) Verify(ctx context.Context, payload *x402.PaymentPayload, resource string) (x402.VerifyResponse, error) {
	if payload == nil || payload.Payload == nil {
		return invalid(ReasonSignature), nil
	}
	requirements := g.Requirements(resource)

	var result x402.VerifyResponse
	if g.facilitator != nil {
		resp, err := g.facilitator.Verify(ctx, payload, requirements)
		if err != nil {
			return x402.VerifyResponse{}, err
		}
		result = *resp
	} else {
		result = g.verifyLocal(payload, requirements)
	}

	if !result.IsValid {
		return result, nil
	}

	auth := payload.Payload.Authorization
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return invalid(ReasonValidBefore), nil
	}
	if !g.nonces.Consume(auth.From, auth.Nonce, time.Unix(validBefore, 0)) {
		return invalid(ReasonNonceReused), nil
	}
	return result, nil
}

// Settle executes the verified payment through the facilitator. Calling
// Settle without a facilitator configured is an error; a local-only gate
// has no settlement capability.
func (g *Gate) Settle(ctx context.Context, payload *x402.PaymentPayload, resource string) (*x402.SettleResponse, error) {
	if g.facilitator == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSettlementFailed,
			"no facilitator configured for settlement", nil)
	}
	return g.facilitator.Settle(ctx, payload, g.Requirements(resource))
}

// CanSettle reports whether a facilitator is configured.
func (g *Gate) CanSettle() bool {
	return g.facilitator != nil
}

// verifyLocal enforces the quote-echo and time-window invariants and
// recovers the signer address from the EIP-712 signature.
func (g *Gate) verifyLocal(payload *x402.PaymentPayload, requirements x402.PaymentRequirements) x402.VerifyResponse {
	if payload.Scheme != requirements.Scheme {
		return invalid(ReasonSchemeMismatch)
	}
	if !payload.Network.Match(requirements.Network) {
		return invalid(ReasonNetworkMismatch)
	}
	if err := payload.Validate(); err != nil {
		return invalid(ReasonSignature)
	}

	auth := payload.Payload.Authorization
	now := g.now()

	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return invalid(ReasonValidAfter)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return invalid(ReasonValidBefore)
	}
	if validAfter >= validBefore {
		return invalid(ReasonTimeWindow)
	}
	// The window is inclusive at both ends: validAfter <= now <= validBefore.
	if now.Unix() < validAfter {
		return invalid(ReasonNotYetValid)
	}
	if now.Unix() > validBefore {
		return invalid(ReasonExpired)
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Sign() < 0 {
		return invalid(ReasonValue)
	}
	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return invalid(ReasonValue)
	}
	// Exact scheme: equality, enforced from both sides.
	if value.Cmp(required) > 0 {
		return invalid(ReasonValueExceeded)
	}
	if value.Cmp(required) < 0 {
		return invalid(ReasonValueInsufficient)
	}

	if !x402.IsHexAddress(auth.From) || !x402.IsHexAddress(auth.To) {
		return invalid(ReasonToMismatch)
	}
	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return invalid(ReasonToMismatch)
	}

	nonce := strings.TrimPrefix(auth.Nonce, "0x")
	if len(nonce) != x402.NonceSize*2 {
		return invalid(ReasonNonce)
	}

	signer, err := evm.RecoverAuthorizationSigner(requirements, auth, payload.Payload.Signature)
	if err != nil {
		return invalid(ReasonSignature)
	}
	if !strings.EqualFold(signer.Hex(), auth.From) {
		return invalid(ReasonSenderMismatch)
	}

	return x402.VerifyResponse{IsValid: true, Payer: signer.Hex()}
}

func invalid(reason string) x402.VerifyResponse {
	return x402.VerifyResponse{IsValid: false, InvalidReason: reason}
}
