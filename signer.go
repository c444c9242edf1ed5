package x402

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// TypedDataDomain is the EIP-712 domain separator scoping a signature to one
// token contract on one chain.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// TypedDataField is one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string
	Type string
}

// Signer is the injected key-custody capability that produces EIP-712
// signatures. Hardware wallets, embedded custodial wallets and local keys
// all sit behind this interface; the module never owns key material. A
// signer may serialize its own signature requests internally; callers impose
// no additional locking.
//
// Signing may require user interaction and has no enforced timeout beyond
// ctx: the authorization's own validBefore acts as the effective expiry.
type Signer interface {
	// Address returns the payer address the signature will recover to.
	Address() string
	// SignTypedData signs EIP-712 typed data and returns the 65-byte
	// signature (r, s, v). A refusal or key failure is returned as an error.
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]interface{},
	) ([]byte, error)
}

// TransferWithAuthorizationType is the primary type of the signed message.
const TransferWithAuthorizationType = "TransferWithAuthorization"

// TransferWithAuthorizationTypes is the canonical EIP-712 type schema for
// EIP-3009 transferWithAuthorization. Field order is part of the type hash
// and must not change.
func TransferWithAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		TransferWithAuthorizationType: {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// Defaults for the EIP-712 domain when the quote omits token metadata.
// USDC deployments share these values on every network this module targets.
const (
	DefaultTokenName    = "USD Coin"
	DefaultTokenVersion = "2"
)

// SigningDomain derives the EIP-712 domain for a quote: token name and
// version from the quote's extra field (USDC defaults when absent), chain ID
// from the CAIP-2 network reference, verifying contract from the asset.
func SigningDomain(req PaymentRequirements) (TypedDataDomain, error) {
	namespace, reference, err := req.Network.Parse()
	if err != nil {
		return TypedDataDomain{}, NewPaymentError(ErrCodeUnsupportedNetwork, err.Error(), nil)
	}
	if namespace != "eip155" {
		return TypedDataDomain{}, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("unsupported network namespace: %s", namespace), nil)
	}
	chainID, ok := new(big.Int).SetString(reference, 10)
	if !ok {
		return TypedDataDomain{}, NewPaymentError(ErrCodeUnsupportedNetwork,
			fmt.Sprintf("invalid eip155 chain reference: %s", reference), nil)
	}

	name, version := DefaultTokenName, DefaultTokenVersion
	if req.Extra != nil {
		if req.Extra.Name != "" {
			name = req.Extra.Name
		}
		if req.Extra.Version != "" {
			version = req.Extra.Version
		}
	}

	return TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: req.Asset,
	}, nil
}

// AuthorizationMessage converts an authorization into the EIP-712 message
// map expected by Signer.SignTypedData: uint256 fields as *big.Int, the
// nonce as raw bytes.
func AuthorizationMessage(auth ExactEvmAuthorization) (map[string]interface{}, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %s", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %s", auth.ValidBefore)
	}
	nonce, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil || len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce: %s", auth.Nonce)
	}

	return map[string]interface{}{
		"from":        auth.From,
		"to":          auth.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonce,
	}, nil
}

// SignAuthorization invokes the signer over (domain, types, authorization)
// and returns the normalized hex signature. Any signer failure, including a
// user decline, surfaces as signature_denied.
func SignAuthorization(ctx context.Context, signer Signer, req PaymentRequirements, auth ExactEvmAuthorization) (string, error) {
	domain, err := SigningDomain(req)
	if err != nil {
		return "", err
	}

	message, err := AuthorizationMessage(auth)
	if err != nil {
		return "", fmt.Errorf("invalid authorization: %w", err)
	}

	raw, err := signer.SignTypedData(ctx, domain, TransferWithAuthorizationTypes(), TransferWithAuthorizationType, message)
	if err != nil {
		return "", NewPaymentError(ErrCodeSignatureDenied,
			fmt.Sprintf("signer refused authorization: %v", err), nil)
	}

	signature, err := NormalizeSignature(raw)
	if err != nil {
		return "", NewPaymentError(ErrCodeSignatureDenied,
			fmt.Sprintf("signer returned malformed signature: %v", err), nil)
	}
	return signature, nil
}
