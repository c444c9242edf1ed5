package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/agent402/x402-go"
)

// PrivateKeySigner implements x402.Signer with a local ECDSA key. It is the
// in-process key custody option; wallet-backed signers implement the same
// interface elsewhere.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewPrivateKeySigner creates a signer from a hex-encoded private key, with
// or without the 0x prefix.
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &PrivateKeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the checksummed address derived from the key.
func (s *PrivateKeySigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs the EIP-712 digest of (domain, types, message) and
// returns the 65-byte signature with the recovery id adjusted to 27/28.
func (s *PrivateKeySigner) SignTypedData(
	ctx context.Context,
	domain x402.TypedDataDomain,
	types map[string][]x402.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Recovery id 0/1 → Ethereum v 27/28.
	signature[64] += 27
	return signature, nil
}
