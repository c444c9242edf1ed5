// Package evm provides the EVM-specific pieces of the x402 exact scheme:
// EIP-712 hashing of the EIP-3009 TransferWithAuthorization message, a
// local private-key signer, signature recovery for gate-side verification,
// and the network/asset registry.
package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/agent402/x402-go"
)

// HashTypedData computes the EIP-712 digest to be signed or verified:
// keccak256("\x19\x01" + domainSeparator + structHash).
func HashTypedData(
	domain x402.TypedDataDomain,
	types map[string][]x402.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// HashAuthorization computes the EIP-712 digest of a TransferWithAuthorization
// message under the domain implied by the quote. Addresses are normalized to
// their checksummed form before hashing.
func HashAuthorization(req x402.PaymentRequirements, auth x402.ExactEvmAuthorization) ([]byte, error) {
	domain, err := x402.SigningDomain(req)
	if err != nil {
		return nil, err
	}

	message, err := x402.AuthorizationMessage(auth)
	if err != nil {
		return nil, err
	}
	message["from"] = common.HexToAddress(auth.From).Hex()
	message["to"] = common.HexToAddress(auth.To).Hex()

	return HashTypedData(domain, x402.TransferWithAuthorizationTypes(),
		x402.TransferWithAuthorizationType, message)
}
