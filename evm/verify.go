package evm

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/agent402/x402-go"
)

// RecoverAuthorizationSigner recovers the address that signed the
// authorization under the quote's EIP-712 domain. Gates compare the result
// against the authorization's from field; a mismatch means the signature
// does not commit the claimed payer.
func RecoverAuthorizationSigner(req x402.PaymentRequirements, auth x402.ExactEvmAuthorization, signature string) (common.Address, error) {
	digest, err := HashAuthorization(req, auth)
	if err != nil {
		return common.Address{}, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("signature is not hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Ethereum v 27/28 → recovery id 0/1. Copy first: Ecrecover must not
	// mutate the caller's signature.
	recovered := make([]byte, 65)
	copy(recovered, sig)
	if recovered[64] == 27 || recovered[64] == 28 {
		recovered[64] -= 27
	}

	pubkey, err := crypto.SigToPub(digest, recovered)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
