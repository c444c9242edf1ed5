package evm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/agent402/x402-go"
)

// Well-known test key, never fund it.
const testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           "eip155:8453",
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PayTo:             "0x2222222222222222222222222222222222222222",
		MaxAmountRequired: "1000000",
		MaxTimeoutSeconds: 300,
	}
}

func TestNewPrivateKeySigner(t *testing.T) {
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	assert.True(t, x402.IsHexAddress(signer.Address()))

	// Prefix is optional.
	bare, err := NewPrivateKeySigner(testPrivateKey[2:])
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), bare.Address())

	_, err = NewPrivateKeySigner("not-a-key")
	assert.Error(t, err)
}

func TestSignAndRecoverRoundTrip(t *testing.T) {
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	req := testRequirements()
	auth, err := x402.BuildAuthorization(req, signer.Address(), time.Unix(1700000000, 0))
	require.NoError(t, err)

	signature, err := x402.SignAuthorization(context.Background(), signer, req, auth)
	require.NoError(t, err)
	assert.Len(t, signature, 2+65*2, "expected 0x-prefixed 65-byte signature")

	recovered, err := RecoverAuthorizationSigner(req, auth, signature)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered.Hex())
}

func TestRecoverDetectsTampering(t *testing.T) {
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	req := testRequirements()
	auth, err := x402.BuildAuthorization(req, signer.Address(), time.Unix(1700000000, 0))
	require.NoError(t, err)

	signature, err := x402.SignAuthorization(context.Background(), signer, req, auth)
	require.NoError(t, err)

	// Raising the value after signing must not recover the payer.
	tampered := auth
	tampered.Value = "9000000"
	recovered, err := RecoverAuthorizationSigner(req, tampered, signature)
	if err == nil {
		assert.NotEqual(t, signer.Address(), recovered.Hex())
	}
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	req := testRequirements()
	auth, err := x402.BuildAuthorization(req, "0x1111111111111111111111111111111111111111", time.Unix(1700000000, 0))
	require.NoError(t, err)

	_, err = RecoverAuthorizationSigner(req, auth, "0xdead")
	assert.Error(t, err)

	_, err = RecoverAuthorizationSigner(req, auth, "zz")
	assert.Error(t, err)
}

func TestSignTypedDataHonorsContext(t *testing.T) {
	signer, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := testRequirements()
	auth, err := x402.BuildAuthorization(req, signer.Address(), time.Unix(1700000000, 0))
	require.NoError(t, err)

	_, err = x402.SignAuthorization(ctx, signer, req, auth)
	assert.Error(t, err)
	assert.Equal(t, x402.ErrCodeSignatureDenied, x402.ErrorCode(err))
}
