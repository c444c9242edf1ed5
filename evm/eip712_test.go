package evm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/agent402/x402-go"
)

func TestHashAuthorizationDeterministic(t *testing.T) {
	req := testRequirements()
	auth, err := x402.BuildAuthorization(req, "0x1111111111111111111111111111111111111111", time.Unix(1700000000, 0))
	require.NoError(t, err)

	first, err := HashAuthorization(req, auth)
	require.NoError(t, err)
	second, err := HashAuthorization(req, auth)
	require.NoError(t, err)

	assert.Len(t, first, 32)
	assert.Equal(t, first, second)
}

func TestHashAuthorizationDomainSeparation(t *testing.T) {
	req := testRequirements()
	auth, err := x402.BuildAuthorization(req, "0x1111111111111111111111111111111111111111", time.Unix(1700000000, 0))
	require.NoError(t, err)

	base, err := HashAuthorization(req, auth)
	require.NoError(t, err)

	// A different chain produces a different digest for identical content.
	other := req
	other.Network = "eip155:84532"
	otherDigest, err := HashAuthorization(other, auth)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherDigest)

	// A different verifying contract also changes the digest.
	otherAsset := req
	otherAsset.Asset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	assetDigest, err := HashAuthorization(otherAsset, auth)
	require.NoError(t, err)
	assert.NotEqual(t, base, assetDigest)
}
