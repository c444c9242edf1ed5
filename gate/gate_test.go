package gate

import (
	"context"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/agent402/x402-go"
	"github.com/agent402/x402-go/evm"
)

const testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// The nonce cache runs on the wall clock, so authorizations must be minted
// around the present for their windows to stay live.
var testClock = time.Now().Truncate(time.Second)

func testGate(t *testing.T) *Gate {
	t.Helper()
	g, err := New(Config{
		PayTo:   "0x2222222222222222222222222222222222222222",
		Network: "base",
		Price:   "0.01",
	})
	require.NoError(t, err)
	g.now = func() time.Time { return testClock }
	return g
}

// signedPayload builds a correctly signed envelope for the gate's quote,
// applying mutate to the authorization before signing.
func signedPayload(t *testing.T, g *Gate, mutate func(*x402.ExactEvmAuthorization)) *x402.PaymentPayload {
	t.Helper()
	signer, err := evm.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	req := g.Requirements("https://example.com/premium")
	auth, err := x402.BuildAuthorization(req, signer.Address(), testClock)
	require.NoError(t, err)
	if mutate != nil {
		mutate(&auth)
	}

	signature, err := x402.SignAuthorization(context.Background(), signer, req, auth)
	require.NoError(t, err)
	return x402.NewPaymentPayload(req.Network, signature, auth)
}

func TestNew(t *testing.T) {
	g := testGate(t)
	req := g.Requirements("https://example.com/premium")

	assert.Equal(t, x402.SchemeExact, req.Scheme)
	assert.EqualValues(t, "eip155:8453", req.Network)
	assert.Equal(t, "10000", req.MaxAmountRequired)
	assert.Equal(t, "https://example.com/premium", req.Resource)
	require.NotNil(t, req.Extra)
	assert.Equal(t, "USD Coin", req.Extra.Name)
	assert.Equal(t, "0.01", g.DisplayPrice())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Network: "base", Price: "0.01"})
	assert.Error(t, err, "missing payTo")

	_, err = New(Config{PayTo: "not-an-address", Network: "base", Price: "0.01"})
	assert.Error(t, err, "invalid payTo")

	_, err = New(Config{PayTo: "0x2222222222222222222222222222222222222222", Network: "eip155:1", Price: "0.01"})
	assert.Error(t, err, "unsupported network")

	_, err = New(Config{PayTo: "0x2222222222222222222222222222222222222222", Network: "base", Price: "0"})
	assert.Error(t, err, "zero price")

	_, err = New(Config{PayTo: "0x2222222222222222222222222222222222222222", Network: "base", Price: "0.0000001"})
	assert.Error(t, err, "sub-base-unit price")
}

func TestQuoteIsImmutable(t *testing.T) {
	g := testGate(t)
	first := g.Requirements("https://example.com/premium")
	second := g.Requirements("https://example.com/premium")
	assert.Equal(t, first, second)
}

func TestDecodePayment(t *testing.T) {
	g := testGate(t)
	payload := signedPayload(t, g, nil)

	encoded, err := payload.EncodeToBase64String()
	require.NoError(t, err)

	decoded, err := g.DecodePayment(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload.Payload.Authorization, decoded.Payload.Authorization)
}

func TestDecodePaymentRejectsMalformed(t *testing.T) {
	g := testGate(t)

	_, err := g.DecodePayment("not base64!!")
	assert.Error(t, err)

	_, err = g.DecodePayment(base64.StdEncoding.EncodeToString([]byte("not json")))
	assert.Error(t, err)

	// Valid JSON that fails the envelope schema.
	_, err = g.DecodePayment(base64.StdEncoding.EncodeToString([]byte(`{"x402Version": 2}`)))
	assert.Error(t, err)

	_, err = g.DecodePayment(base64.StdEncoding.EncodeToString([]byte(`{"x402Version": 1, "scheme": "exact", "network": "eip155:8453"}`)))
	assert.Error(t, err, "missing payload")
}

func TestVerifyValidPayment(t *testing.T) {
	g := testGate(t)
	payload := signedPayload(t, g, nil)

	result, err := g.Verify(context.Background(), payload, "https://example.com/premium")
	require.NoError(t, err)
	assert.True(t, result.IsValid, "reason: %s", result.InvalidReason)
	assert.Equal(t, payload.Payload.Authorization.From, result.Payer)
}

func TestVerifyRejectsReplay(t *testing.T) {
	g := testGate(t)
	payload := signedPayload(t, g, nil)

	result, err := g.Verify(context.Background(), payload, "https://example.com/premium")
	require.NoError(t, err)
	require.True(t, result.IsValid)

	replay, err := g.Verify(context.Background(), payload, "https://example.com/premium")
	require.NoError(t, err)
	assert.False(t, replay.IsValid)
	assert.Equal(t, ReasonNonceReused, replay.InvalidReason)
}

func TestVerifyInvalidReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(g *Gate, p *x402.PaymentPayload)
		reason string
	}{
		{
			name:   "scheme mismatch",
			mutate: func(g *Gate, p *x402.PaymentPayload) { p.Scheme = "upto" },
			reason: ReasonSchemeMismatch,
		},
		{
			name:   "network mismatch",
			mutate: func(g *Gate, p *x402.PaymentPayload) { p.Network = "eip155:84532" },
			reason: ReasonNetworkMismatch,
		},
		{
			name: "expired",
			mutate: func(g *Gate, p *x402.PaymentPayload) {
				g.now = func() time.Time { return testClock.Add(10 * time.Minute) }
			},
			reason: ReasonExpired,
		},
		{
			name: "not yet valid",
			mutate: func(g *Gate, p *x402.PaymentPayload) {
				g.now = func() time.Time { return testClock.Add(-time.Minute) }
			},
			reason: ReasonNotYetValid,
		},
		{
			name: "inverted window",
			mutate: func(g *Gate, p *x402.PaymentPayload) {
				p.Payload.Authorization.ValidBefore = p.Payload.Authorization.ValidAfter
			},
			reason: ReasonTimeWindow,
		},
		{
			name: "value too low",
			mutate: func(g *Gate, p *x402.PaymentPayload) {
				p.Payload.Authorization.Value = "9999"
			},
			reason: ReasonValueInsufficient,
		},
		{
			name: "value too high",
			mutate: func(g *Gate, p *x402.PaymentPayload) {
				p.Payload.Authorization.Value = "10001"
			},
			reason: ReasonValueExceeded,
		},
		{
			name: "wrong recipient",
			mutate: func(g *Gate, p *x402.PaymentPayload) {
				p.Payload.Authorization.To = "0x3333333333333333333333333333333333333333"
			},
			reason: ReasonToMismatch,
		},
		{
			name: "short nonce",
			mutate: func(g *Gate, p *x402.PaymentPayload) {
				p.Payload.Authorization.Nonce = "0xabcd"
			},
			reason: ReasonNonce,
		},
		{
			name: "garbage signature",
			mutate: func(g *Gate, p *x402.PaymentPayload) {
				p.Payload.Signature = "0xdeadbeef"
			},
			reason: ReasonSignature,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := testGate(t)
			payload := signedPayload(t, g, nil)
			tc.mutate(g, payload)

			result, err := g.Verify(context.Background(), payload, "https://example.com/premium")
			require.NoError(t, err)
			assert.False(t, result.IsValid)
			assert.Equal(t, tc.reason, result.InvalidReason)
		})
	}
}

func TestVerifyRejectsTamperedAuthorization(t *testing.T) {
	g := testGate(t)
	// Sign for the right recipient, then redirect funds: the recovered
	// signer no longer matches and verification fails.
	payload := signedPayload(t, g, nil)
	payload.Payload.Authorization.From = "0x4444444444444444444444444444444444444444"

	result, err := g.Verify(context.Background(), payload, "https://example.com/premium")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, ReasonSenderMismatch, result.InvalidReason)
}

func TestVerifyNilPayload(t *testing.T) {
	g := testGate(t)

	result, err := g.Verify(context.Background(), nil, "https://example.com/premium")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
}

func TestSettleWithoutFacilitator(t *testing.T) {
	g := testGate(t)
	assert.False(t, g.CanSettle())

	_, err := g.Settle(context.Background(), signedPayload(t, g, nil), "https://example.com/premium")
	assert.Error(t, err)
	assert.Equal(t, x402.ErrCodeSettlementFailed, x402.ErrorCode(err))
}

func TestVerifyWindowBoundsInclusive(t *testing.T) {
	g := testGate(t)
	payload := signedPayload(t, g, nil)

	validBefore, err := strconv.ParseInt(payload.Payload.Authorization.ValidBefore, 10, 64)
	require.NoError(t, err)

	// now == validBefore is still inside the window.
	g.now = func() time.Time { return time.Unix(validBefore, 0) }
	result, err := g.Verify(context.Background(), payload, "https://example.com/premium")
	require.NoError(t, err)
	assert.True(t, result.IsValid, "reason: %s", result.InvalidReason)
}
