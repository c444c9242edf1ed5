package nethttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/agent402/x402-go"
	"github.com/agent402/x402-go/evm"
	"github.com/agent402/x402-go/gate"
)

const testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testHandler(t *testing.T) (http.Handler, *gate.Gate) {
	t.Helper()
	g, err := gate.New(gate.Config{
		PayTo:   "0x2222222222222222222222222222222222222222",
		Network: "base",
		Price:   "0.01",
	})
	require.NoError(t, err)

	handler := PaymentMiddleware(g, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("premium content"))
	}))
	return handler, g
}

func paymentHeader(t *testing.T, g *gate.Gate, resource string) string {
	t.Helper()
	signer, err := evm.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	req := g.Requirements(resource)
	auth, err := x402.BuildAuthorization(req, signer.Address(), time.Now())
	require.NoError(t, err)
	signature, err := x402.SignAuthorization(context.Background(), signer, req, auth)
	require.NoError(t, err)

	encoded, err := x402.NewPaymentPayload(req.Network, signature, auth).EncodeToBase64String()
	require.NoError(t, err)
	return encoded
}

func TestMiddlewareIssues402(t *testing.T) {
	handler, _ := testHandler(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/premium", nil))

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var body x402.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "/premium", body.Accepts[0].Resource)
}

func TestMiddlewareServesPaywallToBrowsers(t *testing.T) {
	handler, _ := testHandler(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "Payment Required")
}

func TestMiddlewareAcceptsValidPayment(t *testing.T) {
	handler, g := testHandler(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(x402.PaymentHeader, paymentHeader(t, g, "/premium"))
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "premium content", w.Body.String())
}

func TestMiddlewareRejectsMalformedHeader(t *testing.T) {
	handler, _ := testHandler(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(x402.PaymentHeader, "%%%")
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndToEndClientPaysGate(t *testing.T) {
	handler, _ := testHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	signer, err := evm.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	result, err := x402.NewClient(signer).Get(context.Background(), server.URL+"/premium")
	require.NoError(t, err)
	assert.Equal(t, "premium content", string(result.Body))
	require.NotNil(t, result.Quote)
	assert.Equal(t, "10000", result.Quote.MaxAmountRequired)
}

func TestMiddlewareRejectsReplay(t *testing.T) {
	handler, g := testHandler(t)
	header := paymentHeader(t, g, "/premium")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(x402.PaymentHeader, header)
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(x402.PaymentHeader, header)
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}
