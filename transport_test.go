package x402

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestTransportPaysTransparently(t *testing.T) {
	signer := &mockSigner{}
	var requestCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
		if r.Header.Get(PaymentHeader) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(quoteBody(t))
			return
		}
		w.Write([]byte("paid content"))
	}))
	defer server.Close()

	hc := NewClient(signer).WrapHTTPClient(nil)
	resp, err := hc.Get(server.URL)
	if err != nil {
		t.Fatalf("Expected transparent payment, got %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "paid content" {
		t.Fatalf("Expected resource body, got %q", body)
	}
	if got := atomic.LoadInt32(&requestCount); got != 2 {
		t.Fatalf("Expected exactly 2 requests, got %d", got)
	}
}

func TestTransportPassesThroughNon402(t *testing.T) {
	signer := &mockSigner{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	hc := NewClient(signer).WrapHTTPClient(nil)
	resp, err := hc.Get(server.URL)
	if err != nil {
		t.Fatalf("Expected pass-through, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 passed through, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&signer.signCount) != 0 {
		t.Fatal("Expected no signature for a non-402 response")
	}
}

func TestTransportSecond402PassesThrough(t *testing.T) {
	signer := &mockSigner{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(quoteBody(t))
	}))
	defer server.Close()

	hc := NewClient(signer).WrapHTTPClient(nil)
	resp, err := hc.Get(server.URL)
	if err != nil {
		t.Fatalf("Expected the second 402 returned, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&signer.signCount); got != 1 {
		t.Fatalf("Expected exactly 1 signature, got %d", got)
	}
}
