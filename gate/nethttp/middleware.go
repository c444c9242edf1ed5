// Package nethttp adapts the payment gate to net/http handlers.
package nethttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	x402 "github.com/agent402/x402-go"
	"github.com/agent402/x402-go/gate"
)

// Options configures the middleware.
type Options struct {
	// Resource overrides the quoted resource URL; defaults to the request path.
	Resource string
	// ResourceRootURL is prepended to the request path when Resource is unset.
	ResourceRootURL string
	// CustomPaywallHTML replaces the default browser paywall page.
	CustomPaywallHTML string
}

// Option mutates Options.
type Option func(*Options)

// WithResource sets a fixed resource URL for the quote.
func WithResource(resource string) Option {
	return func(o *Options) { o.Resource = resource }
}

// WithResourceRootURL sets the root URL prepended to request paths.
func WithResourceRootURL(root string) Option {
	return func(o *Options) { o.ResourceRootURL = root }
}

// WithCustomPaywallHTML sets the paywall page served to browsers.
func WithCustomPaywallHTML(html string) Option {
	return func(o *Options) { o.CustomPaywallHTML = html }
}

// PaymentMiddleware wraps a handler with the gate. Requests without a valid
// X-PAYMENT header receive a 402 quote; verified requests reach the wrapped
// handler, and when the gate can settle, the settlement result is attached
// on the X-PAYMENT-RESPONSE header after the handler succeeds.
func PaymentMiddleware(g *gate.Gate, next http.Handler, opts ...Option) http.Handler {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource := options.Resource
		if resource == "" {
			resource = options.ResourceRootURL + r.URL.Path
		}

		header := r.Header.Get(x402.PaymentHeader)
		if header == "" {
			if isWebBrowser(r) {
				html := options.CustomPaywallHTML
				if html == "" {
					html = paywallHTML(g)
				}
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusPaymentRequired)
				w.Write([]byte(html))
				return
			}
			writeJSON(w, http.StatusPaymentRequired, g.PaymentRequired(resource, "X-PAYMENT header is required"))
			return
		}

		payload, err := g.DecodePayment(header)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":       fmt.Sprintf("malformed X-PAYMENT header: %v", err),
				"x402Version": x402.ProtocolVersion,
			})
			return
		}

		verification, err := g.Verify(r.Context(), payload, resource)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":       err.Error(),
				"x402Version": x402.ProtocolVersion,
			})
			return
		}
		if !verification.IsValid {
			writeJSON(w, http.StatusPaymentRequired, g.PaymentRequired(resource, verification.InvalidReason))
			return
		}

		if !g.CanSettle() {
			next.ServeHTTP(w, r)
			return
		}

		// Buffer the response so settlement failure can still turn into a 402.
		recorder := &responseRecorder{header: make(http.Header), statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		settlement, err := g.Settle(r.Context(), payload, resource)
		if err != nil {
			writeJSON(w, http.StatusPaymentRequired, g.PaymentRequired(resource, err.Error()))
			return
		}
		if !settlement.Success {
			writeJSON(w, http.StatusPaymentRequired, g.PaymentRequired(resource, settlement.ErrorReason))
			return
		}

		for key, values := range recorder.header {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		if encoded, err := settlement.EncodeToBase64String(); err == nil {
			w.Header().Set(x402.SettlementHeader, encoded)
		}
		w.WriteHeader(recorder.statusCode)
		w.Write(recorder.body.Bytes())
	})
}

// responseRecorder captures the handler's response until settlement completes.
type responseRecorder struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
	written    bool
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func isWebBrowser(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") &&
		strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
}

func paywallHTML(g *gate.Gate) string {
	return fmt.Sprintf("<html><body><h1>Payment Required</h1><p>This resource costs %s.</p></body></html>", g.DisplayPrice())
}
