// Package echox402 adapts the payment gate to echo.
package echox402

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

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

// PaymentMiddleware guards routes with the gate. Requests without a valid
// X-PAYMENT header receive a 402 quote; verified requests run the handler,
// and when the gate can settle, the settlement result is attached on the
// X-PAYMENT-RESPONSE header.
func PaymentMiddleware(g *gate.Gate, opts ...Option) echo.MiddlewareFunc {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			resource := options.Resource
			if resource == "" {
				resource = options.ResourceRootURL + req.URL.Path
			}

			header := req.Header.Get(x402.PaymentHeader)
			if header == "" {
				if isWebBrowser(req) {
					html := options.CustomPaywallHTML
					if html == "" {
						html = paywallHTML(g)
					}
					return c.HTML(http.StatusPaymentRequired, html)
				}
				return c.JSON(http.StatusPaymentRequired, g.PaymentRequired(resource, "X-PAYMENT header is required"))
			}

			payload, err := g.DecodePayment(header)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]interface{}{
					"error":       fmt.Sprintf("malformed X-PAYMENT header: %v", err),
					"x402Version": x402.ProtocolVersion,
				})
			}

			verification, err := g.Verify(req.Context(), payload, resource)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"error":       err.Error(),
					"x402Version": x402.ProtocolVersion,
				})
			}
			if !verification.IsValid {
				return c.JSON(http.StatusPaymentRequired, g.PaymentRequired(resource, verification.InvalidReason))
			}

			if !g.CanSettle() {
				return next(c)
			}

			// Buffer the response so settlement failure can still turn
			// into a 402: the payer is only charged for a served resource.
			res := c.Response()
			original := res.Writer
			recorder := &responseRecorder{header: make(http.Header), statusCode: http.StatusOK}
			res.Writer = recorder

			handlerErr := next(c)
			res.Writer = original
			if handlerErr != nil {
				res.Committed = false
				return handlerErr
			}

			settlement, err := g.Settle(req.Context(), payload, resource)
			if err != nil {
				res.Committed = false
				return c.JSON(http.StatusPaymentRequired, g.PaymentRequired(resource, err.Error()))
			}
			if !settlement.Success {
				res.Committed = false
				return c.JSON(http.StatusPaymentRequired, g.PaymentRequired(resource, settlement.ErrorReason))
			}

			for key, values := range recorder.header {
				for _, value := range values {
					original.Header().Add(key, value)
				}
			}
			if encoded, err := settlement.EncodeToBase64String(); err == nil {
				original.Header().Set(x402.SettlementHeader, encoded)
			}
			res.Committed = false
			res.WriteHeader(recorder.statusCode)
			_, err = res.Write(recorder.body.Bytes())
			return err
		}
	}
}

// responseRecorder captures the handler's response until settlement
// completes.
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

func isWebBrowser(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") &&
		strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
}

func paywallHTML(g *gate.Gate) string {
	return fmt.Sprintf("<html><body><h1>Payment Required</h1><p>This resource costs %s.</p></body></html>", g.DisplayPrice())
}
