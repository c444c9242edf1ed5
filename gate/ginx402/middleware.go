// Package ginx402 adapts the payment gate to gin.
package ginx402

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

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

// PaymentMiddleware guards a route group with the gate. Requests without a
// valid X-PAYMENT header receive a 402 quote; requests with a verified
// payment proceed, and when the gate can settle, the settlement result is
// attached on the X-PAYMENT-RESPONSE header after the handler succeeds.
func PaymentMiddleware(g *gate.Gate, opts ...Option) gin.HandlerFunc {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		resource := options.Resource
		if resource == "" {
			resource = options.ResourceRootURL + c.Request.URL.Path
		}

		header := c.GetHeader(x402.PaymentHeader)
		if header == "" {
			if isWebBrowser(c.Request) {
				html := options.CustomPaywallHTML
				if html == "" {
					html = paywallHTML(g)
				}
				c.Abort()
				c.Data(http.StatusPaymentRequired, "text/html; charset=utf-8", []byte(html))
				return
			}
			c.AbortWithStatusJSON(http.StatusPaymentRequired, g.PaymentRequired(resource, "X-PAYMENT header is required"))
			return
		}

		payload, err := g.DecodePayment(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":       fmt.Sprintf("malformed X-PAYMENT header: %v", err),
				"x402Version": x402.ProtocolVersion,
			})
			return
		}

		verification, err := g.Verify(c.Request.Context(), payload, resource)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"x402Version": x402.ProtocolVersion,
			})
			return
		}
		if !verification.IsValid {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, g.PaymentRequired(resource, verification.InvalidReason))
			return
		}

		if !g.CanSettle() {
			c.Next()
			return
		}

		// Buffer the response so settlement failure can still turn into a 402.
		writer := &bufferedWriter{ResponseWriter: c.Writer, statusCode: http.StatusOK}
		c.Writer = writer
		c.Next()
		c.Writer = writer.ResponseWriter

		if c.IsAborted() {
			writer.flush()
			return
		}

		settlement, err := g.Settle(c.Request.Context(), payload, resource)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, g.PaymentRequired(resource, err.Error()))
			return
		}
		if !settlement.Success {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, g.PaymentRequired(resource, settlement.ErrorReason))
			return
		}

		if encoded, err := settlement.EncodeToBase64String(); err == nil {
			c.Header(x402.SettlementHeader, encoded)
		}
		writer.flush()
	}
}

// bufferedWriter captures the handler's response until settlement completes.
type bufferedWriter struct {
	gin.ResponseWriter
	body       strings.Builder
	statusCode int
	written    bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

// WriteHeaderNow must not commit the embedded writer while buffering;
// flush writes the recorded status once settlement has succeeded.
func (w *bufferedWriter) WriteHeaderNow() {}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.statusCode)
	w.ResponseWriter.Write([]byte(w.body.String()))
}

func isWebBrowser(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") &&
		strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
}

func paywallHTML(g *gate.Gate) string {
	return fmt.Sprintf("<html><body><h1>Payment Required</h1><p>This resource costs %s.</p></body></html>", g.DisplayPrice())
}
