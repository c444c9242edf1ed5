package x402

import (
	"fmt"
	"io"
	"net/http"
)

// PaymentRoundTripper is an http.RoundTripper that transparently pays for
// 402 responses: it parses the quote, signs one authorization and reissues
// the request once with the X-PAYMENT header. Non-402 responses pass
// through untouched, including a second 402 on the paid retry — the
// transport never signs twice for one request.
//
// Reissuing the same signed envelope twice at a lower layer is safe from the
// client's perspective; nonce replay rejection is the gate's job.
type PaymentRoundTripper struct {
	Base   http.RoundTripper
	client *Client
}

// Transport wraps base (nil means http.DefaultTransport) with payment
// handling backed by this client's signer.
func (c *Client) Transport(base http.RoundTripper) *PaymentRoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &PaymentRoundTripper{Base: base, client: c}
}

// WrapHTTPClient returns hc (nil means a fresh client) with its transport
// wrapped for payment handling.
func (c *Client) WrapHTTPClient(hc *http.Client) *http.Client {
	if hc == nil {
		hc = &http.Client{}
	}
	hc.Transport = c.Transport(hc.Transport)
	return hc
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		return nil, NewPaymentError(ErrCodeRequestFailed,
			"request body is not replayable: GetBody is nil", nil)
	}

	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	required, err := ParsePaymentRequired(body)
	if err != nil {
		return nil, err
	}
	selected, err := required.SelectRequirements(t.client.selector)
	if err != nil {
		return nil, err
	}

	headerValue, _, err := t.client.signQuote(req.Context(), selected)
	if err != nil {
		return nil, err
	}

	paidReq, err := cloneRequest(req)
	if err != nil {
		return nil, NewPaymentError(ErrCodeRequestFailed,
			fmt.Sprintf("failed to rebuild request for paid retry: %v", err), nil)
	}
	paidReq.Header.Set(PaymentHeader, headerValue)

	return t.Base.RoundTrip(paidReq)
}
