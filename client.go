package x402

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AttemptState is the orchestrator's position in the quote → sign → retry
// exchange. The happy path runs Idle → Quoting → AwaitingSignature → Paying
// → Fulfilled; the error states are terminal exits back to Idle, re-entered
// only by a fresh caller action.
type AttemptState int

const (
	StateIdle AttemptState = iota
	StateQuoting
	StateAwaitingSignature
	StatePaying
	StateFulfilled
	StateQuoteMalformed
	StateSignatureDenied
	StatePaymentRejected
	StateRequestFailed
)

func (s AttemptState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQuoting:
		return "quoting"
	case StateAwaitingSignature:
		return "awaiting_signature"
	case StatePaying:
		return "paying"
	case StateFulfilled:
		return "fulfilled"
	case StateQuoteMalformed:
		return "quote_malformed"
	case StateSignatureDenied:
		return "signature_denied"
	case StatePaymentRejected:
		return "payment_rejected"
	case StateRequestFailed:
		return "request_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PaymentResult is the outcome of one payment attempt. State is terminal:
// Fulfilled on success, one of the error states otherwise. Body and Header
// are those of the last response received; Quote and Settlement are set once
// the corresponding protocol step produced them.
type PaymentResult struct {
	State      AttemptState
	StatusCode int
	Header     http.Header
	Body       []byte
	Quote      *PaymentRequirements
	PaymentID  string
	Settlement *SettleResponse
}

// Client drives paid HTTP requests: it issues the original request, and when
// the server answers 402 it signs the quoted authorization and retries the
// identical request once with the X-PAYMENT header attached.
//
// Each call to Do is single-flight: one quote → sign → retry sequence,
// exactly one authorization, never a speculative pre-sign. Concurrent calls
// for different resources are independent; the only shared state is the
// signer's own serialized key access.
type Client struct {
	httpClient      *http.Client
	signer          Signer
	selector        RequirementsSelector
	paymentIDNonces bool
	now             func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client. Callers supply request
// timeouts here or per-request via context; a timeout is a generic request
// failure, never an automatic abort of a pending signature.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRequirementsSelector replaces the default accepts[0] selection.
func WithRequirementsSelector(selector RequirementsSelector) ClientOption {
	return func(c *Client) {
		c.selector = selector
	}
}

// WithPaymentIDNonces makes the client embed a UUID-derived payment
// identifier in every nonce (see CreateNonceWithPaymentID). The identifier
// is reported on the PaymentResult.
func WithPaymentIDNonces() ClientOption {
	return func(c *Client) {
		c.paymentIDNonces = true
	}
}

// withClock overrides the wall clock, for tests.
func withClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a payment client around the injected signer.
func NewClient(signer Signer, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		signer:     signer,
		selector:   SelectFirstRequirements,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs req, paying for it if the server demands payment. The request
// must be replayable: a non-nil Body requires req.GetBody (http.NewRequest
// sets it for the common reader types), because the paid retry reissues the
// identical method, URL and body.
//
// On a terminal error the returned PaymentResult still describes the final
// state, so callers can distinguish "you declined to sign" from "the server
// rejected your payment" from "this isn't a paid endpoint".
func (c *Client) Do(req *http.Request) (*PaymentResult, error) {
	if req.Body != nil && req.GetBody == nil {
		return &PaymentResult{State: StateRequestFailed}, NewPaymentError(ErrCodeRequestFailed,
			"request body is not replayable: GetBody is nil", nil)
	}

	// Idle → Quoting: the original request, no payment headers.
	status, header, body, err := c.roundTrip(req)
	if err != nil {
		return &PaymentResult{State: StateRequestFailed}, NewPaymentError(ErrCodeRequestFailed,
			fmt.Sprintf("request failed: %v", err), nil)
	}

	if status >= 200 && status < 300 {
		return &PaymentResult{State: StateFulfilled, StatusCode: status, Header: header, Body: body}, nil
	}

	if status != http.StatusPaymentRequired {
		return &PaymentResult{State: StateRequestFailed, StatusCode: status, Header: header, Body: body},
			NewPaymentError(ErrCodeRequestFailed,
				fmt.Sprintf("unexpected status %d", status),
				map[string]interface{}{"status": status})
	}

	// Quoting → AwaitingSignature: interpret the quote.
	required, err := ParsePaymentRequired(body)
	if err != nil {
		return &PaymentResult{State: StateQuoteMalformed, StatusCode: status, Header: header, Body: body}, err
	}
	selected, err := required.SelectRequirements(c.selector)
	if err != nil {
		return &PaymentResult{State: StateQuoteMalformed, StatusCode: status, Header: header, Body: body}, err
	}

	result := &PaymentResult{Quote: &selected}

	headerValue, paymentID, err := c.signQuote(req.Context(), selected)
	if err != nil {
		result.State = StateSignatureDenied
		if IsQuoteMalformed(err) || ErrorCode(err) == ErrCodeUnsupportedNetwork || ErrorCode(err) == ErrCodeUnsupportedScheme {
			result.State = StateQuoteMalformed
		}
		result.StatusCode = status
		result.Header = header
		result.Body = body
		return result, err
	}
	result.PaymentID = paymentID

	// AwaitingSignature → Paying: reissue the identical request, paid.
	paidReq, err := cloneRequest(req)
	if err != nil {
		result.State = StateRequestFailed
		return result, NewPaymentError(ErrCodeRequestFailed,
			fmt.Sprintf("failed to rebuild request for paid retry: %v", err), nil)
	}
	paidReq.Header.Set(PaymentHeader, headerValue)

	// A transport failure here is still a generic request failure: the
	// server never delivered a verdict on the signed envelope.
	status, header, body, err = c.roundTrip(paidReq)
	if err != nil {
		result.State = StateRequestFailed
		return result, NewPaymentError(ErrCodeRequestFailed,
			fmt.Sprintf("paid retry failed: %v", err), nil)
	}
	result.StatusCode = status
	result.Header = header
	result.Body = body

	// Paying → Fulfilled, or a terminal rejection. A second 402 means the
	// gate re-quoted (stale authorization, insufficient funds, facilitator
	// rejection); the client never auto-signs a second authorization.
	if status >= 200 && status < 300 {
		result.State = StateFulfilled
		if encoded := header.Get(SettlementHeader); encoded != "" {
			if settlement, err := DecodeSettleResponseFromBase64(encoded); err == nil {
				result.Settlement = settlement
			}
		}
		return result, nil
	}

	result.State = StatePaymentRejected
	reason := fmt.Sprintf("server rejected payment with status %d", status)
	if required, err := ParsePaymentRequired(body); err == nil && required.Error != "" {
		reason = required.Error
	}
	return result, NewPaymentError(ErrCodePaymentRejected, reason,
		map[string]interface{}{"status": status})
}

// Get performs a GET with payment handling.
func (c *Client) Get(ctx context.Context, url string) (*PaymentResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs a POST with payment handling. The body reader must be one of
// the replayable types recognized by http.NewRequest.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*PaymentResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// signQuote runs build → sign → encode for one quote and returns the
// X-PAYMENT header value. Exactly one authorization is created per call.
func (c *Client) signQuote(ctx context.Context, req PaymentRequirements) (headerValue, paymentID string, err error) {
	auth, err := BuildAuthorization(req, c.signer.Address(), c.now())
	if err != nil {
		return "", "", err
	}

	if c.paymentIDNonces {
		nonce, id, err := CreateNonceWithPaymentID()
		if err != nil {
			return "", "", err
		}
		auth.Nonce = nonce
		paymentID = id
	}

	signature, err := SignAuthorization(ctx, c.signer, req, auth)
	if err != nil {
		return "", "", err
	}

	encoded, err := NewPaymentPayload(req.Network, signature, auth).EncodeToBase64String()
	if err != nil {
		return "", "", err
	}
	return encoded, paymentID, nil
}

// roundTrip sends a request and drains the response body.
func (c *Client) roundTrip(req *http.Request) (int, http.Header, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// cloneRequest duplicates a request including a fresh body reader.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}
