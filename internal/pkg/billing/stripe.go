package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reelkit/reelkit/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// ProviderClient is the subset of provider operations the billing services
// need. StripeClient implements it; tests substitute fakes.
type ProviderClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]SubscriptionObject, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*SubscriptionObject, error)
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)
}

// Error is a typed provider API error.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("stripe api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// IsResourceMissing reports whether an error means the provider resource is
// already gone. Best-effort cancellation treats this as success.
func IsResourceMissing(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == "resource_missing"
	}
	return false
}

// CheckoutSessionInput describes a new checkout session.
type CheckoutSessionInput struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider's checkout session object.
type CheckoutSession struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Status       string `json:"status"`
}

// Invoice is a trimmed provider invoice for the billing history listing.
type Invoice struct {
	ID               string `json:"id"`
	Number           string `json:"number"`
	Status           string `json:"status"`
	AmountDue        int64  `json:"amount_due"`
	AmountPaid       int64  `json:"amount_paid"`
	Currency         string `json:"currency"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
	Created          int64  `json:"created"`
}

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("STRIPE_SECRET_KEY is not configured")
	}

	var body io.Reader
	if form != nil && method != http.MethodGet {
		body = strings.NewReader(form.Encode())
	}
	u := c.APIBaseURL + path
	if form != nil && method == http.MethodGet {
		u += "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var raw struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &raw)
		return &Error{
			StatusCode: resp.StatusCode,
			Code:       raw.Error.Code,
			Message:    raw.Error.Message,
		}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	var sub SubscriptionObject
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *StripeClient) ListSubscriptions(ctx context.Context, customerID string) ([]SubscriptionObject, error) {
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return nil, errors.New("customer id is required")
	}
	form := url.Values{}
	form.Set("customer", cid)
	form.Set("status", "all")
	form.Set("limit", "20")

	var raw struct {
		Data []SubscriptionObject `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions", form, &raw); err != nil {
		return nil, err
	}
	return raw.Data, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return errors.New("subscription id is required")
	}
	return c.do(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(id), nil, nil)
}

func (c *StripeClient) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*SubscriptionObject, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	form := url.Values{}
	form.Set("cancel_at_period_end", fmt.Sprintf("%t", cancel))

	var sub SubscriptionObject
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(id), form, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	form := url.Values{}
	form.Set("email", strings.TrimSpace(email))
	if n := strings.TrimSpace(name); n != "" {
		form.Set("name", n)
	}

	var raw struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &raw); err != nil {
		return "", err
	}
	if raw.ID == "" {
		return "", errors.New("stripe customer creation returned empty id")
	}
	return raw.ID, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	if strings.TrimSpace(in.PriceID) == "" {
		return nil, errors.New("price id is required")
	}
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", in.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", in.SuccessURL)
	form.Set("cancel_url", in.CancelURL)
	if cid := strings.TrimSpace(in.CustomerID); cid != "" {
		form.Set("customer", cid)
	}

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, errors.New("session id is required")
	}
	var session CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *StripeClient) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return "", errors.New("customer id is required")
	}
	form := url.Values{}
	form.Set("customer", cid)
	form.Set("return_url", returnURL)

	var raw struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/billing_portal/sessions", form, &raw); err != nil {
		return "", err
	}
	return raw.URL, nil
}

func (c *StripeClient) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	cid := strings.TrimSpace(customerID)
	if cid == "" {
		return nil, errors.New("customer id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 12
	}
	form := url.Values{}
	form.Set("customer", cid)
	form.Set("limit", fmt.Sprintf("%d", limit))

	var raw struct {
		Data []Invoice `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/invoices", form, &raw); err != nil {
		return nil, err
	}
	return raw.Data, nil
}
