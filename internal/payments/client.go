package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// Client is the Payment Provider Client. SecretKey/WebhookSecret are
// optional; calling a method that needs one without it configured
// returns requireSecretKey's error, and VerifyWebhookSignature returns
// its own distinct "not configured" error.
type Client struct {
	HTTP          *http.Client
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

func New(httpClient *http.Client, secretKey, webhookSecret string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTP: httpClient, SecretKey: secretKey, WebhookSecret: webhookSecret, BaseURL: defaultBaseURL}
}

func (c *Client) requireSecretKey() (string, error) {
	key := strings.TrimSpace(c.SecretKey)
	if key == "" {
		return "", fmt.Errorf("stripe secret key is not configured")
	}
	return key, nil
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return defaultBaseURL
	}
	return c.BaseURL
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	key, err := c.requireSecretKey()
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(key, "")

	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]byte, int, error) {
	key, err := c.requireSecretKey()
	if err != nil {
		return nil, 0, err
	}

	full := c.baseURL() + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, 0, err
	}
	req.SetBasicAuth(key, "")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func parseStripeResponse[T any](body []byte, status int) (T, error) {
	var zero T
	if status < 200 || status >= 300 {
		return zero, fmt.Errorf("stripe api request failed with status %d: %s", status, string(body))
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, fmt.Errorf("decode stripe response: %w", err)
	}
	return out, nil
}

// CreateCustomer creates a customer with the given email, tagging the
// identity-provider user id in metadata.
func (c *Client) CreateCustomer(ctx context.Context, email, clerkID string) (Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[clerkId]", clerkID)

	body, status, err := c.postForm(ctx, "/customers", form)
	if err != nil {
		return Customer{}, err
	}
	return parseStripeResponse[Customer](body, status)
}

// RetrieveCustomer fetches a customer by id.
func (c *Client) RetrieveCustomer(ctx context.Context, id string) (Customer, error) {
	body, status, err := c.getJSON(ctx, "/customers/"+id, nil)
	if err != nil {
		return Customer{}, err
	}
	return parseStripeResponse[Customer](body, status)
}

// CreateCheckoutSession creates a subscription-mode checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, customer, price, successURL, cancelURL string) (CheckoutSession, error) {
	form := url.Values{}
	form.Set("customer", customer)
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", price)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)

	body, status, err := c.postForm(ctx, "/checkout/sessions", form)
	if err != nil {
		return CheckoutSession{}, err
	}
	return parseStripeResponse[CheckoutSession](body, status)
}

// RetrieveCheckoutSession fetches a checkout session, expanding
// line_items.
func (c *Client) RetrieveCheckoutSession(ctx context.Context, id string) (CheckoutSession, error) {
	query := url.Values{}
	query.Add("expand[]", "line_items")

	body, status, err := c.getJSON(ctx, "/checkout/sessions/"+id, query)
	if err != nil {
		return CheckoutSession{}, err
	}
	return parseStripeResponse[CheckoutSession](body, status)
}

// CreateBillingPortalSession creates a customer billing-portal session.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customer, returnURL string) (BillingPortalSession, error) {
	form := url.Values{}
	form.Set("customer", customer)
	form.Set("return_url", returnURL)

	body, status, err := c.postForm(ctx, "/billing_portal/sessions", form)
	if err != nil {
		return BillingPortalSession{}, err
	}
	return parseStripeResponse[BillingPortalSession](body, status)
}

// RetrieveSubscription fetches a subscription by id.
func (c *Client) RetrieveSubscription(ctx context.Context, id string) (Subscription, error) {
	body, status, err := c.getJSON(ctx, "/subscriptions/"+id, nil)
	if err != nil {
		return Subscription{}, err
	}
	return parseStripeResponse[Subscription](body, status)
}
