package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the payment provider's REST API. It implements both
// SessionClient and CustomerProvisioner.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient HTTPClient
}

var (
	_ SessionClient       = (*Client)(nil)
	_ CustomerProvisioner = (*Client)(nil)
)

// NewClient constructs a provider client for the given base URL and API key.
func NewClient(baseURL, apiKey string, httpClient HTTPClient) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid billing base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: parsed, apiKey: apiKey, httpClient: httpClient}, nil
}

// apiError matches the provider's error payload.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	rel, err := url.Parse(path)
	if err != nil {
		return err
	}
	endpoint := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var payload apiError
		if err := json.Unmarshal(data, &payload); err == nil && strings.TrimSpace(payload.Error.Message) != "" {
			return fmt.Errorf("billing api error: %s", payload.Error.Message)
		}
		return fmt.Errorf("billing api error: status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// GetSession fetches one checkout session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListLineItems fetches the purchased line items of a checkout session.
func (c *Client) ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error) {
	var resp struct {
		Data []struct {
			Quantity int64 `json:"quantity"`
			Price    struct {
				ID         string `json:"id"`
				UnitAmount int64  `json:"unit_amount"`
			} `json:"price"`
		} `json:"data"`
	}
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID) + "/line_items"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	items := make([]LineItem, 0, len(resp.Data))
	for _, d := range resp.Data {
		items = append(items, LineItem{
			PriceID:    d.Price.ID,
			UnitAmount: d.Price.UnitAmount,
			Quantity:   d.Quantity,
		})
	}
	return items, nil
}

// MarkHandled writes the handled marker onto a session's metadata.
func (c *Client) MarkHandled(ctx context.Context, sessionID string, handledAt time.Time) error {
	form := url.Values{}
	form.Set("metadata[handled]", "true")
	form.Set("metadata[handledAt]", handledAt.Format(time.RFC3339))
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	return c.do(ctx, http.MethodPost, path, form, nil)
}

// ProvisionCustomer creates a billing customer tagged with the account id and
// returns the provider's customer id.
func (c *Client) ProvisionCustomer(ctx context.Context, accountID, email string) (string, error) {
	form := url.Values{}
	form.Set("metadata[account_id]", accountID)
	if email != "" {
		form.Set("email", email)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("billing api returned empty customer id")
	}
	return resp.ID, nil
}
