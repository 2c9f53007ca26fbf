package buttondown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"engagement-tracker-go/internal/config"
)

var (
	// ErrNotConfigured is returned when no API key is set
	ErrNotConfigured = errors.New("buttondown API key not configured")
	// ErrWebhookIDRequired is returned when no webhook id was given or configured
	ErrWebhookIDRequired = errors.New("webhook ID not configured")
	// ErrMalformedResponse wraps responses that could not be decoded
	ErrMalformedResponse = errors.New("malformed buttondown response")
	// ErrRequestFailed wraps transport failures
	ErrRequestFailed = errors.New("buttondown request failed")
)

const maxErrorBody = 4096

// APIError is a non-2xx response from the Buttondown API
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("buttondown API error (%d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("buttondown API error (%d)", e.Status)
}

// IsProviderError reports whether err came from talking to Buttondown
func IsProviderError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrRequestFailed)
}

// Client talks to the Buttondown v1 API
type Client struct {
	baseURL    string
	webhookID  string
	httpClient *http.Client
}

// NewClient builds a client authenticating with "Authorization: Token <key>"
func NewClient(cfg config.ButtondownConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid buttondown api base url %q", cfg.APIBaseURL)
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.APIKey,
		TokenType:   "Token",
	})

	return &Client{
		baseURL:   baseURL,
		webhookID: cfg.WebhookID,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &oauth2.Transport{
				Source: tokenSource,
				Base:   http.DefaultTransport,
			},
		},
	}, nil
}

// Webhook is a webhook registered on the Buttondown account
type Webhook struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	EventTypes   []string `json:"event_types"`
	Status       string   `json:"status"`
	Description  string   `json:"description"`
	CreationDate string   `json:"creation_date"`
}

type webhookPage struct {
	Results []Webhook `json:"results"`
	Next    string    `json:"next"`
	Count   int       `json:"count"`
}

// ListWebhooks returns every webhook configured on the account
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var webhooks []Webhook
	next := c.baseURL + "/webhooks"
	for next != "" {
		var page webhookPage
		if err := c.doJSON(ctx, http.MethodGet, next, http.StatusOK, &page); err != nil {
			return nil, err
		}
		webhooks = append(webhooks, page.Results...)
		next = page.Next
	}
	return webhooks, nil
}

// GetWebhook fetches one webhook. An empty id uses the configured one.
func (c *Client) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	id, err := c.resolveWebhookID(id)
	if err != nil {
		return nil, err
	}
	var webhook Webhook
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/webhooks/"+url.PathEscape(id), http.StatusOK, &webhook); err != nil {
		return nil, err
	}
	return &webhook, nil
}

// TriggerTestWebhook asks Buttondown to send a test delivery to the webhook
func (c *Client) TriggerTestWebhook(ctx context.Context, id string) error {
	id, err := c.resolveWebhookID(id)
	if err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/webhooks/"+url.PathEscape(id)+"/test", http.StatusNoContent, nil); err != nil {
		return err
	}
	logrus.WithField("webhook_id", id).Info("Triggered test webhook")
	return nil
}

func (c *Client) resolveWebhookID(id string) (string, error) {
	if id == "" {
		id = c.webhookID
	}
	if id == "" {
		return "", ErrWebhookIDRequired
	}
	return id, nil
}

// doJSON performs a request and decodes the body into out when out is not
// nil. Any status other than want is an *APIError.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, want int, out any) error {
	resp, err := c.do(ctx, method, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return newAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return resp, nil
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
