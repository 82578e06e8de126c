// Package payments talks to the Asaas billing API to charge consultation
// deposits and hand the invoice link back to the conversation.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/saluslabs/clinic-assistant/internal/retry"
)

const defaultBaseURL = "https://sandbox.asaas.com/api/v3"

// ErrCustomerNotFound indicates no Asaas customer matches the document.
var ErrCustomerNotFound = errors.New("payments: customer not found")

// Config controls how the Asaas client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client wraps the Asaas endpoints the assistant needs.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      retry.Policy
	logger     *slog.Logger
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("payments: API key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		retry:      policy,
		logger:     logger,
	}, nil
}

// WithKey returns a copy of the client bound to a different credential, for
// clinics that carry their own Asaas account.
func (c *Client) WithKey(apiKey string) *Client {
	if apiKey == "" || apiKey == c.apiKey {
		return c
	}
	clone := *c
	clone.apiKey = apiKey
	return &clone
}

// Customer is an Asaas billing customer.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	CPFCNPJ string `json:"cpfCnpj"`
}

// Payment is a created charge with the link the user pays through.
type Payment struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	InvoiceURL string `json:"invoiceUrl"`
}

// FindCustomerByDocument looks a customer up by CPF/CNPJ.
func (c *Client) FindCustomerByDocument(ctx context.Context, cpfCNPJ string) (*Customer, error) {
	doc, err := cleanDocument(cpfCNPJ)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("cpfCnpj", doc)

	data, err := c.invoke(ctx, http.MethodGet, "/customers?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []Customer `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("payments: decode customer search: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrCustomerNotFound
	}
	return &resp.Data[0], nil
}

// CustomerRequest carries the data needed to create a billing customer.
type CustomerRequest struct {
	CPFCNPJ string
	Name    string
	Email   string
	Phone   string
}

// EnsureCustomer returns the existing customer for the document or creates
// one. Creation never duplicates: the lookup runs first.
func (c *Client) EnsureCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	doc, err := cleanDocument(req.CPFCNPJ)
	if err != nil {
		return nil, err
	}
	existing, err := c.FindCustomerByDocument(ctx, doc)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Cliente da Clínica"
	}
	payload := map[string]any{
		"cpfCnpj":              doc,
		"name":                 name,
		"notificationDisabled": false,
	}
	if req.Email != "" {
		payload["email"] = req.Email
	}
	if req.Phone != "" {
		payload["phone"] = req.Phone
		payload["mobilePhone"] = req.Phone
	}
	body, _ := json.Marshal(payload)

	data, err := c.invoke(ctx, http.MethodPost, "/customers", body)
	if err != nil {
		return nil, err
	}
	var customer Customer
	if err := json.Unmarshal(data, &customer); err != nil {
		return nil, fmt.Errorf("payments: decode customer: %w", err)
	}
	if customer.ID == "" {
		return nil, errors.New("payments: customer created without id")
	}
	return &customer, nil
}

// CreatePayment charges the customer and returns the invoice link. The
// billing type stays open so the user picks pix/boleto/card on the invoice.
func (c *Client) CreatePayment(ctx context.Context, customerID string, amount float64, description string) (*Payment, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("payments: customer id is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("payments: invalid amount %.2f", amount)
	}
	body, _ := json.Marshal(map[string]any{
		"customer":    customerID,
		"billingType": "UNDEFINED",
		"value":       amount,
		"dueDate":     time.Now().AddDate(0, 0, 7).Format("2006-01-02"),
		"description": description,
	})

	data, err := c.invoke(ctx, http.MethodPost, "/payments", body)
	if err != nil {
		return nil, err
	}
	var payment Payment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("payments: decode payment: %w", err)
	}
	if payment.InvoiceURL == "" {
		return nil, errors.New("payments: payment created without invoice url")
	}
	return &payment, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + path

	var data []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("payments: build request: %w", err)
		}
		req.Header.Set("accept", "application/json")
		req.Header.Set("access_token", c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return retry.Transient(fmt.Errorf("payments: http timeout: %w", err))
			}
			return retry.Transient(fmt.Errorf("payments: http error: %w", err))
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("payments: read response: %w", err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		apiErr := fmt.Errorf("payments: asaas returned %d: %s", resp.StatusCode, snippet(data))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.logger.Warn("asaas retry", "path", path, "status", resp.StatusCode)
			return retry.Transient(apiErr)
		}
		return apiErr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// cleanDocument strips punctuation and checks CPF (11) or CNPJ (14) length.
func cleanDocument(cpfCNPJ string) (string, error) {
	var b strings.Builder
	for _, r := range cpfCNPJ {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	doc := b.String()
	if len(doc) != 11 && len(doc) != 14 {
		return "", fmt.Errorf("payments: invalid document %q", cpfCNPJ)
	}
	return doc, nil
}

func snippet(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
