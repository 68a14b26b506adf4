// Package gateway is the client for the hosted-payment charges API. A
// charge is created when the buyer checks out and verified again when the
// gateway calls back with nothing but the charge id.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tickethub/models"
)

type Client struct {
	baseURL   string
	secretKey string
	retry     RetryPolicy

	// hc is the http client.
	hc *http.Client
}

func NewClient(baseURL, secretKey string, retry RetryPolicy) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		retry:     retry,

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type (
	Customer struct {
		ID    string `json:"id,omitempty"`
		Name  string `json:"first_name,omitempty"`
		Email string `json:"email,omitempty"`
	}

	source struct {
		ID string `json:"id"`
	}

	redirect struct {
		URL string `json:"url"`
	}

	chargeForm struct {
		// Amount goes over the wire as a JSON number; decimal.Decimal
		// would marshal as a quoted string, which the charges API rejects.
		Amount      float64           `json:"amount"`
		Currency    string            `json:"currency"`
		Description string            `json:"description"`
		Metadata    map[string]string `json:"metadata"`
		Customer    Customer          `json:"customer"`
		Source      source            `json:"source"`
		Redirect    redirect          `json:"redirect"`
	}
)

// ChargeRequest is the assembled payload for one charge creation call.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Metadata    map[string]string
	Customer    Customer
	RedirectURL string
}

// CreatedCharge is what the purchase flow needs back: the gateway's id
// for later verification and the page the buyer is sent to.
type CreatedCharge struct {
	ChargeID    string
	RedirectURL string
}

// CreateCharge registers the charge with the gateway and returns the
// buyer-facing payment URL.
func (c *Client) CreateCharge(ctx context.Context, form *ChargeRequest) (*CreatedCharge, error) {
	body := &chargeForm{
		Amount:      form.Amount.InexactFloat64(),
		Currency:    form.Currency,
		Description: form.Description,
		Metadata:    form.Metadata,
		Customer:    form.Customer,
		Source:      source{ID: "src_all"},
		Redirect:    redirect{URL: form.RedirectURL},
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("CreateCharge: json.Marshal: %w", err)
	}

	resp, err := c.retry.Do(ctx, c.hc, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/charges", bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("CreateCharge: http.NewRequestWithContext: %w", err)
		}
		c.setHeaders(req)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(rbody)}
	}

	var reply struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Transaction struct {
			URL string `json:"url"`
		} `json:"transaction"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("CreateCharge: json.Decode: %w", err)
	}
	if reply.ID == "" {
		return nil, fmt.Errorf("CreateCharge: reply missing charge id")
	}

	return &CreatedCharge{
		ChargeID:    reply.ID,
		RedirectURL: reply.Transaction.URL,
	}, nil
}

// GetCharge looks up the current state of a charge by id.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*models.Charge, error) {
	resp, err := c.retry.Do(ctx, c.hc, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v2/charges/%s", c.baseURL, chargeID), nil)
		if err != nil {
			return nil, fmt.Errorf("GetCharge: http.NewRequestWithContext: %w", err)
		}
		c.setHeaders(req)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(rbody)}
	}

	var reply struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Amount   decimal.Decimal   `json:"amount"`
		Currency string            `json:"currency"`
		Metadata map[string]string `json:"metadata"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("GetCharge: json.Decode: %w", err)
	}

	return &models.Charge{
		ID:       reply.ID,
		Status:   strings.ToUpper(reply.Status),
		Amount:   reply.Amount,
		Currency: reply.Currency,
		Metadata: reply.Metadata,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}
