package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickethub/models"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond}
}

func TestCreateCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/charges", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 100.0, body["amount"])
		assert.Equal(t, "SAR", body["currency"])
		metadata, ok := body["metadata"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "buyer1", metadata["buyer_id"])

		fmt.Fprint(w, `{
			"id": "chg_123",
			"status": "INITIATED",
			"transaction": {"url": "https://pay.example/chg_123"}
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123", testPolicy())

	created, err := client.CreateCharge(context.Background(), &ChargeRequest{
		Amount:   decimal.NewFromInt(100),
		Currency: "SAR",
		Metadata: map[string]string{"buyer_id": "buyer1"},
		Customer: Customer{ID: "buyer1", Email: "b@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "chg_123", created.ChargeID)
	assert.Equal(t, "https://pay.example/chg_123", created.RedirectURL)
}

func TestCreateChargeSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":[{"code":"1100"}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key", testPolicy())

	_, err := client.CreateCharge(context.Background(), &ChargeRequest{
		Amount:   decimal.NewFromInt(10),
		Currency: "SAR",
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestGetCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/charges/chg_123", r.URL.Path)

		fmt.Fprint(w, `{
			"id": "chg_123",
			"status": "captured",
			"amount": 100,
			"currency": "SAR",
			"metadata": {"buyer_id": "buyer1", "currency": "SAR", "cart": "[]"}
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123", testPolicy())

	charge, err := client.GetCharge(context.Background(), "chg_123")
	require.NoError(t, err)
	assert.Equal(t, "chg_123", charge.ID)
	// Status comparison is case-insensitive on our side.
	assert.Equal(t, models.ChargeCaptured, charge.Status)
	assert.True(t, charge.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "buyer1", charge.Metadata["buyer_id"])
}

func TestGetChargeRetriesThroughRateLimit(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"chg_9","status":"CAPTURED","amount":5,"currency":"SAR","metadata":{}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_123", testPolicy())

	charge, err := client.GetCharge(context.Background(), "chg_9")
	require.NoError(t, err)
	assert.Equal(t, "chg_9", charge.ID)
	assert.Equal(t, 2, calls)
}
