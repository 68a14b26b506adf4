// Package currency resolves spot exchange rates and picks the single
// settlement currency a multi-event cart is normalized into.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tickethub/internal/status"
)

type Converter struct {
	baseURL  string
	apiKey   string
	cacheTTL time.Duration

	redis *redis.Client
	hc    *http.Client
}

func NewConverter(baseURL, apiKey string, cacheTTL time.Duration, redisClient *redis.Client) *Converter {
	return &Converter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		cacheTTL: cacheTTL,
		redis:    redisClient,

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Rate returns the spot rate from one currency code to another. Identical
// codes short-circuit to 1 without touching the cache or the network.
func (c *Converter) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	if from == to {
		return decimal.NewFromInt(1), nil
	}

	cacheKey := fmt.Sprintf("rate:%s:%s", from, to)
	if cached, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
		if rate, derr := decimal.NewFromString(cached); derr == nil && rate.IsPositive() {
			return rate, nil
		}
	}

	rate, err := c.fetchRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.redis.Set(ctx, cacheKey, rate.String(), c.cacheTTL).Err(); err != nil {
		slog.Warn("currency: failed to cache rate", "pair", cacheKey, "error", err)
	}

	return rate, nil
}

// fetchRate makes the http call to the exchange rate backend.
func (c *Converter) fetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s/pair/%s/%s", c.baseURL, c.apiKey, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetchRate: http.NewRequestWithContext: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetchRate: %w: %v", status.ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rbody, _ := io.ReadAll(resp.Body)
		slog.Warn("currency: rate lookup failed", "status", resp.StatusCode, "body", string(rbody))
		return decimal.Zero, status.ErrRateUnavailable
	}

	var reply struct {
		Result         string          `json:"result"`
		ConversionRate decimal.Decimal `json:"conversion_rate"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return decimal.Zero, fmt.Errorf("fetchRate: json.Decode: %w", err)
	}

	if reply.Result != "success" || !reply.ConversionRate.IsPositive() {
		return decimal.Zero, status.ErrRateUnavailable
	}

	return reply.ConversionRate, nil
}

// EventCurrency pairs an event with the currency its tickets are priced in.
type EventCurrency struct {
	EventID  string
	Currency string
}

// Settlement picks the currency used by the plurality of the distinct
// events in the cart. Ties break toward the currency seen first.
func Settlement(events []EventCurrency) string {
	counts := make(map[string]int)
	var order []string
	seen := make(map[string]bool)

	for _, ec := range events {
		if ec.EventID == "" || seen[ec.EventID] {
			continue
		}
		seen[ec.EventID] = true

		ccy := strings.ToUpper(ec.Currency)
		if counts[ccy] == 0 {
			order = append(order, ccy)
		}
		counts[ccy]++
	}

	best := ""
	for _, ccy := range order {
		if best == "" || counts[ccy] > counts[best] {
			best = ccy
		}
	}
	return best
}
