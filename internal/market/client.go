// Package market fetches comparable-listing intelligence from a third-party
// pricing API. Responses are cached with a TTL so the metrics engine can
// enrich every turn without hammering the provider.
package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/carverlabs/dealpilot/internal/negotiation"
)

const cacheSize = 256

// Client implements negotiation.MarketSource over an HTTP pricing API.
type Client struct {
	http   *resty.Client
	comps  *expirable.LRU[string, negotiation.MarketComparables]
	trends *expirable.LRU[string, negotiation.MarketTrend]
}

func NewClient(baseURL, apiKey string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(10 * time.Second)
	if apiKey != "" {
		client.SetHeader("X-Api-Key", apiKey)
	}
	return &Client{
		http:   client,
		comps:  expirable.NewLRU[string, negotiation.MarketComparables](cacheSize, nil, ttl),
		trends: expirable.NewLRU[string, negotiation.MarketTrend](cacheSize, nil, ttl),
	}
}

type comparablesResp struct {
	AveragePrice float64 `json:"average_price"`
	MedianPrice  float64 `json:"median_price"`
	TotalFound   int     `json:"total_found"`
	Summary      string  `json:"summary"`
}

type trendResp struct {
	TrendDirection string `json:"trend_direction"`
	DemandLevel    string `json:"demand_level"`
	DaysSupply     int    `json:"days_supply"`
}

func (c *Client) GetComparables(ctx context.Context, mk, mdl string, year, mileage int) (*negotiation.MarketComparables, error) {
	key := fmt.Sprintf("%s|%s|%d|%d", mk, mdl, year, mileage/10000)
	if cached, ok := c.comps.Get(key); ok {
		return &cached, nil
	}

	var out comparablesResp
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"make":    mk,
			"model":   mdl,
			"year":    strconv.Itoa(year),
			"mileage": strconv.Itoa(mileage),
		}).
		SetResult(&out).
		Get("/v1/comparables")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market comparables: status %d", resp.StatusCode())
	}

	result := negotiation.MarketComparables{
		AveragePrice: out.AveragePrice,
		MedianPrice:  out.MedianPrice,
		TotalFound:   out.TotalFound,
		Summary:      out.Summary,
	}
	c.comps.Add(key, result)
	return &result, nil
}

func (c *Client) GetPriceTrend(ctx context.Context, mk, mdl string, year int) (*negotiation.MarketTrend, error) {
	key := fmt.Sprintf("%s|%s|%d", mk, mdl, year)
	if cached, ok := c.trends.Get(key); ok {
		return &cached, nil
	}

	var out trendResp
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"make":  mk,
			"model": mdl,
			"year":  strconv.Itoa(year),
		}).
		SetResult(&out).
		Get("/v1/trends")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market trend: status %d", resp.StatusCode())
	}

	result := negotiation.MarketTrend{
		TrendDirection: out.TrendDirection,
		DemandLevel:    out.DemandLevel,
		DaysSupply:     out.DaysSupply,
	}
	c.trends.Add(key, result)
	return &result, nil
}
