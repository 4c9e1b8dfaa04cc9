package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	awattarEndpointAT = "https://api.awattar.at/v1/marketdata"
	awattarEndpointDE = "https://api.awattar.de/v1/marketdata"

	awattarTimeout = 10 * time.Second
	awattarWindowH = 48
)

// AwattarClient fetches day-ahead hourly prices from the aWATTar market data
// API for a 48 hour window starting at the next whole hour.
type AwattarClient struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
}

func NewAwattarClient(region string) (*AwattarClient, error) {
	var endpoint string
	switch region {
	case "AT", "":
		endpoint = awattarEndpointAT
	case "DE":
		endpoint = awattarEndpointDE
	default:
		return nil, fmt.Errorf("unknown price region '%s'", region)
	}
	return &AwattarClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: awattarTimeout},
		now:      time.Now,
	}, nil
}

type awattarResponse struct {
	Data []struct {
		StartTimestamp int64   `json:"start_timestamp"`
		Marketprice    float64 `json:"marketprice"`
	} `json:"data"`
}

// Prices returns hourly day-ahead prices in EUR/MWh.
func (c *AwattarClient) Prices(ctx context.Context) (Series, error) {
	start := c.now().UTC().Truncate(time.Hour).Add(time.Hour)
	end := start.Add(awattarWindowH * time.Hour)

	url := fmt.Sprintf("%s?start=%d&end=%d", c.endpoint, start.UnixMilli(), end.UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch prices: unexpected status %d", resp.StatusCode)
	}

	var payload awattarResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("price response contained no data")
	}

	prices := make(Series, 0, len(payload.Data))
	for _, entry := range payload.Data {
		prices = append(prices, Point{
			Time:  time.UnixMilli(entry.StartTimestamp).UTC(),
			Value: entry.Marketprice,
		})
	}
	return prices, nil
}
