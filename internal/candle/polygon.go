package candle

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RemoteClient fetches real market data from Polygon.io's aggregates API.
// It is the optional "real provider" behind Provider; a deployment with no
// API key falls back entirely to the cache and synthetic generator.
type RemoteClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewRemoteClient creates a Polygon.io API client.
func NewRemoteClient(apiKey string) *RemoteClient {
	return &RemoteClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.polygon.io",
	}
}

type polygonAggResponse struct {
	Status       string       `json:"status"`
	ResultsCount int          `json:"resultsCount"`
	Results      []polygonBar `json:"results"`
	Ticker       string       `json:"ticker"`
	QueryCount   int          `json:"queryCount"`
	RequestID    string       `json:"request_id"`
	Adjusted     bool         `json:"adjusted"`
	NextURL      string       `json:"next_url,omitempty"`
}

type polygonBar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	VW        float64 `json:"vw"`
	N         int     `json:"n"`
}

// FetchSeries fetches minute-bar data for symbol on date and returns it as a
// Series; Provider resamples it to the match's required candle count.
func (c *RemoteClient) FetchSeries(symbol string, date time.Time) (*Series, error) {
	dateStr := date.Format("2006-01-02")

	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/minute/%s/%s?adjusted=true&sort=asc&limit=50000&apiKey=%s",
		c.baseURL, symbol, dateStr, dateStr, c.apiKey)

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("polygon request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polygon returned status %d", resp.StatusCode)
	}

	var aggResp polygonAggResponse
	if err := json.NewDecoder(resp.Body).Decode(&aggResp); err != nil {
		return nil, fmt.Errorf("decode polygon response: %w", err)
	}

	if aggResp.Status != "OK" {
		return nil, fmt.Errorf("polygon status: %s", aggResp.Status)
	}

	bars := make([]Candle, 0, len(aggResp.Results))
	for _, pb := range aggResp.Results {
		bars = append(bars, Candle{
			Timestamp: time.UnixMilli(pb.Timestamp),
			Open:      dollarsToCents(pb.Open),
			High:      dollarsToCents(pb.High),
			Low:       dollarsToCents(pb.Low),
			Close:     dollarsToCents(pb.Close),
			Volume:    int64(pb.Volume),
		})
	}

	return &Series{Symbol: symbol, Date: date, Bars: bars}, nil
}

func dollarsToCents(dollars float64) int64 {
	return int64(dollars * 100)
}

// ValidAPIKey checks whether the configured key can authenticate.
func (c *RemoteClient) ValidAPIKey() bool {
	url := fmt.Sprintf("%s/v2/aggs/ticker/SPY/range/1/day/2024-01-02/2024-01-02?apiKey=%s",
		c.baseURL, c.apiKey)

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
