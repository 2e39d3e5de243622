// Package ibclient is the concrete edge adapter satisfying the abstract
// MarketDataClient collaborator (SPEC_FULL.md §1: the gateway's wire
// protocol is explicitly out of scope). It speaks a small JSON-over-HTTP
// dialect to the configured gateway host:port, grounded on the teacher's
// broker.TradierAPI (internal/broker/tradier.go): a plain *http.Client, a
// baseURL, and a typed APIError rather than a generated client SDK.
package ibclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lamweiwei/bardrifter/internal/domain"
)

// APIError reports a non-2xx response from the gateway, mirroring the
// teacher's broker.APIError.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ibclient: gateway returned %d: %s", e.Status, e.Body)
}

// Client is a thin HTTP client over the market-data gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   int
}

// New returns a Client targeting host:port with the given request timeout
// and IB-style client ID (sent as a query parameter on the Connect
// handshake).
func New(host string, port, clientID int, timeout time.Duration) *Client {
	return NewWithBaseURL(fmt.Sprintf("http://%s:%d", host, port), clientID, timeout)
}

// NewWithBaseURL returns a Client targeting an explicit base URL, letting
// tests point it at an httptest.Server.
func NewWithBaseURL(baseURL string, clientID int, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		clientID:   clientID,
	}
}

// Connect performs a lightweight handshake against the gateway's health
// endpoint. original_source/core/fetcher.py retries this under
// connection.reconnection_attempts; that retry loop lives in
// gateway.ConnectWithRetry, one layer up.
func (c *Client) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/handshake", nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("clientId", fmt.Sprintf("%d", c.clientID))
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ibclient: connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

type barsResponse struct {
	Bars []wireBar `json:"bars"`
}

type wireBar struct {
	TimestampUTC string  `json:"timestamp_utc"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	BarCount     int     `json:"bar_count"`
}

// FetchBars requests one day of one-minute bars ending at endOfDayUTC.
func (c *Client) FetchBars(ctx context.Context, contract domain.Contract, endOfDayUTC time.Time) ([]domain.Bar, error) {
	payload, err := json.Marshal(map[string]any{
		"symbol":        contract.Symbol,
		"secType":       contract.SecType,
		"exchange":      contract.Exchange,
		"currency":      contract.Currency,
		"endDateTime":   endOfDayUTC.UTC().Format("20060102 15:04:05"),
		"barSizeSetting": "1 min",
		"durationStr":   "1 D",
		"whatToShow":    "TRADES",
		"useRTH":        true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/historicalData", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ibclient: fetch bars for %s: %w", contract.Symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var decoded barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ibclient: decode bars for %s: %w", contract.Symbol, err)
	}

	bars := make([]domain.Bar, 0, len(decoded.Bars))
	for _, wb := range decoded.Bars {
		ts, err := time.Parse("2006-01-02T15:04:05Z", wb.TimestampUTC)
		if err != nil {
			return nil, fmt.Errorf("ibclient: bad bar timestamp %q: %w", wb.TimestampUTC, err)
		}
		bars = append(bars, domain.Bar{
			TimestampUTC: ts, Open: wb.Open, High: wb.High, Low: wb.Low,
			Close: wb.Close, Volume: wb.Volume, BarCount: wb.BarCount,
		})
	}
	return bars, nil
}

type earliestResponse struct {
	TimestampUTC string `json:"timestamp_utc"`
	Available    bool   `json:"available"`
}

// EarliestDataTimestamp asks the gateway for the first bar it holds for
// contract, used once per symbol at plan time (SPEC_FULL.md §4.5).
func (c *Client) EarliestDataTimestamp(ctx context.Context, contract domain.Contract) (time.Time, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/headTimestamp", nil)
	if err != nil {
		return time.Time{}, false, err
	}
	q := req.URL.Query()
	q.Set("symbol", contract.Symbol)
	q.Set("secType", contract.SecType)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ibclient: earliest timestamp for %s: %w", contract.Symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return time.Time{}, false, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var decoded earliestResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return time.Time{}, false, fmt.Errorf("ibclient: decode earliest timestamp for %s: %w", contract.Symbol, err)
	}
	if !decoded.Available {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05Z", decoded.TimestampUTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("ibclient: bad earliest timestamp %q: %w", decoded.TimestampUTC, err)
	}
	return ts, true, nil
}
