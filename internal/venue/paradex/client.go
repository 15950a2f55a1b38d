package paradex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"opt-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Client reads option market summaries from the Paradex REST API. The
// bot only reads public market data here; order entry on the options
// side stays manual.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type summaryResponse struct {
	Results []marketSummary `json:"results"`
}

type marketSummary struct {
	Symbol    string `json:"symbol"`
	Delta     string `json:"delta"`
	MarkPrice string `json:"mark_price"`
	CreatedAt int64  `json:"created_at"`
}

// FetchDeltas returns the latest delta quote for each requested contract.
// Contracts absent from the venue response are simply missing from the
// result map; the caller decides whether that makes its aggregate partial.
func (c *Client) FetchDeltas(ctx context.Context, contracts []string) (map[string]venue.DeltaQuote, error) {
	if len(contracts) == 0 {
		return map[string]venue.DeltaQuote{}, nil
	}
	wanted := make(map[string]bool, len(contracts))
	for _, id := range contracts {
		wanted[id] = true
	}

	summaries, err := c.marketSummaries(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]venue.DeltaQuote, len(contracts))
	for _, s := range summaries {
		if !wanted[s.Symbol] {
			continue
		}
		delta, err := strconv.ParseFloat(s.Delta, 64)
		if err != nil {
			c.log.Warn("unparseable delta in market summary", zap.String("symbol", s.Symbol), zap.String("delta", s.Delta))
			continue
		}
		mark, err := strconv.ParseFloat(s.MarkPrice, 64)
		if err != nil {
			mark = 0
		}
		out[s.Symbol] = venue.DeltaQuote{
			ContractID: s.Symbol,
			Delta:      delta,
			MarkPrice:  mark,
			AsOf:       time.UnixMilli(s.CreatedAt),
		}
	}
	return out, nil
}

func (c *Client) marketSummaries(ctx context.Context) ([]marketSummary, error) {
	url := c.baseURL + "/markets/summary?market=ALL"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: http %d", venue.ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%w: http %d: %s", venue.ErrTransport, resp.StatusCode, string(body))
	}
	var data summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", venue.ErrDataUnavailable, err)
	}
	return data.Results, nil
}
