package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"opt-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Client reads public market metadata and account state from the Lighter
// REST API. Order book metadata changes rarely, so it is cached after the
// first fetch and refreshed explicitly.
type Client struct {
	baseURL      string
	accountIndex int64
	http         *http.Client
	log          *zap.Logger

	metaMu sync.RWMutex
	meta   map[string]venue.MarketMeta
}

func NewClient(baseURL string, accountIndex int64, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		accountIndex: accountIndex,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type orderBookDetailsResponse struct {
	Details []orderBookDetail `json:"order_book_details"`
}

type orderBookDetail struct {
	Symbol         string  `json:"symbol"`
	MarketID       int     `json:"market_id"`
	SizeDecimals   int     `json:"size_decimals"`
	PriceDecimals  int     `json:"price_decimals"`
	MinBaseAmount  string  `json:"min_base_amount"`
	LastTradePrice float64 `json:"last_trade_price"`
}

type accountResponse struct {
	Accounts []accountDetail `json:"accounts"`
}

type accountDetail struct {
	Positions []accountPosition `json:"positions"`
}

type accountPosition struct {
	MarketID int    `json:"market_id"`
	Symbol   string `json:"symbol"`
	Sign     int    `json:"sign"`
	Position string `json:"position"`
}

// MarketMeta returns the cached metadata for one underlying, fetching the
// order book catalogue on first use.
func (c *Client) MarketMeta(ctx context.Context, underlying string) (venue.MarketMeta, error) {
	c.metaMu.RLock()
	meta, ok := c.meta[underlying]
	c.metaMu.RUnlock()
	if ok {
		return meta, nil
	}
	if err := c.RefreshMeta(ctx); err != nil {
		return venue.MarketMeta{}, err
	}
	c.metaMu.RLock()
	meta, ok = c.meta[underlying]
	c.metaMu.RUnlock()
	if !ok {
		return venue.MarketMeta{}, fmt.Errorf("%w: no market for %s", venue.ErrDataUnavailable, underlying)
	}
	return meta, nil
}

// RefreshMeta reloads the order book catalogue.
func (c *Client) RefreshMeta(ctx context.Context) error {
	var data orderBookDetailsResponse
	if err := c.get(ctx, "/api/v1/orderBookDetails", &data); err != nil {
		return err
	}
	meta := make(map[string]venue.MarketMeta, len(data.Details))
	for _, d := range data.Details {
		minBase, err := strconv.ParseFloat(d.MinBaseAmount, 64)
		if err != nil {
			c.log.Warn("unparseable min base amount", zap.String("symbol", d.Symbol), zap.String("raw", d.MinBaseAmount))
			continue
		}
		meta[d.Symbol] = venue.MarketMeta{
			Underlying:     d.Symbol,
			MarketID:       d.MarketID,
			SizeDecimals:   d.SizeDecimals,
			PriceDecimals:  d.PriceDecimals,
			MinBaseAmount:  minBase,
			LastTradePrice: d.LastTradePrice,
		}
	}
	c.metaMu.Lock()
	c.meta = meta
	c.metaMu.Unlock()
	return nil
}

// Markets returns the cached catalogue, fetching it on first use.
func (c *Client) Markets(ctx context.Context) ([]venue.MarketMeta, error) {
	c.metaMu.RLock()
	loaded := len(c.meta) > 0
	c.metaMu.RUnlock()
	if !loaded {
		if err := c.RefreshMeta(ctx); err != nil {
			return nil, err
		}
	}
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	out := make([]venue.MarketMeta, 0, len(c.meta))
	for _, m := range c.meta {
		out = append(out, m)
	}
	return out, nil
}

// SetLastTradePrice overrides the cached trade price for one market.
// The websocket stream feeds this so worst-price caps track the live
// market rather than the snapshot taken at startup.
func (c *Client) SetLastTradePrice(underlying string, price float64) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	meta, ok := c.meta[underlying]
	if !ok {
		return
	}
	meta.LastTradePrice = price
	c.meta[underlying] = meta
}

// FetchHolding returns the signed perp position for one underlying. An
// underlying with no open position reports zero.
func (c *Client) FetchHolding(ctx context.Context, underlying string) (venue.Holding, error) {
	path := fmt.Sprintf("/api/v1/account?by=index&value=%d", c.accountIndex)
	var data accountResponse
	if err := c.get(ctx, path, &data); err != nil {
		return venue.Holding{}, err
	}
	if len(data.Accounts) == 0 {
		return venue.Holding{}, fmt.Errorf("%w: account %d not found", venue.ErrDataUnavailable, c.accountIndex)
	}
	holding := venue.Holding{Underlying: underlying, AsOf: time.Now()}
	for _, pos := range data.Accounts[0].Positions {
		if pos.Symbol != underlying {
			continue
		}
		qty, err := strconv.ParseFloat(pos.Position, 64)
		if err != nil {
			return venue.Holding{}, fmt.Errorf("%w: bad position %q for %s", venue.ErrDataUnavailable, pos.Position, underlying)
		}
		if pos.Sign < 0 {
			qty = -qty
		}
		holding.Quantity = qty
		break
	}
	return holding, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: http %d", venue.ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: http %d: %s", venue.ErrTransport, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", venue.ErrDataUnavailable, err)
	}
	return nil
}
