package lighter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"opt-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// Exchange submits signed transactions to the Lighter sendTx endpoint.
// Hedge orders are market orders with an immediate-or-cancel lifetime and
// a caller-supplied worst price. Nonces are monotonic per signer and
// persisted so a restart cannot replay one.
type Exchange struct {
	baseURL      string
	accountIndex int64
	http         *http.Client
	signer       *Signer
	rest         *Client
	log          *zap.Logger

	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	persistMu     sync.Mutex
	persistWarned atomic.Bool
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

func NewExchange(baseURL string, accountIndex int64, timeout time.Duration, signer *Signer, rest *Client, log *zap.Logger) (*Exchange, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if rest == nil {
		return nil, errors.New("rest client is required")
	}
	if baseURL == "" {
		baseURL = "https://mainnet.zklighter.elliot.ai"
	}
	return &Exchange{
		baseURL:      baseURL,
		accountIndex: accountIndex,
		http: &http.Client{
			Timeout: timeout,
		},
		signer: signer,
		rest:   rest,
		log:    log,
	}, nil
}

// PlaceOrder converts the request into a venue-scaled create-order tx,
// signs it and submits it. The returned tx hash identifies the submission
// only; fills are observed through account holdings.
func (e *Exchange) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	if req.Size <= 0 {
		return venue.OrderResult{}, errors.New("order size must be positive")
	}
	if req.LimitPrice <= 0 {
		return venue.OrderResult{}, errors.New("worst price is required")
	}
	meta, err := e.rest.MarketMeta(ctx, req.Underlying)
	if err != nil {
		return venue.OrderResult{}, err
	}
	tx := OrderTx{
		AccountIndex:     e.accountIndex,
		MarketIndex:      meta.MarketID,
		ClientOrderIndex: clientOrderIndex(req.ClientID),
		BaseAmount:       scaleToInt(req.Size, meta.SizeDecimals),
		Price:            scaleToInt(req.LimitPrice, meta.PriceDecimals),
		IsAsk:            !req.IsBuy,
		OrderType:        OrderTypeMarket,
		TimeInForce:      TifImmediateOrCancel,
		ExpiredAt:        time.Now().Add(10 * time.Minute).UnixMilli(),
		Nonce:            e.nextNonce(),
	}
	sig, err := e.signer.SignOrderTx(tx)
	if err != nil {
		return venue.OrderResult{}, err
	}
	resp, err := e.sendTx(ctx, SignedTx{TxType: TxTypeCreateOrder, TxInfo: tx, Signature: sig})
	if err != nil {
		return venue.OrderResult{}, err
	}
	return venue.OrderResult{TxHash: resp.TxHash}, nil
}

// CancelOrder removes a resting order by its client order reference.
func (e *Exchange) CancelOrder(ctx context.Context, underlying, orderRef string) error {
	meta, err := e.rest.MarketMeta(ctx, underlying)
	if err != nil {
		return err
	}
	orderIndex, err := strconv.ParseInt(strings.TrimSpace(orderRef), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad order reference %q", venue.ErrRejected, orderRef)
	}
	tx := CancelTx{
		AccountIndex: e.accountIndex,
		MarketIndex:  meta.MarketID,
		OrderIndex:   orderIndex,
		Nonce:        e.nextNonce(),
	}
	sig, err := e.signer.SignCancelTx(tx)
	if err != nil {
		return err
	}
	_, err = e.sendTx(ctx, SignedTx{TxType: TxTypeCancelOrder, TxInfo: tx, Signature: sig})
	return err
}

func (e *Exchange) sendTx(ctx context.Context, signed SignedTx) (sendTxResponse, error) {
	body, err := json.Marshal(signed)
	if err != nil {
		return sendTxResponse{}, err
	}
	url := e.baseURL + "/api/v1/sendTx"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sendTxResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := e.http.Do(httpReq)
	if err != nil {
		return sendTxResponse{}, fmt.Errorf("%w: %v", venue.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return sendTxResponse{}, fmt.Errorf("%w: http %d", venue.ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return sendTxResponse{}, fmt.Errorf("%w: http %d: %s", venue.ErrTransport, resp.StatusCode, string(payload))
	}
	var data sendTxResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return sendTxResponse{}, fmt.Errorf("%w: decode: %v", venue.ErrTransport, err)
	}
	if err := classifySendTx(data); err != nil {
		return sendTxResponse{}, err
	}
	return data, nil
}

// InitNonceStore seeds the nonce sequence from the store, the clock and
// any nonce already handed out in this process, whichever is largest.
func (e *Exchange) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := nonceStoreKey(e.baseURL, e.signer, e.accountIndex)
	seed := uint64(time.Now().UnixMilli())
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	if current := e.lastNonce.Load(); current > seed {
		seed = current
	}
	e.nonceStore = store
	e.nonceKey = key
	e.lastNonce.Store(seed)
	e.lastPersisted.Store(seed)
	return nil
}

func (e *Exchange) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := e.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if e.lastNonce.CompareAndSwap(prev, next) {
			e.persistNonce(next)
			return next
		}
	}
}

func (e *Exchange) persistNonce(nonce uint64) {
	if e.nonceStore == nil || e.nonceKey == "" {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if nonce <= e.lastPersisted.Load() {
		return
	}
	if err := e.nonceStore.Set(context.Background(), e.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		e.logPersistError(err)
		return
	}
	e.lastPersisted.Store(nonce)
	e.persistWarned.Store(false)
}

func (e *Exchange) logPersistError(err error) {
	if e.log == nil {
		return
	}
	if e.persistWarned.CompareAndSwap(false, true) {
		e.log.Warn("nonce persistence failed", zap.String("nonce_key", e.nonceKey), zap.Error(err))
	}
}

func nonceStoreKey(baseURL string, signer *Signer, accountIndex int64) string {
	addr := "unknown"
	if signer != nil {
		addr = strings.ToLower(signer.Address().Hex())
	}
	return fmt.Sprintf("lighter:nonce:%s:%s:%d", strings.ToLower(strings.TrimSpace(baseURL)), addr, accountIndex)
}

// clientOrderIndex maps a client id onto the numeric index the venue
// expects. Numeric ids pass through; anything else gets a stable hash.
func clientOrderIndex(clientID string) int64 {
	if n, err := strconv.ParseInt(strings.TrimSpace(clientID), 10, 64); err == nil && n >= 0 {
		return n
	}
	h := fnv.New64a()
	h.Write([]byte(clientID))
	return int64(h.Sum64() &^ (1 << 63))
}

func scaleToInt(x float64, decimals int) int64 {
	return int64(math.Round(x * math.Pow10(decimals)))
}
