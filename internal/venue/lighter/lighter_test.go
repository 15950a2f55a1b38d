package lighter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"opt-hedge-bot/internal/venue"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

func TestEncodeOrderTxDeterministic(t *testing.T) {
	tx := OrderTx{
		AccountIndex:     42,
		MarketIndex:      2,
		ClientOrderIndex: 1700000000001,
		BaseAmount:       8000,
		Price:            21930,
		IsAsk:            false,
		OrderType:        OrderTypeMarket,
		TimeInForce:      TifImmediateOrCancel,
		ExpiredAt:        1700000600000,
		Nonce:            1700000000000,
	}
	b1, err := EncodeOrderTx(tx)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	b2, err := EncodeOrderTx(tx)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected deterministic encoding")
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(b1, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got := decoded["mi"]; got != int8(2) && got != int64(2) {
		t.Fatalf("unexpected market index %v (%T)", got, got)
	}
	if got := decoded["ia"]; got != false {
		t.Fatalf("unexpected is_ask %v", got)
	}
}

func TestEncodeOrderTxRejectsBadAmount(t *testing.T) {
	if _, err := EncodeOrderTx(OrderTx{MarketIndex: 1, BaseAmount: 0}); err == nil {
		t.Fatal("expected error for zero base amount")
	}
}

func TestSignerRecover(t *testing.T) {
	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2")
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	tx := OrderTx{
		AccountIndex: 42,
		MarketIndex:  2,
		BaseAmount:   8000,
		Price:        21930,
		OrderType:    OrderTypeMarket,
		Nonce:        1700000000000,
	}
	sig, err := signer.SignOrderTx(tx)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	payload, err := EncodeOrderTx(tx)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	digest := accounts.TextHash(crypto.Keccak256(payload))

	r, err := hexutil.Decode(sig.R)
	if err != nil {
		t.Fatalf("decode r: %v", err)
	}
	s, err := hexutil.Decode(sig.S)
	if err != nil {
		t.Fatalf("decode s: %v", err)
	}
	raw := append(append([]byte{}, r...), s...)
	raw = append(raw, byte(sig.V-27))
	pubKey, err := crypto.SigToPub(digest, raw)
	if err != nil {
		t.Fatalf("recover error: %v", err)
	}
	if recovered := crypto.PubkeyToAddress(*pubKey); recovered != signer.Address() {
		t.Fatalf("expected %s, got %s", signer.Address().Hex(), recovered.Hex())
	}
}

func TestFetchHoldingParsesSignedPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("value"); got != "42" {
			t.Errorf("unexpected account index %s", got)
		}
		w.Write([]byte(`{"accounts":[{"positions":[
			{"market_id":2,"symbol":"SOL","sign":-1,"position":"1.5"},
			{"market_id":0,"symbol":"ETH","sign":1,"position":"0.4"}
		]}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 42, time.Second, zap.NewNop())
	holding, err := c.FetchHolding(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("fetch holding: %v", err)
	}
	if holding.Quantity != -1.5 {
		t.Fatalf("expected -1.5, got %v", holding.Quantity)
	}

	holding, err = c.FetchHolding(context.Background(), "HYPE")
	if err != nil {
		t.Fatalf("fetch holding: %v", err)
	}
	if holding.Quantity != 0 {
		t.Fatalf("expected zero for absent position, got %v", holding.Quantity)
	}
}

func TestMarketMetaCachesCatalogue(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"order_book_details":[
			{"symbol":"SOL","market_id":2,"size_decimals":4,"price_decimals":3,"min_base_amount":"0.0050","last_trade_price":219.3},
			{"symbol":"ETH","market_id":0,"size_decimals":4,"price_decimals":2,"min_base_amount":"0.0050","last_trade_price":3100.5}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 42, time.Second, zap.NewNop())
	meta, err := c.MarketMeta(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("market meta: %v", err)
	}
	if meta.MarketID != 2 || meta.SizeDecimals != 4 || meta.MinBaseAmount != 0.005 {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if _, err := c.MarketMeta(context.Background(), "ETH"); err != nil {
		t.Fatalf("market meta: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single catalogue fetch, got %d", calls)
	}
	if _, err := c.MarketMeta(context.Background(), "DOGE"); !errors.Is(err, venue.ErrDataUnavailable) {
		t.Fatalf("expected data unavailable for unknown market, got %v", err)
	}
}

func TestSetLastTradePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_book_details":[{"symbol":"SOL","market_id":2,"size_decimals":4,"price_decimals":3,"min_base_amount":"0.0050","last_trade_price":219.3}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 42, time.Second, zap.NewNop())
	if _, err := c.MarketMeta(context.Background(), "SOL"); err != nil {
		t.Fatalf("market meta: %v", err)
	}
	c.SetLastTradePrice("SOL", 221.1)
	meta, err := c.MarketMeta(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("market meta: %v", err)
	}
	if meta.LastTradePrice != 221.1 {
		t.Fatalf("expected updated price, got %v", meta.LastTradePrice)
	}
}

func TestPlaceOrderScalesAndClassifies(t *testing.T) {
	var captured SignedTx
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/orderBookDetails", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_book_details":[{"symbol":"SOL","market_id":2,"size_decimals":4,"price_decimals":3,"min_base_amount":"0.0050","last_trade_price":219.3}]}`))
	})
	mux.HandleFunc("/api/v1/sendTx", func(w http.ResponseWriter, r *http.Request) {
		captured = SignedTx{}
		var body struct {
			TxType    int       `json:"tx_type"`
			TxInfo    OrderTx   `json:"tx_info"`
			Signature Signature `json:"signature"`
		}
		if err := jsonDecode(r, &body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		captured.TxType = body.TxType
		captured.TxInfo = body.TxInfo
		captured.Signature = body.Signature
		w.Write([]byte(`{"code":200,"tx_hash":"0xabc"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	rest := NewClient(srv.URL, 42, time.Second, zap.NewNop())
	ex, err := NewExchange(srv.URL, 42, time.Second, signer, rest, zap.NewNop())
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	res, err := ex.PlaceOrder(context.Background(), venue.OrderRequest{
		Underlying: "SOL",
		IsBuy:      true,
		Size:       0.8,
		LimitPrice: 221.493,
		ClientID:   "1700000000001",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if res.TxHash != "0xabc" {
		t.Fatalf("unexpected tx hash %s", res.TxHash)
	}
	tx := captured.TxInfo.(OrderTx)
	if tx.BaseAmount != 8000 {
		t.Fatalf("expected base amount 8000, got %d", tx.BaseAmount)
	}
	if tx.Price != 221493 {
		t.Fatalf("expected price 221493, got %d", tx.Price)
	}
	if tx.IsAsk {
		t.Fatal("buy order must not be an ask")
	}
	if tx.ClientOrderIndex != 1700000000001 {
		t.Fatalf("unexpected client order index %d", tx.ClientOrderIndex)
	}
	if captured.TxType != TxTypeCreateOrder {
		t.Fatalf("unexpected tx type %d", captured.TxType)
	}
}

func TestPlaceOrderRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/orderBookDetails", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_book_details":[{"symbol":"SOL","market_id":2,"size_decimals":4,"price_decimals":3,"min_base_amount":"0.0050","last_trade_price":219.3}]}`))
	})
	mux.HandleFunc("/api/v1/sendTx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":21505,"message":"insufficient margin"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	rest := NewClient(srv.URL, 42, time.Second, zap.NewNop())
	ex, err := NewExchange(srv.URL, 42, time.Second, signer, rest, zap.NewNop())
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	_, err = ex.PlaceOrder(context.Background(), venue.OrderRequest{
		Underlying: "SOL",
		IsBuy:      false,
		Size:       0.8,
		LimitPrice: 217.1,
		ClientID:   "1",
	})
	if !errors.Is(err, venue.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestClassifySendTx(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{code: 200, want: nil},
		{code: 21101, want: venue.ErrAuth},
		{code: 21505, want: venue.ErrRejected},
		{code: 500, want: venue.ErrTransport},
	}
	for _, tc := range cases {
		err := classifySendTx(sendTxResponse{Code: tc.code})
		if tc.want == nil {
			if err != nil {
				t.Errorf("code %d: unexpected error %v", tc.code, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("code %d: got %v, want %v", tc.code, err, tc.want)
		}
	}
}

func TestClientOrderIndex(t *testing.T) {
	if got := clientOrderIndex("12345"); got != 12345 {
		t.Fatalf("numeric id must pass through, got %d", got)
	}
	a := clientOrderIndex("hedge-SOL-1")
	b := clientOrderIndex("hedge-SOL-1")
	if a != b {
		t.Fatalf("hash must be stable: %d vs %d", a, b)
	}
	if a < 0 {
		t.Fatalf("index must be non-negative, got %d", a)
	}
}

func jsonDecode(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
