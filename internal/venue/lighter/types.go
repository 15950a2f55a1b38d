package lighter

// Tx type codes from the Lighter transaction schema.
const (
	TxTypeCreateOrder = 14
	TxTypeCancelOrder = 15
)

// Order type and time-in-force codes. Hedge orders go out as market
// orders with an immediate-or-cancel lifetime and a worst-price cap.
const (
	OrderTypeMarket = 1

	TifImmediateOrCancel = 0
	TifGoodTillTime      = 1
)

// OrderTx is the create-order transaction body. BaseAmount and Price are
// venue-scaled integers (size_decimals and price_decimals from the order
// book metadata).
type OrderTx struct {
	AccountIndex     int64  `json:"account_index"`
	MarketIndex      int    `json:"market_index"`
	ClientOrderIndex int64  `json:"client_order_index"`
	BaseAmount       int64  `json:"base_amount"`
	Price            int64  `json:"price"`
	IsAsk            bool   `json:"is_ask"`
	OrderType        int    `json:"type"`
	TimeInForce      int    `json:"time_in_force"`
	ReduceOnly       bool   `json:"reduce_only"`
	ExpiredAt        int64  `json:"expired_at"`
	Nonce            uint64 `json:"nonce"`
}

// CancelTx removes a resting order by index.
type CancelTx struct {
	AccountIndex int64  `json:"account_index"`
	MarketIndex  int    `json:"market_index"`
	OrderIndex   int64  `json:"order_index"`
	Nonce        uint64 `json:"nonce"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// SignedTx is the sendTx request envelope.
type SignedTx struct {
	TxType    int       `json:"tx_type"`
	TxInfo    any       `json:"tx_info"`
	Signature Signature `json:"signature"`
}
