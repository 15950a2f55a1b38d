package lighter

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeOrderTx produces the canonical byte form of a create-order tx for
// signing. Fields are written one by one in a fixed order so the encoding
// is deterministic regardless of struct layout or encoder defaults.
func EncodeOrderTx(tx OrderTx) ([]byte, error) {
	if tx.MarketIndex < 0 {
		return nil, errors.New("market index is required")
	}
	if tx.BaseAmount <= 0 {
		return nil, errors.New("base amount must be positive")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(11); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "ai", tx.AccountIndex); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "mi", int64(tx.MarketIndex)); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "ci", tx.ClientOrderIndex); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "ba", tx.BaseAmount); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "p", tx.Price); err != nil {
		return nil, err
	}
	if err := encodeBool(enc, "ia", tx.IsAsk); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "ot", int64(tx.OrderType)); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "tif", int64(tx.TimeInForce)); err != nil {
		return nil, err
	}
	if err := encodeBool(enc, "ro", tx.ReduceOnly); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "ea", tx.ExpiredAt); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("n"); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint(tx.Nonce); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeCancelTx produces the canonical byte form of a cancel tx.
func EncodeCancelTx(tx CancelTx) ([]byte, error) {
	if tx.MarketIndex < 0 {
		return nil, errors.New("market index is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(4); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "ai", tx.AccountIndex); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "mi", int64(tx.MarketIndex)); err != nil {
		return nil, err
	}
	if err := encodeInt(enc, "oi", tx.OrderIndex); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("n"); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint(tx.Nonce); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeInt(enc *msgpack.Encoder, key string, v int64) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeInt(v)
}

func encodeBool(enc *msgpack.Encoder, key string, v bool) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeBool(v)
}
