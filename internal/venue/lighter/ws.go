package lighter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// PriceStream keeps a websocket subscription to market trades so the
// exchange client can cap worst prices against the live market. The
// stream reconnects on read errors and replays subscriptions.
type PriceStream struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []interface{}
}

func NewPriceStream(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *PriceStream {
	return &PriceStream{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

func (s *PriceStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// SubscribeTrades registers a trade channel subscription for one market.
// Subscriptions survive reconnects.
func (s *PriceStream) SubscribeTrades(ctx context.Context, marketID int) error {
	sub := map[string]any{
		"type":    "subscribe",
		"channel": fmt.Sprintf("trade/%d", marketID),
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	return writeJSON(ctx, conn, sub)
}

// TradeUpdate is one price observation from the trade channel.
type TradeUpdate struct {
	MarketID int
	Price    float64
}

type tradeMessage struct {
	Type   string `json:"type"`
	Market int    `json:"market_id"`
	Trades []struct {
		Price string `json:"price"`
	} `json:"trades"`
}

// Run reads trade messages and feeds the handler until ctx is cancelled.
// Read errors trigger a reconnect after the configured delay.
func (s *PriceStream) Run(ctx context.Context, handler func(TradeUpdate)) error {
	for {
		if err := s.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.log != nil {
				s.log.Warn("trade stream connect failed", zap.Error(err))
			}
			s.resetConn()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.reconnectDelay):
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			s.pingLoop(pingCtx)
		}()
		err := s.readLoop(ctx, handler)
		cancel()
		<-pingDone
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logReadLoopError(err)
			s.resetConn()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.reconnectDelay):
			}
			continue
		}
	}
}

func (s *PriceStream) ensureConnected(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	subs := append([]interface{}(nil), s.subs...)
	s.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, sub); err != nil {
			return err
		}
	}
	return nil
}

func (s *PriceStream) readLoop(ctx context.Context, handler func(TradeUpdate)) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler == nil {
			continue
		}
		var msg tradeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if len(msg.Trades) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(msg.Trades[len(msg.Trades)-1].Price, 64)
		if err != nil {
			continue
		}
		handler(TradeUpdate{MarketID: msg.Market, Price: price})
	}
}

func (s *PriceStream) pingLoop(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	interval := s.pingInterval
	s.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (s *PriceStream) logReadLoopError(err error) {
	if s.log == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		s.log.Info("trade stream ended", zap.Error(err))
		return
	}
	s.log.Warn("trade stream ended", zap.Error(err))
}

func (s *PriceStream) resetConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "reset")
		s.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"type": "ping"}
