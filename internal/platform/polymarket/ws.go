package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultSubscribeChunk is the number of asset ids per subscription frame.
	DefaultSubscribeChunk = 20

	// DefaultSubscribeSpacing separates subscription frames.
	DefaultSubscribeSpacing = 100 * time.Millisecond
)

// PriceChangeHandler is called for every price_change notification.
type PriceChangeHandler func(domain.PriceChange)

// MarketStream is a client for the CLOB market channel. Each Run call owns
// one connection; reconnection is the caller's policy.
type MarketStream struct {
	wsURL   string
	dialer  websocket.Dialer
	chunk   int
	spacing time.Duration
}

// NewMarketStream creates a stream client for the given WebSocket URL.
//
// wsURL is the market channel endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewMarketStream(wsURL string) *MarketStream {
	return &MarketStream{
		wsURL: wsURL,
		dialer: websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		chunk:   DefaultSubscribeChunk,
		spacing: DefaultSubscribeSpacing,
	}
}

// SetSubscribeChunking changes how subscriptions are split into frames.
// Non-positive values keep the current setting.
func (s *MarketStream) SetSubscribeChunking(chunk int, spacing time.Duration) {
	if chunk > 0 {
		s.chunk = chunk
	}
	if spacing > 0 {
		s.spacing = spacing
	}
}

// Run connects, subscribes to assetIDs and delivers price changes to
// handler until the connection drops or ctx is cancelled. A dropped
// connection returns an error wrapping ErrWSDisconnect; cancellation
// returns ctx.Err().
func (s *MarketStream) Run(ctx context.Context, assetIDs []string, handler PriceChangeHandler) error {
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.E(domain.KindTransient, "polymarket/ws: connect",
			fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err))
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := s.subscribe(ctx, conn, assetIDs); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.E(domain.KindTransient, "polymarket/ws: subscribe",
			fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err))
	}

	go pingLoop(conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.E(domain.KindTransient, "polymarket/ws: read",
				fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err))
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		for _, pc := range ParsePriceChanges(message) {
			handler(pc)
		}
	}
}

// subscribe sends assetIDs in chunks, spaced apart.
func (s *MarketStream) subscribe(ctx context.Context, conn *websocket.Conn, assetIDs []string) error {
	for i := 0; i < len(assetIDs); i += s.chunk {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.spacing):
			}
		}
		end := min(i+s.chunk, len(assetIDs))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(WSSubscribe{AssetsIDs: assetIDs[i:end], Type: "market"}); err != nil {
			return err
		}
	}
	return nil
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// ParsePriceChanges extracts price_change notifications from one frame.
// Frames are a single event or a list of events; anything else yields
// nothing.
func ParsePriceChanges(raw []byte) []domain.PriceChange {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var events []WSEvent
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil
		}
	case '{':
		var ev WSEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil
		}
		events = []WSEvent{ev}
	default:
		return nil
	}

	var out []domain.PriceChange
	for _, ev := range events {
		if ev.EventType != "price_change" {
			continue
		}
		ts := parseMillis(ev.Timestamp)
		if len(ev.PriceChanges) == 0 {
			if ev.AssetID != "" {
				out = append(out, priceChange(ev.AssetID, ev.Side, ev.Price, ev.Size, ts))
			}
			continue
		}
		for _, pc := range ev.PriceChanges {
			assetID := pc.AssetID
			if assetID == "" {
				assetID = ev.AssetID
			}
			if assetID == "" {
				continue
			}
			out = append(out, priceChange(assetID, pc.Side, pc.Price, pc.Size, ts))
		}
	}
	return out
}

func priceChange(assetID, side, price, size string, ts time.Time) domain.PriceChange {
	p, _ := decimal.NewFromString(price)
	sz, _ := decimal.NewFromString(size)
	return domain.PriceChange{AssetID: assetID, Side: side, Price: p, Size: sz, Timestamp: ts}
}
