package poloniex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/ratelimit"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	reconnectDelay = 2 * time.Second
	maxReconnect   = 60 * time.Second
)

// streamConn manages one reconnecting WebSocket connection and fans raw
// messages out to a single handler. Public and private streams each get
// their own streamConn so a private-channel auth failure can't wedge public
// book delivery.
type streamConn struct {
	url     string
	onMsg   func([]byte)
	authed  func(*websocket.Conn) error
	limiter *ratelimit.Limiter
	// onState, if set, is called true once a connection (and auth, if any)
	// succeeds and false whenever the connection drops, so callers can pause
	// repricing during an outage (spec §4.4).
	onState func(bool)

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

func newStreamConn(url string, onMsg func([]byte), authed func(*websocket.Conn) error, limiter *ratelimit.Limiter) *streamConn {
	return &streamConn{url: url, onMsg: onMsg, authed: authed, limiter: limiter, done: make(chan struct{})}
}

func (s *streamConn) run(ctx context.Context) {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectOnce(ctx); err != nil {
			if s.onState != nil {
				s.onState(false)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnect {
				delay = maxReconnect
			}
			continue
		}
		if s.onState != nil {
			s.onState(false)
		}
		delay = reconnectDelay
	}
}

func (s *streamConn) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("poloniex/ws: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if s.authed != nil {
		if err := s.authed(conn); err != nil {
			conn.Close()
			return fmt.Errorf("poloniex/ws: authenticate: %w", err)
		}
	}

	if s.onState != nil {
		s.onState(true)
	}

	go s.pingLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return nil
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return fmt.Errorf("poloniex/ws: read: %w", err)
		}
		s.onMsg(msg)
	}
}

func (s *streamConn) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *streamConn) send(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("poloniex/ws: not connected")
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(context.Background(), "ws_send", 5, time.Second); err != nil {
			return err
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// OrderBookStream subscribes to the public book-depth channel for market and
// publishes full-book snapshots on the returned channel.
func (c *Client) OrderBookStream(ctx context.Context, market domain.Market) (<-chan domain.OrderBook, error) {
	out := make(chan domain.OrderBook, 64)
	symbol := market.String()

	sc := newStreamConn(c.publicWSURL, func(raw []byte) {
		var ev wsBookEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Channel != "book" {
			return
		}
		for _, d := range ev.Data {
			if d.Symbol != symbol {
				continue
			}
			book, err := decodeBook(market, d.Asks, d.Bids, d.CreateTime)
			if err != nil {
				continue
			}
			select {
			case out <- book:
			default:
			}
		}
	}, nil, c.wsLimiter)

	go sc.run(ctx)
	go func() {
		<-ctx.Done()
		close(out)
	}()

	// Subscription is sent once a connection is live; a short retry loop
	// covers the race between dial and the first write.
	go func() {
		for i := 0; i < 20; i++ {
			err := sc.send(map[string]any{
				"event":   "subscribe",
				"channel": []string{"book"},
				"symbols": []string{symbol},
			})
			if err == nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
		}
	}()

	return out, nil
}

// AccountNotificationStream subscribes to the private orders and balances
// channels and multiplexes them onto one domain.AccountNotification channel.
func (c *Client) AccountNotificationStream(ctx context.Context) (<-chan domain.AccountNotification, error) {
	out := make(chan domain.AccountNotification, 256)

	authFn := func(conn *websocket.Conn) error {
		key, ts, sig := c.signer.WSAuthPayload()
		data, err := json.Marshal(map[string]any{
			"event": "subscribe",
			"channel": []string{"auth"},
			"key": key, "signTimestamp": ts, "signature": sig,
		})
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	sc := newStreamConn(c.privateWSURL, func(raw []byte) {
		c.handlePrivateMessage(raw, out)
	}, authFn, c.wsLimiter)
	sc.onState = c.broadcastState

	go sc.run(ctx)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	go func() {
		for i := 0; i < 20; i++ {
			err := sc.send(map[string]any{
				"event":   "subscribe",
				"channel": []string{"orders", "balances"},
			})
			if err == nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
		}
	}()

	return out, nil
}

func (c *Client) handlePrivateMessage(raw []byte, out chan<- domain.AccountNotification) {
	var probe struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return
	}

	switch probe.Channel {
	case "orders":
		var ev wsOrderEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		for _, d := range ev.Data {
			n, ok := decodeOrderEvent(d)
			if ok {
				select {
				case out <- n:
				default:
				}
			}
		}
	case "balances":
		// Balance snapshots are informational only; the core tracks its own
		// committed/available ledger (spec §4.10) and does not key off these.
	}
}

func decodeOrderEvent(d wsOrderEventData) (domain.AccountNotification, bool) {
	switch d.Type {
	case "trade":
		amt, err := decimal.NewFromString(d.TradeAmount)
		if err != nil {
			return domain.AccountNotification{}, false
		}
		price, err := decimal.NewFromString(d.TradePrice)
		if err != nil {
			return domain.AccountNotification{}, false
		}
		fee, err := feeMultiplierFromRate(d.MatchRole, d.FeeAmount, d.TradeAmount)
		if err != nil {
			return domain.AccountNotification{}, false
		}
		return domain.AccountNotification{
			Kind:    domain.NotifyTrade,
			OrderID: d.OrderID,
			Trade: domain.ExchangeTrade{
				TradeID:       d.TradeID,
				Amount:        amt,
				Price:         price,
				FeeMultiplier: fee,
			},
			Timestamp: unixMilliToTime(d.Ts),
		}, true
	case "place":
		return domain.AccountNotification{
			Kind:      domain.NotifyLimitOrderCreated,
			OrderID:   d.OrderID,
			Timestamp: unixMilliToTime(d.Ts),
		}, true
	case "canceled":
		filled, err := decimal.NewFromString(d.FilledAmount)
		if err != nil {
			filled = decimal.Zero
		}
		return domain.AccountNotification{
			Kind:       domain.NotifyOrderUpdate,
			OrderID:    d.OrderID,
			NewAmount:  filled,
			UpdateType: domain.OrderUpdateCancelled,
			Timestamp:  unixMilliToTime(d.Ts),
		}, true
	default:
		return domain.AccountNotification{}, false
	}
}

// ConnectionStateStream reports connectivity flips of the private stream, so
// the Delayed-Trade Processor can pause repricing during an outage (spec
// §4.4's "suspend on disconnect"). Flips are only emitted while an
// AccountNotificationStream is also running, since that is what owns the
// private connection this reports on.
func (c *Client) ConnectionStateStream(ctx context.Context) (<-chan bool, error) {
	out := make(chan bool, 8)
	c.addStateSub(out)
	go func() {
		<-ctx.Done()
		c.removeStateSub(out)
		close(out)
	}()
	return out, nil
}

func decodeBook(market domain.Market, rawAsks, rawBids [][]string, createTime int64) (domain.OrderBook, error) {
	asks, err := decodeLevels(rawAsks)
	if err != nil {
		return domain.OrderBook{}, err
	}
	bids, err := decodeLevels(rawBids)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return domain.OrderBook{
		Market:    market,
		Asks:      asks,
		Bids:      bids,
		Timestamp: unixMilliToTime(createTime),
	}, nil
}

func decodeLevels(raw [][]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("poloniex: parse level price: %w", err)
		}
		size, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("poloniex: parse level size: %w", err)
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// compile-time interface check
var _ domain.ExchangeClient = (*Client)(nil)
