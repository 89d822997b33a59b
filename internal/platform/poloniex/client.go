package poloniex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/ratelimit"
	"github.com/alanyoungcy/arbitron/internal/xsign"
	"github.com/shopspring/decimal"
)

// Client is the REST half of the Poloniex-shaped domain.ExchangeClient
// adapter. Private endpoints are HMAC-signed via xsign.Signer; outbound call
// volume is capped through an injected ratelimit.Limiter so a busy Trader
// never trips the exchange's own rate limit.
type Client struct {
	baseURL      string
	publicWSURL  string
	privateWSURL string
	signer       *xsign.Signer
	httpClient   *http.Client
	limiter      *ratelimit.Limiter
	wsLimiter    *ratelimit.Limiter

	stateMu   sync.Mutex
	stateSubs []chan<- bool
}

// Config holds the parameters needed to construct a Client.
type Config struct {
	BaseURL      string
	PublicWSURL  string
	PrivateWSURL string
	APIKey       string
	Secret       string
}

// New creates a REST + WebSocket client. limiter throttles REST calls;
// wsLimiter throttles outbound WebSocket sends (spec §6.1's 5 msg/s cap).
// Either may be nil to disable local throttling.
func New(cfg Config, limiter, wsLimiter *ratelimit.Limiter) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		publicWSURL:  cfg.PublicWSURL,
		privateWSURL: cfg.PrivateWSURL,
		signer:       xsign.NewSigner(cfg.APIKey, cfg.Secret),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		limiter:      limiter,
		wsLimiter:    wsLimiter,
	}
}

// Place submits a post-only or taker order (spec §4.5/§4.6's Instant/Delayed
// executors both call through this one method, selecting kind accordingly).
func (c *Client) Place(ctx context.Context, market domain.Market, side domain.OrderSide, price, quoteAmount decimal.Decimal, kind domain.OrderKind, clientOrderID string) (domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", market.String())
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", orderTypeParam(kind))
	if kind == domain.FillOrKill {
		params.Set("timeInForce", "FOK")
	}
	params.Set("price", price.String())
	params.Set("amount", quoteAmount.String())
	if clientOrderID != "" {
		params.Set("clientOrderId", clientOrderID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/orders", params)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("poloniex: place %s: %w", market, err)
	}

	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("poloniex: decode place response: %w", err)
	}

	return domain.OrderResult{OrderID: resp.OrderID}, nil
}

// Move atomically cancels and re-issues an order at a new price/amount via
// Poloniex's cancel-replace endpoint, preserving the original clientOrderID
// unless a new one is supplied (spec §4's post-only repricing loop).
func (c *Client) Move(ctx context.Context, orderID string, newPrice decimal.Decimal, newQuoteAmount *decimal.Decimal, kind domain.OrderKind, clientOrderID string) (domain.MoveResult, error) {
	params := url.Values{}
	params.Set("price", newPrice.String())
	if newQuoteAmount != nil {
		params.Set("amount", newQuoteAmount.String())
	}
	if clientOrderID != "" {
		params.Set("clientOrderId", clientOrderID)
	}

	path := fmt.Sprintf("/orders/%s", url.PathEscape(orderID))
	body, err := c.doSigned(ctx, http.MethodPut, path, params)
	if err != nil {
		return domain.MoveResult{}, fmt.Errorf("poloniex: move %s: %w", orderID, err)
	}

	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.MoveResult{}, fmt.Errorf("poloniex: decode move response: %w", err)
	}

	return domain.MoveResult{OrderID: resp.OrderID}, nil
}

// Cancel cancels a live order.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/orders/%s", url.PathEscape(orderID))
	_, err := c.doSigned(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("poloniex: cancel %s: %w", orderID, err)
	}
	return nil
}

// OrderStatus returns the current state of an order. It never returns a nil
// result without an error: an order the exchange does not know (HTTP 404)
// comes back as a "not found" error.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*domain.OrderResult, error) {
	path := fmt.Sprintf("/orders/%s", url.PathEscape(orderID))
	body, err := c.doSigned(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("poloniex: order status %s: %w", orderID, err)
	}

	var o restOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("poloniex: decode order status: %w", err)
	}

	trades, err := c.OrderTrades(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &domain.OrderResult{OrderID: o.OrderID, Trades: trades}, nil
}

// OrderTrades returns the fills recorded so far against an order.
func (c *Client) OrderTrades(ctx context.Context, orderID string) ([]domain.ExchangeTrade, error) {
	path := fmt.Sprintf("/orders/%s/trades", url.PathEscape(orderID))
	body, err := c.doSigned(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("poloniex: order trades %s: %w", orderID, err)
	}

	var raw []restTrade
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("poloniex: decode order trades: %w", err)
	}

	out := make([]domain.ExchangeTrade, 0, len(raw))
	for _, t := range raw {
		amt, err := decimal.NewFromString(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("poloniex: trade %s: parse amount: %w", t.ID, err)
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("poloniex: trade %s: parse price: %w", t.ID, err)
		}
		fee, err := feeMultiplierFromRate(t.MatchRole, t.FeeAmount, t.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ExchangeTrade{
			TradeID:       t.ID,
			Amount:        amt,
			Price:         price,
			FeeMultiplier: fee,
		})
	}
	return out, nil
}

// FeeMultiplier returns the maker/taker fee rates for a market.
func (c *Client) FeeMultiplier(ctx context.Context, market domain.Market) (domain.FeeMultiplier, error) {
	path := fmt.Sprintf("/feeinfo/%s", url.PathEscape(market.String()))
	body, err := c.doSigned(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.FeeMultiplier{}, fmt.Errorf("poloniex: fee info %s: %w", market, err)
	}

	var info restFeeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return domain.FeeMultiplier{}, fmt.Errorf("poloniex: decode fee info: %w", err)
	}

	maker, err := decimal.NewFromString(info.MakerRate)
	if err != nil {
		return domain.FeeMultiplier{}, fmt.Errorf("poloniex: parse maker rate: %w", err)
	}
	taker, err := decimal.NewFromString(info.TakerRate)
	if err != nil {
		return domain.FeeMultiplier{}, fmt.Errorf("poloniex: parse taker rate: %w", err)
	}

	return domain.FeeMultiplier{
		Maker: decimal.NewFromInt(1).Sub(maker),
		Taker: decimal.NewFromInt(1).Sub(taker),
	}, nil
}

// Available returns the spendable balance of currency, with nothing reserved
// against open orders netted out (the exchange already excludes amounts tied
// up in live orders from "available"). Not part of domain.ExchangeClient:
// the balance service is an external collaborator the spec only consumes
// from (spec §2's out-of-scope list), so this is a plain extra method on the
// concrete adapter rather than a domain interface.
func (c *Client) Available(ctx context.Context, currency domain.Currency) (decimal.Decimal, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/accounts/balances", nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("poloniex: balances: %w", err)
	}

	var rows []restBalance
	if err := json.Unmarshal(body, &rows); err != nil {
		return decimal.Decimal{}, fmt.Errorf("poloniex: decode balances: %w", err)
	}

	for _, row := range rows {
		if row.Currency != string(currency) {
			continue
		}
		avail, err := decimal.NewFromString(row.Available)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("poloniex: parse balance %s: %w", currency, err)
		}
		return avail, nil
	}
	return decimal.Zero, nil
}

func orderTypeParam(kind domain.OrderKind) string {
	switch kind {
	case domain.PostOnly:
		return "LIMIT_MAKER"
	case domain.FillOrKill:
		return "LIMIT" // Place adds timeInForce=FOK for this kind
	default:
		return "LIMIT"
	}
}

func feeMultiplierFromRate(matchRole, feeAmount, amount string) (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(feeAmount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("poloniex: parse fee amount: %w", err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil || amt.IsZero() {
		return decimal.NewFromInt(1), nil
	}
	return decimal.NewFromInt(1).Sub(fee.Div(amt)), nil
}

// doSigned issues a signed HTTP request, waiting on the rate limiter first if
// one is configured.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "rest", 10, time.Second); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	if params == nil {
		params = url.Values{}
	}

	headers := c.signer.RESTHeaders(method, path, params)

	fullURL := c.baseURL + path
	var bodyReader io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := params.Encode(); encoded != "" {
			fullURL += "?" + encoded
		}
	} else {
		bodyReader = bytes.NewReader([]byte(params.Encode()))
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr restErrorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		return nil, mapStatusError(resp.StatusCode, apiErr)
	}

	return respBody, nil
}

// broadcastState fans a private-stream connectivity flip out to every
// channel registered via ConnectionStateStream.
func (c *Client) broadcastState(connected bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, ch := range c.stateSubs {
		select {
		case ch <- connected:
		default:
		}
	}
}

func (c *Client) addStateSub(ch chan<- bool) {
	c.stateMu.Lock()
	c.stateSubs = append(c.stateSubs, ch)
	c.stateMu.Unlock()
}

func (c *Client) removeStateSub(ch chan<- bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for i, sub := range c.stateSubs {
		if sub == ch {
			c.stateSubs = append(c.stateSubs[:i], c.stateSubs[i+1:]...)
			return
		}
	}
}

func mapStatusError(statusCode int, apiErr restErrorResponse) error {
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (%d)", apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%d)", apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%d)", apiErr.Message, apiErr.Code)
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
			return domain.ErrNotEnoughCrypto
		}
		return fmt.Errorf("bad request: %s (%d)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%d)", statusCode, apiErr.Message, apiErr.Code)
	}
}
