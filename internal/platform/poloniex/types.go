// Package poloniex implements domain.ExchangeClient against a Poloniex-shaped
// spot exchange REST + WebSocket API: HMAC-signed private endpoints, a public
// WebSocket book-depth stream, and a private WebSocket order/balance stream.
package poloniex

import "time"

// restOrder is the wire shape of a placed/queried order.
type restOrder struct {
	OrderID     string `json:"orderId"`
	ClientOID   string `json:"clientOrderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	Amount      string `json:"amount"`
	FilledQty   string `json:"filledQuantity"`
	FilledAmt   string `json:"filledAmount"`
	State       string `json:"state"`
	CreateTime  int64  `json:"createTime"`
}

type restTrade struct {
	ID              string `json:"id"`
	OrderID         string `json:"orderId"`
	Price           string `json:"price"`
	Quantity        string `json:"quantity"`
	Amount          string `json:"amount"`
	FeeAmount       string `json:"feeAmount"`
	FeeCurrency     string `json:"feeCurrency"`
	MatchRole       string `json:"matchRole"` // MAKER | TAKER
	CreateTime      int64  `json:"createTime"`
}

type restFeeInfo struct {
	Symbol    string `json:"symbol"`
	MakerRate string `json:"makerRate"`
	TakerRate string `json:"takerRate"`
}

// restBalance is one entry of GET /accounts/balances.
type restBalance struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
}

type restErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsBookEvent is one message on the public book-depth channel.
type wsBookEvent struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol    string     `json:"symbol"`
		Asks      [][]string `json:"asks"`
		Bids      [][]string `json:"bids"`
		CreateTime int64     `json:"createTime"`
	} `json:"data"`
}

// wsOrderEvent is one message on the private orders channel.
type wsOrderEvent struct {
	Channel string             `json:"channel"`
	Data    []wsOrderEventData `json:"data"`
}

type wsOrderEventData struct {
	Symbol       string `json:"symbol"`
	OrderID      string `json:"orderId"`
	ClientOID    string `json:"clientOrderId"`
	Type         string `json:"eventType"` // place | trade | canceled
	State        string `json:"state"`
	MatchRole    string `json:"matchRole"`
	TradePrice   string `json:"tradePrice"`
	TradeQty     string `json:"tradeQty"`
	TradeAmount  string `json:"tradeAmount"`
	FeeAmount    string `json:"feeAmount"`
	FilledAmount string `json:"filledAmount"`
	TradeID      string `json:"tradeId"`
	Ts           int64  `json:"ts"`
}

// wsBalanceEvent is one message on the private balances channel.
type wsBalanceEvent struct {
	Channel string `json:"channel"`
	Data    []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Ts        int64  `json:"ts"`
	} `json:"data"`
}

func unixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
