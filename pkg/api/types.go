package api

import (
	"github.com/uhyunpark/spotdex/pkg/app/core/engine"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/events"
)

// API response types for REST endpoints and WebSocket messages.
// Quantities are decimal strings in the token's smallest unit.

// ==============================
// REST Response Types
// ==============================

type TokenInfo struct {
	Ticker   string `json:"ticker"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Quote    bool   `json:"quote"` // prices are denominated in this token
}

// OrderInfo is a book entry; fully filled orders stay listed.
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Ticker    string `json:"ticker"`
	Side      string `json:"side"` // "buy" or "sell"
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"` // "open" | "partially_filled" | "filled"
	Timestamp int64  `json:"timestamp"`
}

// PriceLevel aggregates the open quantity at one price.
type PriceLevel struct {
	Price  string `json:"price"`
	Size   string `json:"size"`
	Orders int    `json:"orders"`
}

type BookSnapshot struct {
	Ticker string       `json:"ticker"`
	Bids   []PriceLevel `json:"bids"` // high to low
	Asks   []PriceLevel `json:"asks"` // low to high
}

type TradeInfo struct {
	ID        uint64 `json:"id"`
	OrderID   uint64 `json:"orderId"` // resting order that was hit
	Ticker    string `json:"ticker"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	Side      string `json:"side"` // taker side
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Cost      string `json:"cost"`
	Timestamp int64  `json:"timestamp"`
}

type BalanceInfo struct {
	Address string `json:"address"`
	Ticker  string `json:"ticker"`
	Balance string `json:"balance"`
}

type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // last accepted; sign with nonce+1
}

type ChainStatus struct {
	Height      uint64 `json:"height"`
	AppHash     string `json:"appHash"`
	NextOrderID uint64 `json:"nextOrderId"`
	NextTradeID uint64 `json:"nextTradeId"`
	MempoolSize int    `json:"mempoolSize"`
	Custody     string `json:"custody"` // spender to approve before depositing
}

// ==============================
// REST Request Types
// ==============================

// Transactions are posted as signed JSON; see transaction.SignedTransaction.

type SubmitTxResponse struct {
	Status string `json:"status"` // "submitted"
	Hash   string `json:"hash"`
}

// FaucetRequest mints devnet tokens and approves them for deposit.
type FaucetRequest struct {
	Address string `json:"address"`
	Ticker  string `json:"ticker"`
	Amount  string `json:"amount"`
}

type FaucetResponse struct {
	Address   string `json:"address"`
	Ticker    string `json:"ticker"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients, e.g.
// {"op":"subscribe","channels":["trades:REP","account:0x..."]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSAck confirms a subscription change.
type WSAck struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSMessage carries one event to one channel.
type WSMessage struct {
	Channel string       `json:"channel"`
	Event   events.Event `json:"event"`
}

func toTokenInfo(t token.Token, quote token.Ticker) TokenInfo {
	return TokenInfo{
		Ticker:   string(t.Ticker),
		Address:  t.Address.Hex(),
		Decimals: t.Decimals,
		Quote:    t.Ticker == quote,
	}
}

func toOrderInfo(o orderbook.Order) OrderInfo {
	status := "open"
	switch {
	case o.IsFilled():
		status = "filled"
	case !o.Filled.IsZero():
		status = "partially_filled"
	}
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		Ticker:    string(o.Ticker),
		Side:      o.Side.String(),
		Price:     o.Price.Dec(),
		Amount:    o.Amount.Dec(),
		Filled:    o.Filled.Dec(),
		Remaining: o.Remaining().Dec(),
		Status:    status,
		Timestamp: o.Timestamp,
	}
}

func toPriceLevels(levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price.Dec(), Size: l.Qty.Dec(), Orders: l.Orders}
	}
	return out
}

func toTradeInfo(t engine.Trade) TradeInfo {
	return TradeInfo{
		ID:        t.ID,
		OrderID:   t.MakerOrderID,
		Ticker:    string(t.Ticker),
		Maker:     t.Maker.Hex(),
		Taker:     t.Taker.Hex(),
		Side:      t.TakerSide.String(),
		Price:     t.Price.Dec(),
		Amount:    t.Amount.Dec(),
		Cost:      t.Cost.Dec(),
		Timestamp: t.Timestamp,
	}
}
