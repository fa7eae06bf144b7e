// Package events defines what the exchange reports after a state change
// commits, and the sinks that deliver it.
package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/engine"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

type Kind string

const (
	KindTokenAdded   Kind = "token_added"
	KindDeposit      Kind = "deposit"
	KindWithdraw     Kind = "withdraw"
	KindOrderCreated Kind = "order_created"
	KindTrade        Kind = "trade"
)

// Event is a tagged union; exactly one payload matching Kind is set.
type Event struct {
	Kind       Kind        `json:"kind"`
	Height     uint64      `json:"height,omitempty"`
	TokenAdded *TokenAdded `json:"token_added,omitempty"`
	Transfer   *Transfer   `json:"transfer,omitempty"`
	Order      *Order      `json:"order,omitempty"`
	Trade      *Trade      `json:"trade,omitempty"`
}

type TokenAdded struct {
	Ticker   token.Ticker   `json:"ticker"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// Transfer is a deposit into or withdrawal from the ledger.
type Transfer struct {
	Trader common.Address `json:"trader"`
	Ticker token.Ticker   `json:"ticker"`
	Amount *uint256.Int   `json:"amount"`
}

type Order struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	Side      string         `json:"side"`
	Ticker    token.Ticker   `json:"ticker"`
	Amount    *uint256.Int   `json:"amount"`
	Filled    *uint256.Int   `json:"filled"`
	Price     *uint256.Int   `json:"price"`
	Timestamp int64          `json:"timestamp"`
}

type Trade struct {
	ID        uint64         `json:"id"`
	OrderID   uint64         `json:"order_id"`
	Ticker    token.Ticker   `json:"ticker"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker"`
	TakerSide string         `json:"taker_side"`
	Amount    *uint256.Int   `json:"amount"`
	Price     *uint256.Int   `json:"price"`
	Cost      *uint256.Int   `json:"cost"`
	Timestamp int64          `json:"timestamp"`
}

// Ticker returns the token the event concerns.
func (e Event) Ticker() token.Ticker {
	switch {
	case e.TokenAdded != nil:
		return e.TokenAdded.Ticker
	case e.Transfer != nil:
		return e.Transfer.Ticker
	case e.Order != nil:
		return e.Order.Ticker
	case e.Trade != nil:
		return e.Trade.Ticker
	}
	return ""
}

// Accounts returns the traders whose balances the event touches.
func (e Event) Accounts() []common.Address {
	switch {
	case e.Transfer != nil:
		return []common.Address{e.Transfer.Trader}
	case e.Order != nil:
		return []common.Address{e.Order.Trader}
	case e.Trade != nil:
		if e.Trade.Maker == e.Trade.Taker {
			return []common.Address{e.Trade.Maker}
		}
		return []common.Address{e.Trade.Maker, e.Trade.Taker}
	}
	return nil
}

func NewTokenAdded(tok token.Token) Event {
	return Event{Kind: KindTokenAdded, TokenAdded: &TokenAdded{Ticker: tok.Ticker, Address: tok.Address, Decimals: tok.Decimals}}
}

func NewDeposit(trader common.Address, ticker token.Ticker, amount *uint256.Int) Event {
	return Event{Kind: KindDeposit, Transfer: &Transfer{Trader: trader, Ticker: ticker, Amount: amount.Clone()}}
}

func NewWithdraw(trader common.Address, ticker token.Ticker, amount *uint256.Int) Event {
	return Event{Kind: KindWithdraw, Transfer: &Transfer{Trader: trader, Ticker: ticker, Amount: amount.Clone()}}
}

// FromExecution returns OrderCreated for a limit order followed by one
// Trade per fill.
func FromExecution(x *engine.Execution) []Event {
	out := make([]Event, 0, len(x.Trades)+1)
	if x.Kind == engine.Limit {
		out = append(out, Event{Kind: KindOrderCreated, Order: &Order{
			ID:        x.OrderID,
			Trader:    x.Trader,
			Side:      x.Side.String(),
			Ticker:    x.Ticker,
			Amount:    x.Amount.Clone(),
			Filled:    x.Filled.Clone(),
			Price:     x.Price.Clone(),
			Timestamp: x.Timestamp,
		}})
	}
	for _, t := range x.Trades {
		out = append(out, NewTrade(t))
	}
	return out
}

func NewTrade(t engine.Trade) Event {
	return Event{Kind: KindTrade, Trade: &Trade{
		ID:        t.ID,
		OrderID:   t.MakerOrderID,
		Ticker:    t.Ticker,
		Maker:     t.Maker,
		Taker:     t.Taker,
		TakerSide: t.TakerSide.String(),
		Amount:    t.Amount.Clone(),
		Price:     t.Price.Clone(),
		Cost:      t.Cost.Clone(),
		Timestamp: t.Timestamp,
	}}
}
