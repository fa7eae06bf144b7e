package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

type Kind uint8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	if k == Market {
		return "market"
	}
	return "limit"
}

// Trade is one settled match between an incoming order and a resting one.
type Trade struct {
	ID           uint64
	MakerOrderID uint64
	Ticker       token.Ticker
	Maker        common.Address
	Taker        common.Address
	TakerSide    orderbook.Side
	Amount       *uint256.Int // base
	Price        *uint256.Int // maker's price
	Cost         *uint256.Int // quote moved from buyer to seller
	Timestamp    int64
}

// MakerFill is the new cumulative fill of a resting order.
type MakerFill struct {
	OrderID uint64
	Filled  *uint256.Int
}

// Execution is the full effect of one order, computed without mutating the
// engine. Apply commits it; discarding it leaves nothing behind.
type Execution struct {
	Kind   Kind
	Trader common.Address
	Side   orderbook.Side
	Ticker token.Ticker
	Amount *uint256.Int
	Price  *uint256.Int // nil for market orders
	Filled *uint256.Int

	// OrderID is meaningful for limit orders only.
	OrderID   uint64
	Timestamp int64

	Trades     []Trade
	MakerFills []MakerFill
	Balances   []ledger.Entry   // final value of every touched balance
	Resting    *orderbook.Order // limit residual to insert, if any

	baseOrderID, baseTradeID uint64
	nextOrderID, nextTradeID uint64
}

// QuoteVolume sums the cost of every trade.
func (x *Execution) QuoteVolume() *uint256.Int {
	v := new(uint256.Int)
	for _, t := range x.Trades {
		v.Add(v, t.Cost)
	}
	return v
}

// Counters returns the engine's order and trade counters after Apply.
func (x *Execution) Counters() (nextOrderID, nextTradeID uint64) {
	return x.nextOrderID, x.nextTradeID
}
