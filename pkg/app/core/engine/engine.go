// Package engine validates and matches incoming orders against the book and
// settles fills by moving ledger balances.
//
// Every order is first planned against a ledger.Overlay. Only a plan that
// ran to completion is applied, so a rejection at any leg leaves the ledger
// and book as they were.
package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/util"
)

// Engine is a single-writer state machine: Plan and Apply must be
// serialized by the caller. Reads through Book and Ledger are safe at any time.
type Engine struct {
	registry *token.Registry
	ledger   *ledger.Ledger
	book     *orderbook.OrderBook
	clock    util.Clock

	nextOrderID uint64
	nextTradeID uint64
}

func New(reg *token.Registry, led *ledger.Ledger, book *orderbook.OrderBook, clock util.Clock) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{registry: reg, ledger: led, book: book, clock: clock}
}

func (e *Engine) Registry() *token.Registry  { return e.registry }
func (e *Engine) Ledger() *ledger.Ledger     { return e.ledger }
func (e *Engine) Book() *orderbook.OrderBook { return e.book }
func (e *Engine) NextOrderID() uint64        { return e.nextOrderID }
func (e *Engine) NextTradeID() uint64        { return e.nextTradeID }

// SetCounters restores id counters after a reload.
func (e *Engine) SetCounters(nextOrderID, nextTradeID uint64) {
	e.nextOrderID = nextOrderID
	e.nextTradeID = nextTradeID
}

// Cost returns floor(qty * price / 10^decimals). Price is in quote smallest
// units per whole base token.
func Cost(qty, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if decimals > token.MaxDecimals {
		return nil, ErrOverflow
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	z, overflow := new(uint256.Int).MulDivOverflow(qty, price, scale)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// PlanLimit computes the effect of a limit order. Crossing liquidity is taken
// at the resting order's price; the residual rests with Filled set to what
// matched on arrival. A fully matched limit order is not inserted.
func (e *Engine) PlanLimit(trader common.Address, ticker token.Ticker, amount, price *uint256.Int, side orderbook.Side) (*Execution, error) {
	tok, err := e.validate(ticker, amount)
	if err != nil {
		return nil, err
	}
	if price == nil || price.IsZero() {
		return nil, ErrInvalidPrice
	}

	quote := e.registry.Quote()
	switch side {
	case orderbook.Sell:
		if e.ledger.Balance(trader, ticker).Lt(amount) {
			return nil, ErrInsufficientBaseBalance
		}
	case orderbook.Buy:
		need, err := Cost(amount, price, tok.Decimals)
		if err != nil {
			return nil, err
		}
		if e.ledger.Balance(trader, quote).Lt(need) {
			return nil, ErrInsufficientQuoteBalance
		}
	}

	x := e.newExecution(Limit, trader, ticker, amount, side)
	x.Price = price.Clone()
	x.OrderID = e.nextOrderID
	x.nextOrderID++

	if err := e.match(x, tok); err != nil {
		return nil, err
	}

	if x.Filled.Lt(amount) {
		x.Resting = &orderbook.Order{
			ID:        x.OrderID,
			Trader:    trader,
			Side:      side,
			Ticker:    ticker,
			Amount:    amount.Clone(),
			Filled:    x.Filled.Clone(),
			Price:     price.Clone(),
			Timestamp: x.Timestamp,
		}
	}
	return x, nil
}

// PlanMarket computes the effect of a market order. It matches until filled
// or the opposite side is exhausted; an unfilled remainder is dropped.
// A buy fails as a whole if the accumulated cost exceeds the quote balance.
func (e *Engine) PlanMarket(trader common.Address, ticker token.Ticker, amount *uint256.Int, side orderbook.Side) (*Execution, error) {
	tok, err := e.validate(ticker, amount)
	if err != nil {
		return nil, err
	}
	if side == orderbook.Sell && e.ledger.Balance(trader, ticker).Lt(amount) {
		return nil, ErrInsufficientBaseBalance
	}

	x := e.newExecution(Market, trader, ticker, amount, side)
	if err := e.match(x, tok); err != nil {
		return nil, err
	}
	return x, nil
}

func (e *Engine) validate(ticker token.Ticker, amount *uint256.Int) (token.Token, error) {
	tok, err := e.registry.Get(ticker)
	if err != nil {
		return token.Token{}, err
	}
	if ticker == e.registry.Quote() {
		return token.Token{}, ErrQuoteAssetNotTradable
	}
	if amount == nil || amount.IsZero() {
		return token.Token{}, ErrInvalidAmount
	}
	return tok, nil
}

func (e *Engine) newExecution(kind Kind, trader common.Address, ticker token.Ticker, amount *uint256.Int, side orderbook.Side) *Execution {
	return &Execution{
		Kind:        kind,
		Trader:      trader,
		Side:        side,
		Ticker:      ticker,
		Amount:      amount.Clone(),
		Filled:      new(uint256.Int),
		Timestamp:   e.clock.Now().Unix(),
		baseOrderID: e.nextOrderID,
		baseTradeID: e.nextTradeID,
		nextOrderID: e.nextOrderID,
		nextTradeID: e.nextTradeID,
	}
}

// match walks the opposite side best-first and settles each fill on an
// overlay. x.Price bounds the walk for limit orders.
func (e *Engine) match(x *Execution, tok token.Token) error {
	quote := e.registry.Quote()
	ov := ledger.NewOverlay(e.ledger)
	remaining := x.Amount.Clone()

	var matchErr error
	e.book.Walk(x.Ticker, x.Side.Opposite(), func(o orderbook.Order) bool {
		if remaining.IsZero() {
			return false
		}
		if o.IsFilled() {
			return true
		}
		if x.Price != nil && !crosses(x.Side, x.Price, o.Price) {
			return false
		}

		qty := o.Remaining()
		if remaining.Lt(qty) {
			qty.Set(remaining)
		}
		cost, err := Cost(qty, o.Price, tok.Decimals)
		if err != nil {
			matchErr = err
			return false
		}

		buyer, seller := x.Trader, o.Trader
		if x.Side == orderbook.Sell {
			buyer, seller = o.Trader, x.Trader
		}
		// the leg is blamed on the taker only when it is the taker's side,
		// so a sell hitting the taker's own bid reports the bid as underfunded
		if err := ov.Debit(buyer, quote, cost); err != nil {
			matchErr = shortfall(x.Side == orderbook.Buy, ErrInsufficientQuoteBalance)
			return false
		}
		ov.Credit(buyer, x.Ticker, qty)
		if err := ov.Debit(seller, x.Ticker, qty); err != nil {
			matchErr = shortfall(x.Side == orderbook.Sell, ErrInsufficientBaseBalance)
			return false
		}
		ov.Credit(seller, quote, cost)

		x.Trades = append(x.Trades, Trade{
			ID:           x.nextTradeID,
			MakerOrderID: o.ID,
			Ticker:       x.Ticker,
			Maker:        o.Trader,
			Taker:        x.Trader,
			TakerSide:    x.Side,
			Amount:       qty.Clone(),
			Price:        o.Price.Clone(),
			Cost:         cost,
			Timestamp:    x.Timestamp,
		})
		x.nextTradeID++
		x.MakerFills = append(x.MakerFills, MakerFill{
			OrderID: o.ID,
			Filled:  new(uint256.Int).Add(o.Filled, qty),
		})
		remaining.Sub(remaining, qty)
		return true
	})
	if matchErr != nil {
		return matchErr
	}

	x.Filled.Sub(x.Amount, remaining)
	x.Balances = ov.Changes()
	return nil
}

func crosses(side orderbook.Side, limit, resting *uint256.Int) bool {
	if side == orderbook.Buy {
		return !resting.Gt(limit)
	}
	return !resting.Lt(limit)
}

// Resting orders do not reserve funds, so a maker can be short at match
// time. That rejects the incoming order rather than skipping the maker.
func shortfall(isTaker bool, takerErr error) error {
	if isTaker {
		return takerErr
	}
	return ErrCounterpartyUnderfunded
}

// Apply commits an execution produced by the last Plan call.
func (e *Engine) Apply(x *Execution) error {
	if x.baseOrderID != e.nextOrderID || x.baseTradeID != e.nextTradeID {
		return ErrStalePlan
	}
	e.ledger.Apply(x.Balances)
	for _, f := range x.MakerFills {
		if err := e.book.SetFilled(f.OrderID, f.Filled); err != nil {
			return fmt.Errorf("apply fill of order %d: %w", f.OrderID, err)
		}
	}
	if x.Resting != nil {
		if err := e.book.Insert(*x.Resting); err != nil {
			return fmt.Errorf("rest order %d: %w", x.Resting.ID, err)
		}
	}
	e.nextOrderID = x.nextOrderID
	e.nextTradeID = x.nextTradeID
	return nil
}

// CreateLimitOrder plans and applies a limit order.
func (e *Engine) CreateLimitOrder(trader common.Address, ticker token.Ticker, amount, price *uint256.Int, side orderbook.Side) (*Execution, error) {
	x, err := e.PlanLimit(trader, ticker, amount, price, side)
	if err != nil {
		return nil, err
	}
	return x, e.Apply(x)
}

// CreateMarketOrder plans and applies a market order.
func (e *Engine) CreateMarketOrder(trader common.Address, ticker token.Ticker, amount *uint256.Int, side orderbook.Side) (*Execution, error) {
	x, err := e.PlanMarket(trader, ticker, amount, side)
	if err != nil {
		return nil, err
	}
	return x, e.Apply(x)
}
