package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrFillRegression = errors.New("filled quantity may only grow")
	ErrOverfill       = errors.New("filled quantity exceeds amount")
	ErrDuplicateOrder = errors.New("duplicate order id")
)

// PriceLevel aggregates the open quantity at one price.
type PriceLevel struct {
	Price  *uint256.Int
	Qty    *uint256.Int
	Orders int
}

// bidLess orders bids by price descending, then arrival (ID) ascending, so
// the tree's minimum is the best bid.
func bidLess(a, b *Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return a.ID < b.ID
}

// askLess orders asks by price ascending, then arrival ascending.
func askLess(a, b *Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

type sideKey struct {
	ticker token.Ticker
	side   Side
}

// OrderBook holds one price-time ordered sequence per (ticker, side).
// Orders are never removed: a fully filled order stays with Filled == Amount
// and is skipped by matching.
type OrderBook struct {
	mu    sync.RWMutex
	sides map[sideKey]*btree.BTreeG[*Order]
	index map[uint64]*Order
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		sides: make(map[sideKey]*btree.BTreeG[*Order]),
		index: make(map[uint64]*Order),
	}
}

func (ob *OrderBook) tree(ticker token.Ticker, side Side, create bool) *btree.BTreeG[*Order] {
	k := sideKey{ticker, side}
	t, ok := ob.sides[k]
	if !ok && create {
		const degree = 16
		less := askLess
		if side == Buy {
			less = bidLess
		}
		t = btree.NewG[*Order](degree, less)
		ob.sides[k] = t
	}
	return t
}

// Insert adds a limit order. The book keeps its own copy.
func (ob *OrderBook) Insert(o Order) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, exists := ob.index[o.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateOrder, o.ID)
	}
	cp := o.Clone()
	ob.tree(o.Ticker, o.Side, true).ReplaceOrInsert(&cp)
	ob.index[o.ID] = &cp
	return nil
}

// SetFilled records a new cumulative fill for a resting order.
func (ob *OrderBook) SetFilled(id uint64, filled *uint256.Int) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if filled.Lt(o.Filled) {
		return ErrFillRegression
	}
	if filled.Gt(o.Amount) {
		return ErrOverfill
	}
	o.Filled = filled.Clone()
	return nil
}

// Get returns a copy of the order with the given id.
func (ob *OrderBook) Get(id uint64) (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	o, ok := ob.index[id]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// Orders returns the sequence for (ticker, side) in priority order,
// including fully filled orders.
func (ob *OrderBook) Orders(ticker token.Ticker, side Side) []Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	t := ob.tree(ticker, side, false)
	if t == nil {
		return []Order{}
	}
	out := make([]Order, 0, t.Len())
	t.Ascend(func(o *Order) bool {
		out = append(out, o.Clone())
		return true
	})
	return out
}

// Walk visits orders of (ticker, side) best first until fn returns false.
// fn receives copies and must not call back into the book.
func (ob *OrderBook) Walk(ticker token.Ticker, side Side, fn func(Order) bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	t := ob.tree(ticker, side, false)
	if t == nil {
		return
	}
	t.Ascend(func(o *Order) bool {
		return fn(o.Clone())
	})
}

// Depth returns the number of entries (filled or not) on one side.
func (ob *OrderBook) Depth(ticker token.Ticker, side Side) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if t := ob.tree(ticker, side, false); t != nil {
		return t.Len()
	}
	return 0
}

// Levels aggregates open quantity per price, best price first.
func (ob *OrderBook) Levels(ticker token.Ticker, side Side) []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	var levels []PriceLevel
	t := ob.tree(ticker, side, false)
	if t == nil {
		return levels
	}
	t.Ascend(func(o *Order) bool {
		if o.IsFilled() {
			return true
		}
		n := len(levels)
		if n > 0 && levels[n-1].Price.Eq(o.Price) {
			levels[n-1].Qty.Add(levels[n-1].Qty, o.Remaining())
			levels[n-1].Orders++
			return true
		}
		levels = append(levels, PriceLevel{Price: o.Price.Clone(), Qty: o.Remaining(), Orders: 1})
		return true
	})
	return levels
}

// Tickers returns every ticker that has at least one side, sorted.
func (ob *OrderBook) Tickers() []token.Ticker {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	seen := make(map[token.Ticker]struct{})
	for k := range ob.sides {
		seen[k.ticker] = struct{}{}
	}
	out := make([]token.Ticker, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the total number of orders in the book.
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.index)
}
