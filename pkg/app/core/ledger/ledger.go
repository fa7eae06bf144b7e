// Package ledger tracks per-trader, per-token balances held by the exchange.
//
// Balances are internal accounting only; custody of the underlying tokens is
// handled by the deposit/withdraw path. The sum of balances for a ticker never
// exceeds what the exchange holds of that token, so credits cannot overflow.
package ledger

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

var ErrInsufficientBalance = errors.New("balance too low")

// Key identifies one balance record.
type Key struct {
	Trader common.Address
	Ticker token.Ticker
}

// Entry is a balance record.
type Entry struct {
	Trader common.Address
	Ticker token.Ticker
	Amount *uint256.Int
}

// Reader is the read side shared by Ledger and Overlay.
type Reader interface {
	Balance(trader common.Address, ticker token.Ticker) *uint256.Int
}

// Ledger is the authoritative balance table.
type Ledger struct {
	mu       sync.RWMutex
	balances map[Key]*uint256.Int
}

func New() *Ledger {
	return &Ledger{balances: make(map[Key]*uint256.Int)}
}

// Balance returns a copy of the trader's balance (zero if absent).
func (l *Ledger) Balance(trader common.Address, ticker token.Ticker) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[Key{trader, ticker}]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Credit increases a balance.
func (l *Ledger) Credit(trader common.Address, ticker token.Ticker, qty *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.slotLocked(Key{trader, ticker})
	b.Add(b, qty)
}

// Debit decreases a balance, failing with ErrInsufficientBalance if it would
// go negative.
func (l *Ledger) Debit(trader common.Address, ticker token.Ticker, qty *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.slotLocked(Key{trader, ticker})
	if b.Lt(qty) {
		return ErrInsufficientBalance
	}
	b.Sub(b, qty)
	return nil
}

// Apply overwrites balances with the given final values in one step.
func (l *Ledger) Apply(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		l.balances[Key{e.Trader, e.Ticker}] = e.Amount.Clone()
	}
}

// Total sums all balances of ticker.
func (l *Ledger) Total(ticker token.Ticker) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := new(uint256.Int)
	for k, b := range l.balances {
		if k.Ticker == ticker {
			total.Add(total, b)
		}
	}
	return total
}

// Entries returns all non-zero balances sorted by trader then ticker.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.balances))
	for k, b := range l.balances {
		if b.IsZero() {
			continue
		}
		out = append(out, Entry{Trader: k.Trader, Ticker: k.Ticker, Amount: b.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Trader[:], out[j].Trader[:]); c != 0 {
			return c < 0
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

func (l *Ledger) slotLocked(k Key) *uint256.Int {
	b, ok := l.balances[k]
	if !ok {
		b = new(uint256.Int)
		l.balances[k] = b
	}
	return b
}
