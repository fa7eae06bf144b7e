package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

// Overlay records tentative balance changes on top of a Reader without
// touching it. A multi-leg settlement is evaluated against an Overlay and
// only its Changes are written back, so a failure halfway leaves the base
// untouched.
type Overlay struct {
	base    Reader
	pending map[Key]*uint256.Int
	touched []Key
}

func NewOverlay(base Reader) *Overlay {
	return &Overlay{base: base, pending: make(map[Key]*uint256.Int)}
}

func (o *Overlay) Balance(trader common.Address, ticker token.Ticker) *uint256.Int {
	return o.slot(Key{trader, ticker}).Clone()
}

func (o *Overlay) Credit(trader common.Address, ticker token.Ticker, qty *uint256.Int) {
	b := o.slot(Key{trader, ticker})
	b.Add(b, qty)
}

func (o *Overlay) Debit(trader common.Address, ticker token.Ticker, qty *uint256.Int) error {
	b := o.slot(Key{trader, ticker})
	if b.Lt(qty) {
		return ErrInsufficientBalance
	}
	b.Sub(b, qty)
	return nil
}

// Changes returns the final value of every touched balance, in first-touch order.
func (o *Overlay) Changes() []Entry {
	out := make([]Entry, 0, len(o.touched))
	for _, k := range o.touched {
		out = append(out, Entry{Trader: k.Trader, Ticker: k.Ticker, Amount: o.pending[k].Clone()})
	}
	return out
}

func (o *Overlay) slot(k Key) *uint256.Int {
	b, ok := o.pending[k]
	if !ok {
		b = o.base.Balance(k.Trader, k.Ticker)
		o.pending[k] = b
		o.touched = append(o.touched, k)
	}
	return b
}

var (
	_ Reader = (*Ledger)(nil)
	_ Reader = (*Overlay)(nil)
)
