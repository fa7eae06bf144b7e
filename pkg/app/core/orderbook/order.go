package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q", s)
	}
}

// Order is a limit order resting in the book. Everything but Filled is
// immutable after creation; Filled only grows, up to Amount.
type Order struct {
	ID        uint64
	Trader    common.Address
	Side      Side
	Ticker    token.Ticker
	Amount    *uint256.Int // base asset, smallest unit
	Filled    *uint256.Int
	Price     *uint256.Int // quote smallest units per whole base token
	Timestamp int64        // unix seconds
}

// Remaining returns Amount - Filled.
func (o *Order) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(o.Amount, o.Filled)
}

// IsFilled reports whether the order is logically closed.
func (o *Order) IsFilled() bool {
	return !o.Filled.Lt(o.Amount)
}

// Clone returns a deep copy.
func (o *Order) Clone() Order {
	cp := *o
	cp.Amount = o.Amount.Clone()
	cp.Filled = o.Filled.Clone()
	cp.Price = o.Price.Clone()
	return cp
}
