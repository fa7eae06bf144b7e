package orderbook

import (
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

func TestProperty_SidesStayPriceTimeOrdered(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := NewOrderBook()
		n := rapid.IntRange(1, 60).Draw(t, "n")
		for i := 0; i < n; i++ {
			side := Side(rapid.IntRange(0, 1).Draw(t, fmt.Sprintf("side-%d", i)))
			// narrow range to force price ties
			price := rapid.Uint64Range(1, 8).Draw(t, fmt.Sprintf("price-%d", i))
			if err := ob.Insert(newOrder(uint64(i), side, price, 1)); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}

		for _, side := range []Side{Buy, Sell} {
			var prev *Order
			ob.Walk("REP", side, func(o Order) bool {
				if prev != nil {
					c := o.Price.Cmp(prev.Price)
					if side == Buy && c > 0 || side == Sell && c < 0 {
						t.Fatalf("%s side: price %s after %s", side, o.Price, prev.Price)
					}
					if c == 0 && o.ID < prev.ID {
						t.Fatalf("%s side: id %d after %d at equal price", side, o.ID, prev.ID)
					}
				}
				cur := o
				prev = &cur
				return true
			})
		}

		if got := ob.Depth("REP", Buy) + ob.Depth("REP", Sell); got != n {
			t.Fatalf("depth = %d, want %d", got, n)
		}
	})
}

func TestProperty_FilledNeverExceedsAmount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := NewOrderBook()
		amount := rapid.Uint64Range(1, 100).Draw(t, "amount")
		ob.Insert(newOrder(0, Buy, 10, amount))

		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			next := rapid.Uint64Range(0, 120).Draw(t, fmt.Sprintf("fill-%d", i))
			ob.SetFilled(0, uint256.NewInt(next))

			o, _ := ob.Get(0)
			if o.Filled.Gt(o.Amount) {
				t.Fatalf("filled %s > amount %s", o.Filled, o.Amount)
			}
		}
	})
}
