package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

var (
	trader1 = common.HexToAddress("0x1100000000000000000000000000000000000001")
	trader2 = common.HexToAddress("0x2200000000000000000000000000000000000002")
	trader3 = common.HexToAddress("0x3300000000000000000000000000000000000003")
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                         { return c.t }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// wei scales whole tokens to 18 decimals.
func wei(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg := token.NewRegistry("DAI")
	for i, tk := range []token.Ticker{"DAI", "BAT", "REP", "ZRX"} {
		addr := common.BytesToAddress([]byte{0xC0, byte(i + 1)})
		if _, err := reg.AddToken(tk, addr, 18); err != nil {
			t.Fatalf("AddToken(%s): %v", tk, err)
		}
	}
	clock := fixedClock{time.Unix(1_700_000_000, 0)}
	return New(reg, ledger.New(), orderbook.NewOrderBook(), clock)
}

func deposit(e *Engine, who common.Address, tk token.Ticker, amt *uint256.Int) {
	e.Ledger().Credit(who, tk, amt)
}

func balance(e *Engine, who common.Address, tk token.Ticker) *uint256.Int {
	return e.Ledger().Balance(who, tk)
}

type snapshot struct {
	entries []ledger.Entry
	bids    []orderbook.Order
	asks    []orderbook.Order
	orderID uint64
	tradeID uint64
}

func takeSnapshot(e *Engine, tk token.Ticker) snapshot {
	return snapshot{
		entries: e.Ledger().Entries(),
		bids:    e.Book().Orders(tk, orderbook.Buy),
		asks:    e.Book().Orders(tk, orderbook.Sell),
		orderID: e.NextOrderID(),
		tradeID: e.NextTradeID(),
	}
}

func TestScenarioLimitBuyRests(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))

	if _, err := e.CreateLimitOrder(trader1, "REP", wei(10), wei(10), orderbook.Buy); err != nil {
		t.Fatalf("CreateLimitOrder: %v", err)
	}

	bids := e.Book().Orders("REP", orderbook.Buy)
	if len(bids) != 1 {
		t.Fatalf("bids = %d, want 1", len(bids))
	}
	if !bids[0].Price.Eq(wei(10)) {
		t.Errorf("price = %s, want %s", bids[0].Price, wei(10))
	}
	if !bids[0].Filled.IsZero() {
		t.Errorf("filled = %s, want 0", bids[0].Filled)
	}
	if bids[0].Timestamp != 1_700_000_000 {
		t.Errorf("timestamp = %d", bids[0].Timestamp)
	}
	// no funds are reserved
	if !balance(e, trader1, "DAI").Eq(wei(100)) {
		t.Errorf("DAI = %s, want %s", balance(e, trader1, "DAI"), wei(100))
	}
}

func TestScenarioMarketSellFillsBid(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))
	if _, err := e.CreateLimitOrder(trader1, "REP", wei(10), wei(10), orderbook.Buy); err != nil {
		t.Fatalf("CreateLimitOrder: %v", err)
	}
	deposit(e, trader2, "REP", wei(100))

	x, err := e.CreateMarketOrder(trader2, "REP", wei(5), orderbook.Sell)
	if err != nil {
		t.Fatalf("CreateMarketOrder: %v", err)
	}

	bids := e.Book().Orders("REP", orderbook.Buy)
	if !bids[0].Filled.Eq(wei(5)) {
		t.Errorf("bid filled = %s, want %s", bids[0].Filled, wei(5))
	}

	tests := []struct {
		who  common.Address
		tk   token.Ticker
		want *uint256.Int
	}{
		{trader1, "DAI", wei(50)},
		{trader1, "REP", wei(5)},
		{trader2, "DAI", wei(50)},
		{trader2, "REP", wei(95)},
	}
	for _, tt := range tests {
		if got := balance(e, tt.who, tt.tk); !got.Eq(tt.want) {
			t.Errorf("%s %s = %s, want %s", tt.who.Hex()[:6], tt.tk, got, tt.want)
		}
	}

	if len(x.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(x.Trades))
	}
	tr := x.Trades[0]
	if tr.Maker != trader1 || tr.Taker != trader2 || tr.MakerOrderID != 0 {
		t.Errorf("trade = %+v", tr)
	}
	if !tr.Cost.Eq(wei(50)) {
		t.Errorf("cost = %s, want %s", tr.Cost, wei(50))
	}
	if e.NextTradeID() != 1 {
		t.Errorf("next trade id = %d, want 1", e.NextTradeID())
	}
}

func TestScenarioQuoteAssetNotTradable(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(1000))

	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		_, err := e.CreateLimitOrder(trader1, "DAI", wei(1), wei(1), side)
		if !errors.Is(err, ErrQuoteAssetNotTradable) {
			t.Errorf("limit %s: err = %v, want %v", side, err, ErrQuoteAssetNotTradable)
		}
		_, err = e.CreateMarketOrder(trader1, "DAI", wei(1), side)
		if !errors.Is(err, ErrQuoteAssetNotTradable) {
			t.Errorf("market %s: err = %v, want %v", side, err, ErrQuoteAssetNotTradable)
		}
	}
	if ErrQuoteAssetNotTradable.Error() != "cannot trade quote asset" {
		t.Errorf("message = %q", ErrQuoteAssetNotTradable.Error())
	}
}

func TestScenarioMarketBuyUnderfundedIsAtomic(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "REP", wei(100))
	deposit(e, trader3, "REP", wei(100))
	e.CreateLimitOrder(trader1, "REP", wei(5), wei(10), orderbook.Sell)
	e.CreateLimitOrder(trader3, "REP", wei(5), wei(12), orderbook.Sell)

	// 50 covers the first level but not the second
	deposit(e, trader2, "DAI", wei(80))
	before := takeSnapshot(e, "REP")

	_, err := e.CreateMarketOrder(trader2, "REP", wei(10), orderbook.Buy)
	if !errors.Is(err, ErrInsufficientQuoteBalance) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientQuoteBalance)
	}
	if err.Error() != "dai balance too low" {
		t.Errorf("message = %q", err.Error())
	}
	if after := takeSnapshot(e, "REP"); !reflect.DeepEqual(before, after) {
		t.Errorf("state changed by rejected order\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestUnknownToken(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateLimitOrder(trader1, "FOO", wei(1), wei(1), orderbook.Buy)
	if !errors.Is(err, token.ErrUnknownToken) {
		t.Fatalf("err = %v, want %v", err, token.ErrUnknownToken)
	}
	if err.Error() != "token does not exist" {
		t.Errorf("message = %q", err.Error())
	}
	if _, err := e.CreateMarketOrder(trader1, "FOO", wei(1), orderbook.Sell); !errors.Is(err, token.ErrUnknownToken) {
		t.Errorf("market err = %v", err)
	}
}

func TestPreTradeBalanceChecks(t *testing.T) {
	tests := []struct {
		name    string
		fund    token.Ticker
		amount  *uint256.Int
		run     func(e *Engine) error
		wantErr error
	}{
		{
			name: "limit sell without base", fund: "REP", amount: wei(4),
			run: func(e *Engine) error {
				_, err := e.CreateLimitOrder(trader1, "REP", wei(5), wei(1), orderbook.Sell)
				return err
			},
			wantErr: ErrInsufficientBaseBalance,
		},
		{
			name: "limit buy without quote", fund: "DAI", amount: wei(49),
			run: func(e *Engine) error {
				_, err := e.CreateLimitOrder(trader1, "REP", wei(5), wei(10), orderbook.Buy)
				return err
			},
			wantErr: ErrInsufficientQuoteBalance,
		},
		{
			name: "limit buy exactly funded", fund: "DAI", amount: wei(50),
			run: func(e *Engine) error {
				_, err := e.CreateLimitOrder(trader1, "REP", wei(5), wei(10), orderbook.Buy)
				return err
			},
		},
		{
			name: "market sell without base", fund: "REP", amount: wei(1),
			run: func(e *Engine) error {
				_, err := e.CreateMarketOrder(trader1, "REP", wei(2), orderbook.Sell)
				return err
			},
			wantErr: ErrInsufficientBaseBalance,
		},
		{
			name: "zero amount", fund: "DAI", amount: wei(1),
			run: func(e *Engine) error {
				_, err := e.CreateLimitOrder(trader1, "REP", new(uint256.Int), wei(1), orderbook.Buy)
				return err
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "zero price", fund: "DAI", amount: wei(1),
			run: func(e *Engine) error {
				_, err := e.CreateLimitOrder(trader1, "REP", wei(1), new(uint256.Int), orderbook.Buy)
				return err
			},
			wantErr: ErrInvalidPrice,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			deposit(e, trader1, tt.fund, tt.amount)
			err := tt.run(e)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if e.Book().Len() != 0 {
				t.Errorf("book has %d orders after rejection", e.Book().Len())
			}
		})
	}
}

func TestMarketBuyWalksPriceThenTime(t *testing.T) {
	e := newTestEngine(t)
	for _, who := range []common.Address{trader1, trader3} {
		deposit(e, who, "REP", wei(100))
	}
	e.CreateLimitOrder(trader1, "REP", wei(3), wei(12), orderbook.Sell) // id 0
	e.CreateLimitOrder(trader1, "REP", wei(2), wei(11), orderbook.Sell) // id 1
	e.CreateLimitOrder(trader3, "REP", wei(2), wei(11), orderbook.Sell) // id 2

	deposit(e, trader2, "DAI", wei(1000))
	x, err := e.CreateMarketOrder(trader2, "REP", wei(5), orderbook.Buy)
	if err != nil {
		t.Fatalf("CreateMarketOrder: %v", err)
	}

	wantMakers := []uint64{1, 2, 0}
	if len(x.Trades) != len(wantMakers) {
		t.Fatalf("trades = %d, want %d", len(x.Trades), len(wantMakers))
	}
	for i, id := range wantMakers {
		if x.Trades[i].MakerOrderID != id {
			t.Errorf("trade %d maker = %d, want %d", i, x.Trades[i].MakerOrderID, id)
		}
		if x.Trades[i].ID != uint64(i) {
			t.Errorf("trade %d id = %d", i, x.Trades[i].ID)
		}
	}
	// 2*11 + 2*11 + 1*12
	if got := x.QuoteVolume(); !got.Eq(wei(56)) {
		t.Errorf("volume = %s, want %s", got, wei(56))
	}
	if got := balance(e, trader2, "DAI"); !got.Eq(wei(944)) {
		t.Errorf("taker DAI = %s, want %s", got, wei(944))
	}
	if got := balance(e, trader2, "REP"); !got.Eq(wei(5)) {
		t.Errorf("taker REP = %s, want %s", got, wei(5))
	}
	ask, _ := e.Book().Get(0)
	if !ask.Filled.Eq(wei(1)) {
		t.Errorf("order 0 filled = %s, want %s", ask.Filled, wei(1))
	}
}

func TestMarketOrderExhaustsBook(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))
	e.CreateLimitOrder(trader1, "REP", wei(2), wei(10), orderbook.Buy)
	deposit(e, trader2, "REP", wei(10))

	x, err := e.CreateMarketOrder(trader2, "REP", wei(10), orderbook.Sell)
	if err != nil {
		t.Fatalf("CreateMarketOrder: %v", err)
	}
	if !x.Filled.Eq(wei(2)) {
		t.Errorf("filled = %s, want %s", x.Filled, wei(2))
	}
	if x.Resting != nil {
		t.Error("market order must not rest")
	}
	if got := e.Book().Depth("REP", orderbook.Sell); got != 0 {
		t.Errorf("asks = %d, want 0", got)
	}
	if got := balance(e, trader2, "REP"); !got.Eq(wei(8)) {
		t.Errorf("REP = %s, want %s", got, wei(8))
	}
}

func TestMarketOrderOnEmptyBook(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(1))
	x, err := e.CreateMarketOrder(trader1, "REP", wei(5), orderbook.Buy)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if !x.Filled.IsZero() || len(x.Trades) != 0 {
		t.Errorf("execution = %+v, want no fills", x)
	}
}

func TestLimitOrderCrossesAndRestsResidual(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "REP", wei(100))
	e.CreateLimitOrder(trader1, "REP", wei(4), wei(9), orderbook.Sell)  // id 0
	e.CreateLimitOrder(trader1, "REP", wei(4), wei(11), orderbook.Sell) // id 1, does not cross

	deposit(e, trader2, "DAI", wei(100))
	x, err := e.CreateLimitOrder(trader2, "REP", wei(6), wei(10), orderbook.Buy)
	if err != nil {
		t.Fatalf("CreateLimitOrder: %v", err)
	}
	if x.OrderID != 2 {
		t.Errorf("order id = %d, want 2", x.OrderID)
	}
	if len(x.Trades) != 1 || !x.Trades[0].Price.Eq(wei(9)) {
		t.Fatalf("trades = %+v, want one at maker price 9", x.Trades)
	}

	bids := e.Book().Orders("REP", orderbook.Buy)
	if len(bids) != 1 {
		t.Fatalf("bids = %d, want 1", len(bids))
	}
	if bids[0].ID != 2 || !bids[0].Amount.Eq(wei(6)) || !bids[0].Filled.Eq(wei(4)) {
		t.Errorf("resting = id %d amount %s filled %s", bids[0].ID, bids[0].Amount, bids[0].Filled)
	}
	if got := balance(e, trader2, "DAI"); !got.Eq(wei(64)) {
		t.Errorf("DAI = %s, want %s", got, wei(64))
	}
	ask1, _ := e.Book().Get(1)
	if !ask1.Filled.IsZero() {
		t.Errorf("non-crossing ask filled = %s", ask1.Filled)
	}
}

func TestLimitOrderFullyMatchedDoesNotRest(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))
	e.CreateLimitOrder(trader1, "REP", wei(5), wei(10), orderbook.Buy)

	deposit(e, trader2, "REP", wei(5))
	x, err := e.CreateLimitOrder(trader2, "REP", wei(5), wei(8), orderbook.Sell)
	if err != nil {
		t.Fatalf("CreateLimitOrder: %v", err)
	}
	if x.Resting != nil {
		t.Errorf("resting = %+v, want nil", x.Resting)
	}
	if got := e.Book().Depth("REP", orderbook.Sell); got != 0 {
		t.Errorf("asks = %d, want 0", got)
	}
	// matched at the bid's price, not the seller's limit
	if got := balance(e, trader2, "DAI"); !got.Eq(wei(50)) {
		t.Errorf("seller DAI = %s, want %s", got, wei(50))
	}
	if e.NextOrderID() != 2 {
		t.Errorf("next order id = %d, want 2", e.NextOrderID())
	}
}

func TestFilledOrdersAreSkipped(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))
	deposit(e, trader3, "DAI", wei(100))
	e.CreateLimitOrder(trader1, "REP", wei(2), wei(10), orderbook.Buy) // id 0
	e.CreateLimitOrder(trader3, "REP", wei(2), wei(10), orderbook.Buy) // id 1

	deposit(e, trader2, "REP", wei(10))
	if _, err := e.CreateMarketOrder(trader2, "REP", wei(2), orderbook.Sell); err != nil {
		t.Fatalf("first sell: %v", err)
	}
	x, err := e.CreateMarketOrder(trader2, "REP", wei(2), orderbook.Sell)
	if err != nil {
		t.Fatalf("second sell: %v", err)
	}
	if len(x.Trades) != 1 || x.Trades[0].MakerOrderID != 1 {
		t.Errorf("trades = %+v, want one against order 1", x.Trades)
	}
	// filled orders remain visible
	if got := len(e.Book().Orders("REP", orderbook.Buy)); got != 2 {
		t.Errorf("bids = %d, want 2", got)
	}
}

func TestUnderfundedMakerRejectsTaker(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))
	e.CreateLimitOrder(trader1, "REP", wei(10), wei(10), orderbook.Buy)
	// maker spends the quote elsewhere; nothing was reserved
	if err := e.Ledger().Debit(trader1, "DAI", wei(60)); err != nil {
		t.Fatal(err)
	}

	deposit(e, trader2, "REP", wei(10))
	before := takeSnapshot(e, "REP")
	_, err := e.CreateMarketOrder(trader2, "REP", wei(5), orderbook.Sell)
	if !errors.Is(err, ErrCounterpartyUnderfunded) {
		t.Fatalf("err = %v, want %v", err, ErrCounterpartyUnderfunded)
	}
	if after := takeSnapshot(e, "REP"); !reflect.DeepEqual(before, after) {
		t.Error("state changed by rejected order")
	}
}

func TestApplyRejectsStalePlan(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))

	a, err := e.PlanLimit(trader1, "REP", wei(1), wei(10), orderbook.Buy)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.PlanLimit(trader1, "REP", wei(1), wei(10), orderbook.Buy)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Apply(a); err != nil {
		t.Fatalf("Apply(a): %v", err)
	}
	if err := e.Apply(b); !errors.Is(err, ErrStalePlan) {
		t.Errorf("Apply(b) err = %v, want %v", err, ErrStalePlan)
	}
	if e.Book().Len() != 1 {
		t.Errorf("book len = %d, want 1", e.Book().Len())
	}
}

func TestPlanDoesNotMutate(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))
	e.CreateLimitOrder(trader1, "REP", wei(10), wei(10), orderbook.Buy)
	deposit(e, trader2, "REP", wei(10))

	before := takeSnapshot(e, "REP")
	x, err := e.PlanMarket(trader2, "REP", wei(5), orderbook.Sell)
	if err != nil {
		t.Fatal(err)
	}
	if len(x.Balances) != 4 {
		t.Errorf("touched balances = %d, want 4", len(x.Balances))
	}
	if after := takeSnapshot(e, "REP"); !reflect.DeepEqual(before, after) {
		t.Error("Plan mutated state")
	}
}

func TestCostRoundsDown(t *testing.T) {
	tests := []struct {
		qty, price *uint256.Int
		decimals   uint8
		want       uint64
	}{
		{uint256.NewInt(3), uint256.NewInt(5e17), 18, 1},
		{uint256.NewInt(1), uint256.NewInt(1), 18, 0},
		{uint256.NewInt(7), uint256.NewInt(3), 0, 21},
		{uint256.NewInt(150), uint256.NewInt(3), 2, 4},
	}
	for _, tt := range tests {
		got, err := Cost(tt.qty, tt.price, tt.decimals)
		if err != nil {
			t.Fatalf("Cost: %v", err)
		}
		if got.Uint64() != tt.want {
			t.Errorf("Cost(%s, %s, %d) = %s, want %d", tt.qty, tt.price, tt.decimals, got, tt.want)
		}
	}

	max := new(uint256.Int).SetAllOne()
	if _, err := Cost(max, max, 0); !errors.Is(err, ErrOverflow) {
		t.Errorf("overflow err = %v, want %v", err, ErrOverflow)
	}
}

// 10^d wraps past 77 decimals; a wrapped scale would price trades at zero.
func TestCostRejectsUnrepresentableScale(t *testing.T) {
	for _, d := range []uint8{token.MaxDecimals + 1, 80, 200, 255} {
		got, err := Cost(wei(1), wei(1000), d)
		if !errors.Is(err, ErrOverflow) {
			t.Errorf("Cost(decimals=%d) = %v, %v; want %v", d, got, err, ErrOverflow)
		}
	}
	got, err := Cost(uint256.NewInt(5), uint256.NewInt(1), token.MaxDecimals)
	if err != nil || !got.IsZero() {
		t.Errorf("Cost(decimals=77) = %v, %v; want 0, nil", got, err)
	}
}

// Prices are quote smallest units per whole base token, so the raw price 10
// of the reference contract tests means 10 wei of DAI per REP here.
func TestPriceIsPerWholeToken(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", uint256.NewInt(10))

	// 10 wei REP at 10 wei DAI per REP costs floor(100/1e18) = 0
	x, err := e.CreateLimitOrder(trader1, "REP", uint256.NewInt(10), uint256.NewInt(10), orderbook.Buy)
	if err != nil {
		t.Fatalf("raw-unit buy: %v", err)
	}
	if x.Resting == nil {
		t.Fatal("buy did not rest")
	}

	// one whole REP at 11 wei DAI needs 11 wei
	if _, err := e.CreateLimitOrder(trader1, "REP", wei(1), uint256.NewInt(11), orderbook.Buy); !errors.Is(err, ErrInsufficientQuoteBalance) {
		t.Errorf("whole-token buy err = %v, want %v", err, ErrInsufficientQuoteBalance)
	}
	need, err := Cost(wei(1), uint256.NewInt(10), 18)
	if err != nil || !need.Eq(uint256.NewInt(10)) {
		t.Errorf("Cost(1 REP, 10) = %v, %v; want 10", need, err)
	}
}

func TestSelfMatchBlamesRestingOrder(t *testing.T) {
	e := newTestEngine(t)
	deposit(e, trader1, "DAI", wei(100))
	deposit(e, trader1, "REP", wei(10))
	e.CreateLimitOrder(trader1, "REP", wei(5), wei(10), orderbook.Buy)
	// the bid's quote is gone; the sell below has all the REP it needs
	if err := e.Ledger().Debit(trader1, "DAI", wei(100)); err != nil {
		t.Fatal(err)
	}

	before := takeSnapshot(e, "REP")
	for _, plan := range []func() (*Execution, error){
		func() (*Execution, error) { return e.PlanMarket(trader1, "REP", wei(5), orderbook.Sell) },
		func() (*Execution, error) { return e.PlanLimit(trader1, "REP", wei(5), wei(10), orderbook.Sell) },
	} {
		if _, err := plan(); !errors.Is(err, ErrCounterpartyUnderfunded) {
			t.Errorf("self sell err = %v, want %v", err, ErrCounterpartyUnderfunded)
		}
	}
	if after := takeSnapshot(e, "REP"); !reflect.DeepEqual(before, after) {
		t.Error("state changed by rejected self match")
	}
}
