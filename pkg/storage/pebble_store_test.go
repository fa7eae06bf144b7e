package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/engine"
	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000001")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000002")
)

func wei(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	b := s.NewBatch()
	b.PutQuote("DAI")
	b.PutToken(token.Token{Ticker: "DAI", Address: common.HexToAddress("0x01"), Decimals: 18}, 0)
	b.PutToken(token.Token{Ticker: "ZRX", Address: common.HexToAddress("0x03"), Decimals: 18}, 2)
	b.PutToken(token.Token{Ticker: "REP", Address: common.HexToAddress("0x02"), Decimals: 6}, 1)
	b.PutBalance(ledger.Entry{Trader: alice, Ticker: "DAI", Amount: wei(50)})
	b.PutBalance(ledger.Entry{Trader: bob, Ticker: "REP", Amount: wei(95)})
	b.PutOrder(orderbook.Order{ID: 3, Trader: alice, Side: orderbook.Buy, Ticker: "REP", Amount: wei(10), Filled: wei(5), Price: wei(10), Timestamp: 42})
	b.PutOrder(orderbook.Order{ID: 1, Trader: bob, Side: orderbook.Sell, Ticker: "REP", Amount: wei(1), Filled: new(uint256.Int), Price: wei(12), Timestamp: 40})
	b.PutNonce(alice, 9)
	b.PutMeta(Meta{NextOrderID: 4, NextTradeID: 1, Height: 7})
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Quote != "DAI" {
		t.Errorf("quote = %q, want DAI", snap.Quote)
	}
	wantTickers := []token.Ticker{"DAI", "REP", "ZRX"}
	if len(snap.Tokens) != len(wantTickers) {
		t.Fatalf("tokens = %d, want %d", len(snap.Tokens), len(wantTickers))
	}
	for i, tk := range wantTickers {
		if snap.Tokens[i].Ticker != tk {
			t.Errorf("tokens[%d] = %s, want %s", i, snap.Tokens[i].Ticker, tk)
		}
	}
	if snap.Tokens[1].Decimals != 6 {
		t.Errorf("REP decimals = %d, want 6", snap.Tokens[1].Decimals)
	}

	if len(snap.Balances) != 2 {
		t.Fatalf("balances = %d, want 2", len(snap.Balances))
	}
	for _, e := range snap.Balances {
		switch {
		case e.Trader == alice && e.Ticker == "DAI":
			if !e.Amount.Eq(wei(50)) {
				t.Errorf("alice DAI = %s", e.Amount)
			}
		case e.Trader == bob && e.Ticker == "REP":
			if !e.Amount.Eq(wei(95)) {
				t.Errorf("bob REP = %s", e.Amount)
			}
		default:
			t.Errorf("unexpected balance %+v", e)
		}
	}

	if len(snap.Orders) != 2 || snap.Orders[0].ID != 1 || snap.Orders[1].ID != 3 {
		t.Fatalf("orders = %+v, want ids 1,3", snap.Orders)
	}
	if o := snap.Orders[1]; !o.Filled.Eq(wei(5)) || o.Trader != alice || o.Side != orderbook.Buy || o.Timestamp != 42 {
		t.Errorf("order 3 = %+v", o)
	}
	if snap.Nonces[alice] != 9 {
		t.Errorf("alice nonce = %d, want 9", snap.Nonces[alice])
	}
	if snap.Meta.NextOrderID != 4 || snap.Meta.Height != 7 {
		t.Errorf("meta = %+v", snap.Meta)
	}
}

func TestZeroBalanceIsDeleted(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	b := s.NewBatch()
	b.PutBalance(ledger.Entry{Trader: alice, Ticker: "DAI", Amount: wei(1)})
	b.Commit()

	b = s.NewBatch()
	b.PutBalance(ledger.Entry{Trader: alice, Ticker: "DAI", Amount: new(uint256.Int)})
	b.Commit()

	snap, err := s.LoadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Balances) != 0 {
		t.Errorf("balances = %+v, want none", snap.Balances)
	}
	if !snap.Empty() {
		t.Error("snapshot without quote or tokens should be empty")
	}
}

func TestDiscardWritesNothing(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	b := s.NewBatch()
	b.PutQuote("DAI")
	b.PutBalance(ledger.Entry{Trader: alice, Ticker: "DAI", Amount: wei(1)})
	b.Discard()

	snap, _ := s.LoadSnapshot()
	if snap.Quote != "" || len(snap.Balances) != 0 {
		t.Errorf("discarded batch leaked: %+v", snap)
	}
}

func TestRecentTradesNewestFirst(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	b := s.NewBatch()
	for i := uint64(0); i < 12; i++ {
		b.PutTrade(engine.Trade{
			ID: i, Ticker: "REP", Maker: alice, Taker: bob,
			Amount: wei(1), Price: wei(10), Cost: wei(10), Timestamp: int64(i),
		})
	}
	b.PutTrade(engine.Trade{ID: 12, Ticker: "ZRX", Amount: wei(1), Price: wei(1), Cost: wei(1)})
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	trades, err := s.RecentTrades("REP", 5)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 5 {
		t.Fatalf("trades = %d, want 5", len(trades))
	}
	for i, tr := range trades {
		if want := uint64(11 - i); tr.ID != want {
			t.Errorf("trades[%d].ID = %d, want %d", i, tr.ID, want)
		}
	}
	if !trades[0].Cost.Eq(wei(10)) || trades[0].Maker != alice {
		t.Errorf("trade = %+v", trades[0])
	}

	all, _ := s.RecentTrades("ZRX", 0)
	if len(all) != 1 {
		t.Errorf("ZRX trades = %d, want 1", len(all))
	}
}

func TestBlockRecord(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	b := s.NewBatch()
	b.PutBlock(BlockRecord{Height: 3, Timestamp: 100, TxCount: 4, Rejected: 1, AppHash: common.HexToHash("0xabc")})
	b.Commit()

	r, ok, err := s.Block(3)
	if err != nil || !ok {
		t.Fatalf("Block(3) = %v, %v", ok, err)
	}
	if r.TxCount != 4 || r.Rejected != 1 || r.AppHash != common.HexToHash("0xabc") {
		t.Errorf("block = %+v", r)
	}
	if _, ok, _ := s.Block(4); ok {
		t.Error("Block(4) should not exist")
	}
}
