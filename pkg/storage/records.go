package storage

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/engine"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

// Meta holds the counters that must survive a restart.
type Meta struct {
	NextOrderID uint64      `json:"next_order_id"`
	NextTradeID uint64      `json:"next_trade_id"`
	Height      uint64      `json:"height"`
	AppHash     common.Hash `json:"app_hash"`
}

// BlockRecord summarizes one finalized block.
type BlockRecord struct {
	Height    uint64      `json:"height"`
	Timestamp int64       `json:"timestamp"`
	TxCount   int         `json:"tx_count"`
	Rejected  int         `json:"rejected"`
	AppHash   common.Hash `json:"app_hash"`
}

type tokenRecord struct {
	Ticker   token.Ticker   `json:"ticker"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Index    int            `json:"index"`
}

type orderRecord struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	Side      orderbook.Side `json:"side"`
	Ticker    token.Ticker   `json:"ticker"`
	Amount    *uint256.Int   `json:"amount"`
	Filled    *uint256.Int   `json:"filled"`
	Price     *uint256.Int   `json:"price"`
	Timestamp int64          `json:"timestamp"`
}

func toOrderRecord(o orderbook.Order) orderRecord {
	return orderRecord{
		ID:        o.ID,
		Trader:    o.Trader,
		Side:      o.Side,
		Ticker:    o.Ticker,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Price:     o.Price,
		Timestamp: o.Timestamp,
	}
}

func (r orderRecord) order() orderbook.Order {
	return orderbook.Order{
		ID:        r.ID,
		Trader:    r.Trader,
		Side:      r.Side,
		Ticker:    r.Ticker,
		Amount:    r.Amount,
		Filled:    r.Filled,
		Price:     r.Price,
		Timestamp: r.Timestamp,
	}
}

type tradeRecord struct {
	ID           uint64         `json:"id"`
	MakerOrderID uint64         `json:"maker_order_id"`
	Ticker       token.Ticker   `json:"ticker"`
	Maker        common.Address `json:"maker"`
	Taker        common.Address `json:"taker"`
	TakerSide    orderbook.Side `json:"taker_side"`
	Amount       *uint256.Int   `json:"amount"`
	Price        *uint256.Int   `json:"price"`
	Cost         *uint256.Int   `json:"cost"`
	Timestamp    int64          `json:"timestamp"`
}

func toTradeRecord(t engine.Trade) tradeRecord {
	return tradeRecord(t)
}

func (r tradeRecord) trade() engine.Trade {
	return engine.Trade(r)
}
