package dex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/spotdex/pkg/app/core/engine"
	"github.com/uhyunpark/spotdex/pkg/app/core/transaction"
	"github.com/uhyunpark/spotdex/pkg/events"
	"github.com/uhyunpark/spotdex/pkg/storage"
)

var ErrHeightNotIncreasing = errors.New("block height must increase")

// TxResult is the outcome of one signed transaction.
type TxResult struct {
	Hash      common.Hash
	Type      transaction.TxType
	Owner     common.Address
	Execution *engine.Execution // orders only
	Err       error
}

func (r TxResult) OK() bool { return r.Err == nil }

// ApplyTx verifies and executes a single signed transaction outside of a block.
func (d *Dex) ApplyTx(ctx context.Context, raw []byte) TxResult {
	d.mu.Lock()
	res, evs := d.applyTx(raw)
	d.mu.Unlock()
	d.publish(ctx, evs)
	return res
}

func (d *Dex) applyTx(raw []byte) (TxResult, []events.Event) {
	res := TxResult{Hash: ethcrypto.Keccak256Hash(raw)}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		res.Err = err
		return res, nil
	}
	res.Type = tx.Type

	a, err := d.verifier.Verify(tx)
	if err != nil {
		res.Err = err
		return res, nil
	}
	res.Owner = a.Owner

	if last := d.nonces[a.Owner]; a.Nonce <= last {
		res.Err = fmt.Errorf("%w: got %d, last %d", ErrNonceTooLow, a.Nonce, last)
		return res, nil
	}
	n := &nonceUpdate{owner: a.Owner, nonce: a.Nonce}

	var evs []events.Event
	switch a.Type {
	case transaction.TxTypeAddToken:
		_, evs, err = d.addToken(a.Owner, a.Ticker, a.Token, n)
	case transaction.TxTypeDeposit:
		evs, err = d.deposit(a.Owner, a.Ticker, a.Amount, n)
	case transaction.TxTypeWithdraw:
		evs, err = d.withdraw(a.Owner, a.Ticker, a.Amount, n)
	case transaction.TxTypeLimitOrder:
		res.Execution, evs, err = d.createLimitOrder(a.Owner, a.Ticker, a.Amount, a.Price, a.Side, n)
	case transaction.TxTypeMarketOrder:
		res.Execution, evs, err = d.createMarketOrder(a.Owner, a.Ticker, a.Amount, a.Side, n)
	default:
		err = fmt.Errorf("%w: unknown transaction type: %s", transaction.ErrMalformed, a.Type)
	}
	if err != nil {
		d.log.Debugw("tx_rejected", "tx", res.Hash.Hex(), "type", a.Type, "owner", a.Owner.Hex(), "err", err)
		res.Err = err
		return res, nil
	}
	return res, evs
}

// BlockResult summarises a finalized block.
type BlockResult struct {
	Height    uint64
	Timestamp int64
	Txs       []TxResult
	Fills     int
	Rejected  int
	AppHash   common.Hash
}

// FinalizeBlock executes txs in order with the block timestamp as the order
// clock, then records the block and the resulting state hash. A rejected tx
// does not fail the block.
func (d *Dex) FinalizeBlock(ctx context.Context, height uint64, ts time.Time, txs [][]byte) (*BlockResult, error) {
	d.mu.Lock()

	if height <= d.height {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %d after %d", ErrHeightNotIncreasing, height, d.height)
	}

	d.clock.Set(ts)

	res := &BlockResult{Height: height, Timestamp: ts.Unix(), Txs: make([]TxResult, 0, len(txs))}
	var evs []events.Event
	for _, raw := range txs {
		r, txEvs := d.applyTx(raw)
		res.Txs = append(res.Txs, r)
		if !r.OK() {
			res.Rejected++
			continue
		}
		if r.Execution != nil {
			res.Fills += len(r.Execution.Trades)
		}
		evs = append(evs, txEvs...)
	}
	d.clock.Clear()
	res.AppHash = d.stateHash()

	b := d.store.NewBatch()
	b.PutBlock(storage.BlockRecord{
		Height:    height,
		Timestamp: res.Timestamp,
		TxCount:   len(txs),
		Rejected:  res.Rejected,
		AppHash:   res.AppHash,
	})
	b.PutMeta(storage.Meta{
		NextOrderID: d.engine.NextOrderID(),
		NextTradeID: d.engine.NextTradeID(),
		Height:      height,
		AppHash:     res.AppHash,
	})
	if err := b.Commit(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("record block %d: %w", height, err)
	}
	d.height = height
	d.appHash = res.AppHash
	d.mu.Unlock()

	for i := range evs {
		evs[i].Height = height
	}
	d.publish(ctx, evs)
	return res, nil
}

// Block returns the stored summary of a finalized block.
func (d *Dex) Block(height uint64) (storage.BlockRecord, bool, error) {
	return d.store.Block(height)
}
