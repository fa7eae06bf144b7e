// Package abci sequences transactions into blocks for the exchange. It plays
// the part of the host chain: the only source of ordering the exchange sees.
package abci

import (
	"context"
	"time"

	"github.com/uhyunpark/spotdex/pkg/app/core/mempool"
	"github.com/uhyunpark/spotdex/pkg/app/dex"
)

type RequestPrepareProposal struct {
	Height     uint64
	MaxTxBytes int64
}
type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestFinalizeBlock struct {
	Height uint64
	Time   time.Time
	Txs    [][]byte
}
type ResponseFinalizeBlock struct {
	Result *dex.BlockResult
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	FinalizeBlock(context.Context, RequestFinalizeBlock) (ResponseFinalizeBlock, error)
	LastHeight() uint64
}

// App binds the exchange to a mempool.
type App struct {
	Dex     *dex.Dex
	Mempool *mempool.Mempool
}

func NewApp(d *dex.Dex) *App {
	return &App{Dex: d, Mempool: mempool.NewMempool()}
}

// PushTx queues a raw signed transaction for the next block.
func (a *App) PushTx(b []byte) { a.Mempool.PushRaw(b) }

func (a *App) PrepareProposal(req RequestPrepareProposal) ResponsePrepareProposal {
	return ResponsePrepareProposal{Txs: a.Mempool.SelectForProposal(req.MaxTxBytes)}
}

func (a *App) FinalizeBlock(ctx context.Context, req RequestFinalizeBlock) (ResponseFinalizeBlock, error) {
	res, err := a.Dex.FinalizeBlock(ctx, req.Height, req.Time, req.Txs)
	if err != nil {
		return ResponseFinalizeBlock{}, err
	}
	return ResponseFinalizeBlock{Result: res}, nil
}

func (a *App) LastHeight() uint64 { return a.Dex.Status().Height }

var _ Application = (*App)(nil)
