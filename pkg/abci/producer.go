package abci

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotdex/pkg/app/dex"
	"github.com/uhyunpark/spotdex/pkg/util"
)

// Producer cuts a block every BlockTime from whatever the mempool holds.
// Empty rounds produce no block.
type Producer struct {
	App        Application
	Clock      util.Clock
	BlockTime  time.Duration
	MaxTxBytes int64
	Logger     *zap.SugaredLogger

	// OnCommit runs after every finalized block.
	OnCommit func(*dex.BlockResult)
}

// Run produces blocks until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	p.defaults()
	p.Logger.Infow("producer_started", "block_time_ms", p.BlockTime.Milliseconds(), "height", p.App.LastHeight())
	for {
		select {
		case <-ctx.Done():
			p.Logger.Infow("producer_stopped", "height", p.App.LastHeight())
			return ctx.Err()
		case <-p.Clock.After(p.BlockTime):
		}
		if _, err := p.Step(ctx); err != nil {
			p.Logger.Errorw("finalize_failed", "err", err)
			return err
		}
	}
}

// Step produces at most one block. It returns nil when the mempool was empty.
func (p *Producer) Step(ctx context.Context) (*dex.BlockResult, error) {
	p.defaults()
	height := p.App.LastHeight() + 1
	prep := p.App.PrepareProposal(RequestPrepareProposal{Height: height, MaxTxBytes: p.MaxTxBytes})
	if len(prep.Txs) == 0 {
		return nil, nil
	}

	resp, err := p.App.FinalizeBlock(ctx, RequestFinalizeBlock{
		Height: height,
		Time:   p.Clock.Now(),
		Txs:    prep.Txs,
	})
	if err != nil {
		return nil, err
	}
	res := resp.Result
	p.Logger.Infow("block_finalized",
		"height", res.Height,
		"txs", len(res.Txs),
		"rejected", res.Rejected,
		"fills", res.Fills,
		"app_hash", res.AppHash.Hex(),
	)
	if p.OnCommit != nil {
		p.OnCommit(res)
	}
	return res, nil
}

func (p *Producer) defaults() {
	if p.Clock == nil {
		p.Clock = util.RealClock{}
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop().Sugar()
	}
	if p.BlockTime <= 0 {
		p.BlockTime = 200 * time.Millisecond
	}
}
