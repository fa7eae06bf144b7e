package loadgen

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FeederConfig controls transaction generation rate.
type FeederConfig struct {
	BatchSize   int           // txs per tick
	Interval    time.Duration // tick period
	NumAccounts int           // simulated traders
	FundAmount  uint64        // whole tokens deposited per trader and token
}

// DefaultFeederConfig is a modest 100 tx/sec.
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 50,
		FundAmount:  1_000_000,
	}
}

// HighLoadConfig is roughly 1000 tx/sec.
func HighLoadConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   100,
		Interval:    100 * time.Millisecond,
		NumAccounts: 200,
		FundAmount:  1_000_000,
	}
}

// TxPerSecond is the target rate implied by the config.
func (c FeederConfig) TxPerSecond() int {
	if c.Interval <= 0 {
		return 0
	}
	return int(float64(c.BatchSize) * float64(time.Second) / float64(c.Interval))
}

// Pusher accepts raw signed transactions, e.g. abci.App.
type Pusher interface {
	PushTx([]byte)
}

// StartFeeder pushes fund txs once, then a batch of orders every interval
// until ctx is cancelled or the returned cancel func is called.
func StartFeeder(ctx context.Context, p Pusher, gen *Generator, fund [][]byte, cfg FeederConfig, log *zap.SugaredLogger) context.CancelFunc {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	feedCtx, cancel := context.WithCancel(ctx)

	for _, tx := range fund {
		p.PushTx(tx)
	}

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		total := 0
		lastReport := start

		log.Infow("txfeeder_started",
			"target_tps", cfg.TxPerSecond(),
			"batch", cfg.BatchSize,
			"interval", cfg.Interval,
			"accounts", cfg.NumAccounts,
			"fund_txs", len(fund))

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				log.Infow("txfeeder_stopped",
					"total", total,
					"elapsed", elapsed.Round(time.Second),
					"tps", float64(total)/elapsed.Seconds())
				return

			case now := <-ticker.C:
				for _, tx := range gen.GenerateBatch(cfg.BatchSize) {
					p.PushTx(tx)
					total++
				}
				if now.Sub(lastReport) >= 10*time.Second {
					lastReport = now
					st := gen.Stats()
					log.Infow("txfeeder_stats",
						"total", total,
						"tps", float64(total)/now.Sub(start).Seconds(),
						"limit", st.LimitOrders,
						"market", st.MarketOrders)
				}
			}
		}
	}()

	return cancel
}
