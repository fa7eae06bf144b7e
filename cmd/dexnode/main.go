package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotdex/params"
	"github.com/uhyunpark/spotdex/pkg/abci"
	"github.com/uhyunpark/spotdex/pkg/api"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/app/dex"
	"github.com/uhyunpark/spotdex/pkg/app/loadgen"
	"github.com/uhyunpark/spotdex/pkg/crypto"
	"github.com/uhyunpark/spotdex/pkg/events"
	"github.com/uhyunpark/spotdex/pkg/storage"
	"github.com/uhyunpark/spotdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "verbose", cfg.Log.Verbose)

	admin, err := adminSigner(cfg.Exchange.AdminKey, sugar)
	if err != nil {
		sugar.Fatalw("admin_key_invalid", "err", err)
	}

	// ---- Devnet chain: token contracts live in memory ----
	tickers := cfg.Exchange.Tokens
	if len(tickers) == 0 {
		tickers = []string{cfg.Exchange.QuoteTicker}
	}
	chain := token.NewMemChain(admin.Address())
	contracts := make(map[token.Ticker]*token.MemToken, len(tickers))
	addrs := make(map[token.Ticker]common.Address, len(tickers))
	for _, t := range tickers {
		addr, erc := chain.Deploy(t, 18)
		contracts[token.Ticker(t)] = erc
		addrs[token.Ticker(t)] = addr
	}
	// the exchange contract is the admin's next deployment
	custody := ethcrypto.CreateAddress(admin.Address(), uint64(len(tickers)))
	domain := crypto.NewDomain(cfg.Exchange.ChainID, custody)

	// ---- Storage ----
	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	// ---- Event sinks ----
	hub := api.NewHub(sugar)
	sinks := events.FanOut{events.NewLogSink(sugar), hub}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer ks.Close()
		sinks = append(sinks, ks)
		sugar.Infow("kafka_sink_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- Exchange ----
	d, err := dex.Open(dex.Config{
		Store:    store,
		Resolver: chain,
		Quote:    token.Ticker(cfg.Exchange.QuoteTicker),
		Admin:    admin.Address(),
		Custody:  custody,
		Domain:   domain,
		Sink:     sinks,
		Logger:   sugar,
	})
	if err != nil {
		sugar.Fatalw("dex_open_failed", "err", err)
	}

	if registered := d.Tokens(); len(registered) == 0 {
		for _, t := range tickers {
			if _, err := d.AddToken(admin.Address(), token.Ticker(t), addrs[token.Ticker(t)]); err != nil {
				sugar.Fatalw("genesis_token_failed", "ticker", t, "err", err)
			}
		}
	} else {
		// contract balances do not survive a restart of the in-memory chain
		for _, tok := range registered {
			if addrs[tok.Ticker] != tok.Address {
				sugar.Warnw("token_address_mismatch",
					"ticker", tok.Ticker,
					"registered", tok.Address.Hex(),
					"deployed", addrs[tok.Ticker].Hex())
			}
		}
	}

	app := abci.NewApp(d)

	st := d.Status()
	sugar.Infow("node_starting",
		"quote", cfg.Exchange.QuoteTicker,
		"tokens", len(d.Tokens()),
		"admin", admin.Address().Hex(),
		"custody", custody.Hex(),
		"chain_id", cfg.Exchange.ChainID,
		"height", st.Height,
		"app_hash", st.AppHash.Hex())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if cfg.TxGen.Enabled {
		txCfg := loadgen.DefaultFeederConfig()
		if cfg.TxGen.Mode == "high" {
			txCfg = loadgen.HighLoadConfig()
		}
		var all []token.Ticker
		for _, t := range tickers {
			all = append(all, token.Ticker(t))
		}
		gen, err := loadgen.NewGenerator(domain, txCfg.NumAccounts, token.Ticker(cfg.Exchange.QuoteTicker), all, time.Now().UnixNano())
		if err != nil {
			sugar.Fatalw("txgen_init_failed", "err", err)
		}
		fund, err := gen.Fund(contracts, custody, txCfg.FundAmount)
		if err != nil {
			sugar.Fatalw("txgen_fund_failed", "err", err)
		}
		sugar.Infow("txgen_enabled", "mode", cfg.TxGen.Mode, "target_tps", txCfg.TxPerSecond())
		cancelFeeder := loadgen.StartFeeder(ctx, app, gen, fund, txCfg, sugar)
		defer cancelFeeder()
	}

	// ---- API Server ----
	apiCfg := api.Config{
		Dex:     d,
		Mempool: app.Mempool,
		Hub:     hub,
		Logger:  sugar,
	}
	if cfg.Exchange.DevFaucet {
		apiCfg.Faucet = chain
	}
	apiServer := api.NewServer(apiCfg)
	go func() {
		if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	// Logging control: log every N blocks to reduce noise
	const logInterval = 100
	var lastLogged uint64
	producer := &abci.Producer{
		App:        app,
		BlockTime:  cfg.Node.BlockTime,
		MaxTxBytes: cfg.Node.MaxBlockBytes,
		Logger:     quietLogger(logger, cfg.Log.Verbose),
		OnCommit: func(r *dex.BlockResult) {
			if r.Height-lastLogged >= logInterval || r.Height <= 5 {
				sugar.Infow("chain_progress",
					"height", r.Height,
					"blocks_since_last_log", r.Height-lastLogged,
					"mempool", app.Mempool.Len(),
					"app_hash", r.AppHash.Hex())
				lastLogged = r.Height
			}
		},
	}
	if err := producer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("producer_failed", "err", err)
	}
	sugar.Infow("node_stopped", "height", d.Status().Height)
}

func adminSigner(hexKey string, log *zap.SugaredLogger) (*crypto.Signer, error) {
	if hexKey != "" {
		return crypto.FromPrivateKeyHex(hexKey)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	log.Warnw("admin_key_generated",
		"address", s.Address().Hex(),
		"hint", "set DEX_ADMIN_KEY to keep token addresses stable across restarts")
	return s, nil
}

// quietLogger drops per-block info lines unless verbose.
func quietLogger(l *zap.Logger, verbose bool) *zap.SugaredLogger {
	if verbose {
		return l.Sugar()
	}
	return l.WithOptions(zap.IncreaseLevel(zap.WarnLevel)).Sugar()
}
