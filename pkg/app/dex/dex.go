// Package dex is the exchange contract: the external operations that move
// tokens in and out of custody, register tokens and place orders, executed
// one at a time against the engine and persisted before they take effect.
package dex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotdex/pkg/app/core/engine"
	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/app/core/transaction"
	"github.com/uhyunpark/spotdex/pkg/crypto"
	"github.com/uhyunpark/spotdex/pkg/events"
	"github.com/uhyunpark/spotdex/pkg/storage"
	"github.com/uhyunpark/spotdex/pkg/util"
)

var (
	ErrNotAdmin     = errors.New("only admin")
	ErrNonceTooLow  = errors.New("nonce too low")
	ErrQuoteChanged = errors.New("stored quote ticker differs from configured one")
)

type Config struct {
	Store    *storage.Store
	Resolver token.Resolver
	Quote    token.Ticker
	Admin    common.Address
	// Custody is the address the exchange holds deposited tokens under.
	Custody common.Address
	Domain  crypto.EIP712Domain
	Sink    events.Sink
	Logger  *zap.SugaredLogger
}

type Dex struct {
	mu sync.Mutex

	registry *token.Registry
	ledger   *ledger.Ledger
	book     *orderbook.OrderBook
	engine   *engine.Engine
	clock    *util.BlockClock

	store    *storage.Store
	resolver token.Resolver
	verifier *transaction.Verifier
	sink     events.Sink
	log      *zap.SugaredLogger

	admin   common.Address
	custody common.Address
	nonces  map[common.Address]uint64
	height  uint64
	appHash common.Hash
}

// Open restores the exchange from cfg.Store, or initialises an empty one.
func Open(cfg Config) (*Dex, error) {
	if cfg.Store == nil {
		return nil, errors.New("dex: store is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("dex: token resolver is required")
	}
	if _, err := token.ParseTicker(string(cfg.Quote)); err != nil {
		return nil, fmt.Errorf("dex: quote: %w", err)
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	snap, err := cfg.Store.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	d := &Dex{
		registry: token.NewRegistry(cfg.Quote),
		ledger:   ledger.New(),
		book:     orderbook.NewOrderBook(),
		clock:    &util.BlockClock{},
		store:    cfg.Store,
		resolver: cfg.Resolver,
		verifier: transaction.NewVerifier(cfg.Domain),
		sink:     cfg.Sink,
		log:      cfg.Logger,
		admin:    cfg.Admin,
		custody:  cfg.Custody,
		nonces:   make(map[common.Address]uint64),
	}
	d.engine = engine.New(d.registry, d.ledger, d.book, d.clock)

	if snap.Empty() {
		b := d.store.NewBatch()
		b.PutQuote(cfg.Quote)
		if err := b.Commit(); err != nil {
			return nil, err
		}
		return d, nil
	}

	if snap.Quote != cfg.Quote {
		return nil, fmt.Errorf("%w: %s != %s", ErrQuoteChanged, snap.Quote, cfg.Quote)
	}
	if err := d.restore(snap); err != nil {
		return nil, err
	}
	d.log.Infow("dex_restored",
		"height", d.height,
		"tokens", d.registry.Count(),
		"orders", d.book.Len(),
		"next_order_id", d.engine.NextOrderID(),
		"next_trade_id", d.engine.NextTradeID(),
	)
	return d, nil
}

func (d *Dex) restore(snap *storage.Snapshot) error {
	for _, t := range snap.Tokens {
		if _, err := d.registry.AddToken(t.Ticker, t.Address, t.Decimals); err != nil {
			return fmt.Errorf("restore token %s: %w", t.Ticker, err)
		}
	}
	d.ledger.Apply(snap.Balances)
	for _, o := range snap.Orders {
		if err := d.book.Insert(o); err != nil {
			return fmt.Errorf("restore order %d: %w", o.ID, err)
		}
	}
	for addr, n := range snap.Nonces {
		d.nonces[addr] = n
	}
	d.engine.SetCounters(snap.Meta.NextOrderID, snap.Meta.NextTradeID)
	d.height = snap.Meta.Height
	d.appHash = snap.Meta.AppHash
	return nil
}

func (d *Dex) Admin() common.Address   { return d.admin }
func (d *Dex) Custody() common.Address { return d.custody }
func (d *Dex) Quote() token.Ticker     { return d.registry.Quote() }

// Verifier returns the verifier bound to this exchange's signing domain.
func (d *Dex) Verifier() *transaction.Verifier { return d.verifier }

// nonceUpdate is persisted together with the operation it authorised.
type nonceUpdate struct {
	owner common.Address
	nonce uint64
}

func (d *Dex) commit(b *storage.Batch, n *nonceUpdate) error {
	if n != nil {
		b.PutNonce(n.owner, n.nonce)
	}
	if err := b.Commit(); err != nil {
		return err
	}
	if n != nil {
		d.nonces[n.owner] = n.nonce
	}
	return nil
}

func (d *Dex) publish(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	if err := d.sink.Publish(ctx, evs...); err != nil {
		d.log.Warnw("publish_failed", "events", len(evs), "err", err)
	}
}

// AddToken registers the token contract at addr under ticker. Only the admin
// may call it.
func (d *Dex) AddToken(caller common.Address, ticker token.Ticker, addr common.Address) (token.Token, error) {
	d.mu.Lock()
	tok, evs, err := d.addToken(caller, ticker, addr, nil)
	d.mu.Unlock()
	d.publish(context.Background(), evs)
	return tok, err
}

func (d *Dex) addToken(caller common.Address, ticker token.Ticker, addr common.Address, n *nonceUpdate) (token.Token, []events.Event, error) {
	if caller != d.admin {
		return token.Token{}, nil, ErrNotAdmin
	}
	if _, err := token.ParseTicker(string(ticker)); err != nil {
		return token.Token{}, nil, err
	}
	if d.registry.Exists(ticker) {
		return token.Token{}, nil, fmt.Errorf("%w: %s", token.ErrTokenExists, ticker)
	}
	erc, err := d.resolver.Resolve(addr)
	if err != nil {
		return token.Token{}, nil, err
	}

	tok := token.Token{Ticker: ticker, Address: addr, Decimals: token.DecimalsOf(erc)}
	if err := token.CheckDecimals(tok.Decimals); err != nil {
		return token.Token{}, nil, err
	}
	b := d.store.NewBatch()
	b.PutToken(tok, d.registry.Count())
	if err := d.commit(b, n); err != nil {
		return token.Token{}, nil, err
	}
	if _, err := d.registry.AddToken(tok.Ticker, tok.Address, tok.Decimals); err != nil {
		return token.Token{}, nil, err
	}

	d.log.Infow("token_added", "ticker", ticker, "address", addr.Hex(), "decimals", tok.Decimals)
	return tok, []events.Event{events.NewTokenAdded(tok)}, nil
}

func (d *Dex) collaborator(ticker token.Ticker) (token.ERC20, error) {
	tok, err := d.registry.Get(ticker)
	if err != nil {
		return nil, err
	}
	return d.resolver.Resolve(tok.Address)
}

// Deposit pulls qty of ticker from trader into custody and credits the ledger.
// The trader must have approved the custody address beforehand.
func (d *Dex) Deposit(trader common.Address, ticker token.Ticker, qty *uint256.Int) error {
	d.mu.Lock()
	evs, err := d.deposit(trader, ticker, qty, nil)
	d.mu.Unlock()
	d.publish(context.Background(), evs)
	return err
}

func (d *Dex) deposit(trader common.Address, ticker token.Ticker, qty *uint256.Int, n *nonceUpdate) ([]events.Event, error) {
	if qty == nil || qty.IsZero() {
		return nil, engine.ErrInvalidAmount
	}
	erc, err := d.collaborator(ticker)
	if err != nil {
		return nil, err
	}
	if err := erc.TransferFrom(d.custody, trader, d.custody, qty); err != nil {
		return nil, err
	}

	bal, overflow := new(uint256.Int).AddOverflow(d.ledger.Balance(trader, ticker), qty)
	if overflow {
		d.refund(erc, trader, ticker, qty)
		return nil, engine.ErrOverflow
	}
	b := d.store.NewBatch()
	b.PutBalance(ledger.Entry{Trader: trader, Ticker: ticker, Amount: bal})
	if err := d.commit(b, n); err != nil {
		d.refund(erc, trader, ticker, qty)
		return nil, err
	}
	d.ledger.Credit(trader, ticker, qty)

	d.log.Infow("deposit", "trader", trader.Hex(), "ticker", ticker, "amount", qty.Dec())
	return []events.Event{events.NewDeposit(trader, ticker, qty)}, nil
}

// refund returns a deposit whose ledger credit could not be recorded.
func (d *Dex) refund(erc token.ERC20, trader common.Address, ticker token.Ticker, qty *uint256.Int) {
	if err := erc.Transfer(d.custody, trader, qty); err != nil {
		d.log.Errorw("refund_failed", "trader", trader.Hex(), "ticker", ticker, "amount", qty.Dec(), "err", err)
	}
}

// Withdraw debits the ledger and sends qty of ticker back to trader.
func (d *Dex) Withdraw(trader common.Address, ticker token.Ticker, qty *uint256.Int) error {
	d.mu.Lock()
	evs, err := d.withdraw(trader, ticker, qty, nil)
	d.mu.Unlock()
	d.publish(context.Background(), evs)
	return err
}

func (d *Dex) withdraw(trader common.Address, ticker token.Ticker, qty *uint256.Int, n *nonceUpdate) ([]events.Event, error) {
	if qty == nil || qty.IsZero() {
		return nil, engine.ErrInvalidAmount
	}
	erc, err := d.collaborator(ticker)
	if err != nil {
		return nil, err
	}
	bal := d.ledger.Balance(trader, ticker)
	if bal.Lt(qty) {
		return nil, ledger.ErrInsufficientBalance
	}

	// debit is durable before tokens leave custody
	var prevNonce uint64
	if n != nil {
		prevNonce = d.nonces[n.owner]
	}
	b := d.store.NewBatch()
	b.PutBalance(ledger.Entry{Trader: trader, Ticker: ticker, Amount: new(uint256.Int).Sub(bal, qty)})
	if err := d.commit(b, n); err != nil {
		return nil, err
	}
	if err := d.ledger.Debit(trader, ticker, qty); err != nil {
		return nil, err
	}

	if err := erc.Transfer(d.custody, trader, qty); err != nil {
		d.undoWithdraw(trader, ticker, bal, n, prevNonce)
		return nil, err
	}

	d.log.Infow("withdraw", "trader", trader.Hex(), "ticker", ticker, "amount", qty.Dec())
	return []events.Event{events.NewWithdraw(trader, ticker, qty)}, nil
}

// undoWithdraw restores the balance and nonce of a withdrawal whose transfer
// failed. Memory is restored even if the write fails; the store then keeps
// the lower balance until the next write for this trader.
func (d *Dex) undoWithdraw(trader common.Address, ticker token.Ticker, bal *uint256.Int, n *nonceUpdate, prevNonce uint64) {
	b := d.store.NewBatch()
	b.PutBalance(ledger.Entry{Trader: trader, Ticker: ticker, Amount: bal})
	if n != nil {
		b.PutNonce(n.owner, prevNonce)
	}
	if err := b.Commit(); err != nil {
		d.log.Errorw("withdraw_undo_not_recorded", "trader", trader.Hex(), "ticker", ticker, "balance", bal.Dec(), "err", err)
	}
	d.ledger.Credit(trader, ticker, new(uint256.Int).Sub(bal, d.ledger.Balance(trader, ticker)))
	if n != nil {
		d.nonces[n.owner] = prevNonce
	}
}

// CreateLimitOrder matches what crosses and rests the remainder.
func (d *Dex) CreateLimitOrder(trader common.Address, ticker token.Ticker, amount, price *uint256.Int, side orderbook.Side) (*engine.Execution, error) {
	d.mu.Lock()
	x, evs, err := d.createLimitOrder(trader, ticker, amount, price, side, nil)
	d.mu.Unlock()
	d.publish(context.Background(), evs)
	return x, err
}

func (d *Dex) createLimitOrder(trader common.Address, ticker token.Ticker, amount, price *uint256.Int, side orderbook.Side, n *nonceUpdate) (*engine.Execution, []events.Event, error) {
	x, err := d.engine.PlanLimit(trader, ticker, amount, price, side)
	if err != nil {
		return nil, nil, err
	}
	return d.execute(x, n)
}

// CreateMarketOrder matches immediately; any unfilled remainder is dropped.
func (d *Dex) CreateMarketOrder(trader common.Address, ticker token.Ticker, amount *uint256.Int, side orderbook.Side) (*engine.Execution, error) {
	d.mu.Lock()
	x, evs, err := d.createMarketOrder(trader, ticker, amount, side, nil)
	d.mu.Unlock()
	d.publish(context.Background(), evs)
	return x, err
}

func (d *Dex) createMarketOrder(trader common.Address, ticker token.Ticker, amount *uint256.Int, side orderbook.Side, n *nonceUpdate) (*engine.Execution, []events.Event, error) {
	x, err := d.engine.PlanMarket(trader, ticker, amount, side)
	if err != nil {
		return nil, nil, err
	}
	return d.execute(x, n)
}

// execute persists a plan and then applies it to memory.
func (d *Dex) execute(x *engine.Execution, n *nonceUpdate) (*engine.Execution, []events.Event, error) {
	b := d.store.NewBatch()
	for _, e := range x.Balances {
		b.PutBalance(e)
	}
	for _, f := range x.MakerFills {
		o, ok := d.book.Get(f.OrderID)
		if !ok {
			b.Discard()
			return nil, nil, fmt.Errorf("maker order %d: %w", f.OrderID, orderbook.ErrOrderNotFound)
		}
		o.Filled = f.Filled
		b.PutOrder(o)
	}
	if x.Resting != nil {
		b.PutOrder(*x.Resting)
	}
	for _, t := range x.Trades {
		b.PutTrade(t)
	}
	nextOrderID, nextTradeID := x.Counters()
	b.PutMeta(storage.Meta{
		NextOrderID: nextOrderID,
		NextTradeID: nextTradeID,
		Height:      d.height,
		AppHash:     d.appHash,
	})
	if err := d.commit(b, n); err != nil {
		return nil, nil, err
	}
	if err := d.engine.Apply(x); err != nil {
		return nil, nil, err
	}

	if x.Kind == engine.Limit {
		d.log.Infow("order_created",
			"order_id", x.OrderID,
			"trader", x.Trader.Hex(),
			"side", x.Side.String(),
			"ticker", x.Ticker,
			"amount", x.Amount.Dec(),
			"price", x.Price.Dec(),
			"filled", x.Filled.Dec(),
		)
	}
	for _, t := range x.Trades {
		d.log.Debugw("trade_settled",
			"trade_id", t.ID,
			"maker_order_id", t.MakerOrderID,
			"ticker", t.Ticker,
			"amount", t.Amount.Dec(),
			"price", t.Price.Dec(),
			"cost", t.Cost.Dec(),
		)
	}
	return x, events.FromExecution(x), nil
}

// GetOrders returns the book side in matching order, filled orders included.
func (d *Dex) GetOrders(ticker token.Ticker, side orderbook.Side) ([]orderbook.Order, error) {
	if !d.registry.Exists(ticker) {
		return nil, token.ErrUnknownToken
	}
	return d.book.Orders(ticker, side), nil
}

// Levels aggregates open quantity per price for one side of a book.
func (d *Dex) Levels(ticker token.Ticker, side orderbook.Side) ([]orderbook.PriceLevel, error) {
	if !d.registry.Exists(ticker) {
		return nil, token.ErrUnknownToken
	}
	return d.book.Levels(ticker, side), nil
}

func (d *Dex) TraderBalance(trader common.Address, ticker token.Ticker) *uint256.Int {
	return d.ledger.Balance(trader, ticker)
}

func (d *Dex) Tokens() []token.Token {
	return d.registry.List()
}

// Trades returns recent trades for ticker, newest first.
func (d *Dex) Trades(ticker token.Ticker, limit int) ([]engine.Trade, error) {
	if !d.registry.Exists(ticker) {
		return nil, token.ErrUnknownToken
	}
	return d.store.RecentTrades(ticker, limit)
}

// Nonce returns the last nonce accepted from owner.
func (d *Dex) Nonce(owner common.Address) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nonces[owner]
}

// Status is the last finalized block.
type Status struct {
	Height      uint64
	AppHash     common.Hash
	NextOrderID uint64
	NextTradeID uint64
}

func (d *Dex) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Height:      d.height,
		AppHash:     d.appHash,
		NextOrderID: d.engine.NextOrderID(),
		NextTradeID: d.engine.NextTradeID(),
	}
}
