package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/engine"
	"github.com/uhyunpark/spotdex/pkg/app/core/ledger"
	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

// Store persists exchange state in Pebble. Every state transition is written
// through a single Batch so a crash never leaves half a settlement on disk.
type Store struct {
	db *pebble.DB
}

// Open opens a Pebble database at the given path
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory returns a Store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Batch accumulates writes for one state transition.
type Batch struct {
	b   *pebble.Batch
	err error
}

func (s *Store) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) setJSON(key []byte, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("marshal %s: %w", key, err)
		return
	}
	b.err = b.b.Set(key, data, nil)
}

func (b *Batch) PutQuote(t token.Ticker) {
	if b.err == nil {
		b.err = b.b.Set(quoteKey(), []byte(t), nil)
	}
}

// PutToken records a registered token; index preserves registration order.
func (b *Batch) PutToken(tok token.Token, index int) {
	b.setJSON(tokenKey(tok.Ticker), tokenRecord{
		Ticker:   tok.Ticker,
		Address:  tok.Address,
		Decimals: tok.Decimals,
		Index:    index,
	})
}

// PutBalance writes a balance; zero balances are deleted.
func (b *Batch) PutBalance(e ledger.Entry) {
	if b.err != nil {
		return
	}
	key := balanceKey(e.Trader, e.Ticker)
	if e.Amount.IsZero() {
		b.err = b.b.Delete(key, nil)
		return
	}
	b.err = b.b.Set(key, []byte(e.Amount.Dec()), nil)
}

func (b *Batch) PutOrder(o orderbook.Order) {
	b.setJSON(orderKey(o.Ticker, o.Side, o.ID), toOrderRecord(o))
}

func (b *Batch) PutTrade(t engine.Trade) {
	b.setJSON(tradeKey(t.Ticker, t.ID), toTradeRecord(t))
}

func (b *Batch) PutNonce(addr common.Address, nonce uint64) {
	if b.err == nil {
		b.err = b.b.Set(nonceKey(addr), []byte(strconv.FormatUint(nonce, 10)), nil)
	}
}

func (b *Batch) PutMeta(m Meta) {
	b.setJSON(seqKey(), m)
}

func (b *Batch) PutBlock(r BlockRecord) {
	b.setJSON(blockKey(r.Height), r)
}

// Commit durably applies every write, or none of them.
func (b *Batch) Commit() error {
	defer b.b.Close()
	if b.err != nil {
		return b.err
	}
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Discard drops the batch without writing.
func (b *Batch) Discard() {
	b.b.Close()
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Quote    token.Ticker
	Tokens   []token.Token // registration order
	Balances []ledger.Entry
	Orders   []orderbook.Order // id order
	Nonces   map[common.Address]uint64
	Meta     Meta
}

// Empty reports whether nothing was ever persisted.
func (s *Snapshot) Empty() bool {
	return s.Quote == "" && len(s.Tokens) == 0
}

// LoadSnapshot reads the complete exchange state.
func (s *Store) LoadSnapshot() (*Snapshot, error) {
	snap := &Snapshot{Nonces: make(map[common.Address]uint64)}

	quote, ok, err := s.get(quoteKey())
	if err != nil {
		return nil, err
	}
	if ok {
		snap.Quote = token.Ticker(quote)
	}

	if _, err := s.getJSON(seqKey(), &snap.Meta); err != nil {
		return nil, err
	}

	var toks []tokenRecord
	err = s.scan([]byte(prefixToken), func(_, v []byte) error {
		var r tokenRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal token: %w", err)
		}
		toks = append(toks, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i].Index < toks[j].Index })
	for _, r := range toks {
		snap.Tokens = append(snap.Tokens, token.Token{Ticker: r.Ticker, Address: r.Address, Decimals: r.Decimals})
	}

	err = s.scan([]byte(prefixBalance), func(k, v []byte) error {
		addr, err := addressFromKey(k, prefixBalance)
		if err != nil {
			return err
		}
		amt, err := uint256.FromDecimal(string(v))
		if err != nil {
			return fmt.Errorf("invalid balance at %s: %w", k, err)
		}
		ticker := token.Ticker(k[len(prefixBalance)+43:]) // skip "{address}:"
		snap.Balances = append(snap.Balances, ledger.Entry{Trader: addr, Ticker: ticker, Amount: amt})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan([]byte(prefixOrder), func(_, v []byte) error {
		var r orderRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		snap.Orders = append(snap.Orders, r.order())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })

	err = s.scan([]byte(prefixNonce), func(k, v []byte) error {
		addr, err := addressFromKey(k, prefixNonce)
		if err != nil {
			return err
		}
		n, err := strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid nonce at %s: %w", k, err)
		}
		snap.Nonces[addr] = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// RecentTrades loads the most recent trades for a ticker, newest first.
func (s *Store) RecentTrades(t token.Ticker, limit int) ([]engine.Trade, error) {
	prefix := tradePrefix(t)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []engine.Trade
	for iter.Last(); iter.Valid() && (limit <= 0 || len(trades) < limit); iter.Prev() {
		var r tradeRecord
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		trades = append(trades, r.trade())
	}
	return trades, iter.Error()
}

// Block returns the summary of a finalized block.
func (s *Store) Block(height uint64) (BlockRecord, bool, error) {
	var r BlockRecord
	ok, err := s.getJSON(blockKey(height), &r)
	return r, ok, err
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (s *Store) getJSON(key []byte, v any) (bool, error) {
	val, ok, err := s.get(key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
