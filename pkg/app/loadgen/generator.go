// Package loadgen produces signed exchange traffic for devnet load tests.
package loadgen

import (
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/app/core/transaction"
	"github.com/uhyunpark/spotdex/pkg/crypto"
)

// one whole token at 18 decimals
var unit = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))

// Generator creates signed transactions for simulated traders and tracks
// each trader's nonce so every tx it emits is acceptable in order.
type Generator struct {
	signers []*crypto.Signer
	tickers []token.Ticker // tradeable (non-quote) tokens
	quote   token.Ticker
	rng     *rand.Rand
	nonces  map[common.Address]uint64
	eip712  *crypto.EIP712Signer

	orders  int
	markets int
}

func NewGenerator(domain crypto.EIP712Domain, numAccounts int, quote token.Ticker, tickers []token.Ticker, seed int64) (*Generator, error) {
	if numAccounts <= 0 {
		return nil, fmt.Errorf("loadgen: need at least one account, got %d", numAccounts)
	}
	var tradeable []token.Ticker
	for _, t := range tickers {
		if t != quote {
			tradeable = append(tradeable, t)
		}
	}
	if len(tradeable) == 0 {
		return nil, fmt.Errorf("loadgen: no tradeable tokens besides %s", quote)
	}

	signers := make([]*crypto.Signer, numAccounts)
	for i := range signers {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		signers[i] = s
	}
	return &Generator{
		signers: signers,
		tickers: tradeable,
		quote:   quote,
		rng:     rand.New(rand.NewSource(seed)),
		nonces:  make(map[common.Address]uint64),
		eip712:  crypto.NewEIP712Signer(domain),
	}, nil
}

func (g *Generator) Signers() []*crypto.Signer { return g.signers }

// Nonce returns the last nonce used for addr.
func (g *Generator) Nonce(addr common.Address) uint64 { return g.nonces[addr] }

func (g *Generator) sign(s *crypto.Signer, a *transaction.Action) ([]byte, error) {
	g.nonces[s.Address()]++
	a.Nonce = g.nonces[s.Address()]
	a.Owner = s.Address()
	tx, err := transaction.Sign(g.eip712, s, a)
	if err != nil {
		g.nonces[s.Address()]--
		return nil, err
	}
	return tx.Serialize()
}

// Fund mints perTrader whole units of every token to each trader, approves
// custody for it and returns the signed deposits that move it on-exchange.
func (g *Generator) Fund(tokens map[token.Ticker]*token.MemToken, custody common.Address, perTrader uint64) ([][]byte, error) {
	amount := new(uint256.Int).Mul(uint256.NewInt(perTrader), unit)
	all := append([]token.Ticker{g.quote}, g.tickers...)

	var txs [][]byte
	for _, s := range g.signers {
		for _, t := range all {
			erc, ok := tokens[t]
			if !ok {
				return nil, fmt.Errorf("loadgen: no token contract for %s", t)
			}
			erc.Faucet(s.Address(), amount)
			if err := erc.Approve(s.Address(), custody, amount); err != nil {
				return nil, err
			}
			raw, err := g.sign(s, &transaction.Action{
				Type:   transaction.TxTypeDeposit,
				Ticker: t,
				Amount: amount.Clone(),
			})
			if err != nil {
				return nil, err
			}
			txs = append(txs, raw)
		}
	}
	return txs, nil
}

// GenerateOrder creates a random signed order: 80% limit, 20% market.
// Limit prices sit within 5% of 50 quote units; sizes are 1 to 10 tokens.
func (g *Generator) GenerateOrder() ([]byte, error) {
	s := g.signers[g.rng.Intn(len(g.signers))]
	a := &transaction.Action{
		Ticker: g.tickers[g.rng.Intn(len(g.tickers))],
		Side:   orderbook.Buy,
		Amount: new(uint256.Int).Mul(uint256.NewInt(uint64(g.rng.Intn(10)+1)), unit),
	}
	if g.rng.Intn(2) == 1 {
		a.Side = orderbook.Sell
	}

	if g.rng.Intn(100) < 80 {
		// 4750..5250 hundredths
		cents := uint64(4750 + g.rng.Intn(501))
		a.Type = transaction.TxTypeLimitOrder
		a.Price = new(uint256.Int).Mul(uint256.NewInt(cents), new(uint256.Int).Div(unit, uint256.NewInt(100)))
		g.orders++
	} else {
		a.Type = transaction.TxTypeMarketOrder
		g.markets++
	}
	return g.sign(s, a)
}

// GenerateBatch creates count orders. Signing failures are skipped.
func (g *Generator) GenerateBatch(count int) [][]byte {
	batch := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		raw, err := g.GenerateOrder()
		if err != nil {
			continue
		}
		batch = append(batch, raw)
	}
	return batch
}

type Stats struct {
	LimitOrders  int
	MarketOrders int
}

func (g *Generator) Stats() Stats {
	return Stats{LimitOrders: g.orders, MarketOrders: g.markets}
}
