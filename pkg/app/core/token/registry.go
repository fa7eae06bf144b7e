package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps tickers to external tokens. Write-once per ticker.
type Registry struct {
	mu     sync.RWMutex
	quote  Ticker
	tokens map[Ticker]Token
	order  []Ticker // registration order
}

// NewRegistry creates an empty registry whose prices are denominated in quote.
// The quote token still has to be registered with AddToken before it can be
// deposited.
func NewRegistry(quote Ticker) *Registry {
	return &Registry{
		quote:  quote,
		tokens: make(map[Ticker]Token),
	}
}

// Quote returns the ticker of the quote asset.
func (r *Registry) Quote() Ticker {
	return r.quote
}

// AddToken registers a token. Returns ErrTokenExists if the ticker is taken.
func (r *Registry) AddToken(ticker Ticker, addr common.Address, decimals uint8) (Token, error) {
	if _, err := ParseTicker(string(ticker)); err != nil {
		return Token{}, err
	}
	if err := CheckDecimals(decimals); err != nil {
		return Token{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[ticker]; exists {
		return Token{}, fmt.Errorf("%w: %s", ErrTokenExists, ticker)
	}

	tok := Token{Ticker: ticker, Address: addr, Decimals: decimals}
	r.tokens[ticker] = tok
	r.order = append(r.order, ticker)
	return tok, nil
}

// Get returns the token registered under ticker.
func (r *Registry) Get(ticker Ticker) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tok, ok := r.tokens[ticker]
	if !ok {
		return Token{}, ErrUnknownToken
	}
	return tok, nil
}

// Exists reports whether ticker is registered.
func (r *Registry) Exists(ticker Ticker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokens[ticker]
	return ok
}

// List returns all tokens in registration order.
func (r *Registry) List() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Token, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.tokens[t])
	}
	return out
}

// Count returns the number of registered tokens.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
