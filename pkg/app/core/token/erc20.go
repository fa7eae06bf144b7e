package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrTransferAmount  = errors.New("ERC20: transfer amount exceeds balance")
	ErrAllowance       = errors.New("ERC20: insufficient allowance")
	ErrUnknownContract = errors.New("no token contract at address")
)

// ERC20 is the capability set the exchange needs from an external token.
// The caller identity is explicit since there is no ambient message sender.
type ERC20 interface {
	BalanceOf(owner common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
	Approve(owner, spender common.Address, amount *uint256.Int) error
}

// Resolver finds the token contract deployed at an address.
type Resolver interface {
	Resolve(addr common.Address) (ERC20, error)
}

// DecimalsOf returns the collaborator's decimals, or DefaultDecimals if it
// does not expose them.
func DecimalsOf(t ERC20) uint8 {
	if d, ok := t.(interface{ Decimals() uint8 }); ok {
		return d.Decimals()
	}
	return DefaultDecimals
}

// MemToken is an in-process ERC20 with a faucet, used by tests and devnets.
type MemToken struct {
	mu         sync.Mutex
	name       string
	decimals   uint8
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

func NewMemToken(name string, decimals uint8) *MemToken {
	return &MemToken{
		name:       name,
		decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (m *MemToken) Name() string    { return m.name }
func (m *MemToken) Decimals() uint8 { return m.decimals }

// Faucet mints amount to owner.
func (m *MemToken) Faucet(owner common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceLocked(owner).Add(m.balanceLocked(owner), amount)
}

func (m *MemToken) BalanceOf(owner common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(owner).Clone()
}

// Allowance returns how much spender may move on behalf of owner.
func (m *MemToken) Allowance(owner, spender common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

func (m *MemToken) Approve(owner, spender common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	m.allowances[owner][spender] = amount.Clone()
	return nil
}

func (m *MemToken) Transfer(from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(from, to, amount)
}

func (m *MemToken) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed, ok := m.allowances[from][spender]
	if !ok || allowed.Lt(amount) {
		return ErrAllowance
	}
	if err := m.moveLocked(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (m *MemToken) moveLocked(from, to common.Address, amount *uint256.Int) error {
	src := m.balanceLocked(from)
	if src.Lt(amount) {
		return ErrTransferAmount
	}
	src.Sub(src, amount)
	dst := m.balanceLocked(to)
	dst.Add(dst, amount)
	return nil
}

func (m *MemToken) balanceLocked(owner common.Address) *uint256.Int {
	b, ok := m.balances[owner]
	if !ok {
		b = new(uint256.Int)
		m.balances[owner] = b
	}
	return b
}

// MemChain deploys MemTokens at deterministic contract addresses and resolves
// them by address.
type MemChain struct {
	mu       sync.RWMutex
	deployer common.Address
	nonce    uint64
	tokens   map[common.Address]*MemToken
}

func NewMemChain(deployer common.Address) *MemChain {
	return &MemChain{
		deployer: deployer,
		tokens:   make(map[common.Address]*MemToken),
	}
}

// Deploy creates a new token and returns its address.
func (c *MemChain) Deploy(name string, decimals uint8) (common.Address, *MemToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := crypto.CreateAddress(c.deployer, c.nonce)
	c.nonce++
	tok := NewMemToken(name, decimals)
	c.tokens[addr] = tok
	return addr, tok
}

// Token returns the MemToken at addr, or nil.
func (c *MemChain) Token(addr common.Address) *MemToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[addr]
}

func (c *MemChain) Resolve(addr common.Address) (ERC20, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownContract, addr.Hex())
	}
	return tok, nil
}

var _ Resolver = (*MemChain)(nil)
var _ ERC20 = (*MemToken)(nil)
