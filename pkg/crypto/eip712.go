package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "SpotDex")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Exchange address (or zero for off-chain)
}

// Action kinds carried in ActionEIP712.Kind.
const (
	KindAddToken = "addToken"
	KindDeposit  = "deposit"
	KindWithdraw = "withdraw"
	KindLimit    = "limit"
	KindMarket   = "market"
)

// ActionEIP712 is the typed message a trader signs for every state-changing
// call. Fields that do not apply to a kind are zero.
type ActionEIP712 struct {
	Kind   string         // one of the Kind* constants
	Ticker string         // token ticker, e.g. "REP"
	Token  common.Address // token contract (addToken only)
	Side   uint8          // 0 = buy, 1 = sell
	Amount *big.Int       // base-asset smallest units
	Price  *big.Int       // quote smallest units per whole base token (limit only)
	Nonce  *big.Int       // must exceed the owner's last used nonce
	Owner  common.Address // signer
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "kind", Type: "string"},
		{Name: "ticker", Type: "string"},
		{Name: "token", Type: "address"},
		{Name: "side", Type: "uint8"},
		{Name: "amount", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	},
}

// EIP712Signer handles EIP-712 typed data signing for exchange actions
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// DefaultDomain returns the local dev domain.
func DefaultDomain() EIP712Domain {
	return NewDomain(1337, common.Address{})
}

// NewDomain returns the SpotDex domain for a chain and exchange address.
func NewDomain(chainID int64, exchange common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "SpotDex",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: exchange,
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (e *EIP712Signer) typedData(a *ActionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":   a.Kind,
			"ticker": a.Ticker,
			"token":  a.Token.Hex(),
			"side":   fmt.Sprintf("%d", a.Side),
			"amount": orZero(a.Amount).String(),
			"price":  orZero(a.Price).String(),
			"nonce":  orZero(a.Nonce).String(),
			"owner":  a.Owner.Hex(),
		},
	}
}

// HashAction returns the EIP-712 digest to sign.
func (e *EIP712Signer) HashAction(a *ActionEIP712) ([]byte, error) {
	typedData := e.typedData(a)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignAction signs an action and returns the 65-byte signature
func (e *EIP712Signer) SignAction(signer *Signer, a *ActionEIP712) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}

	return signature, nil
}

// VerifyActionSignature reports whether signature was produced by a.Owner.
func (e *EIP712Signer) VerifyActionSignature(a *ActionEIP712, signature []byte) (bool, error) {
	recovered, err := e.RecoverActionSigner(a, signature)
	if err != nil {
		return false, err
	}
	return recovered == a.Owner, nil
}

// RecoverActionSigner recovers the address that signed an action
func (e *EIP712Signer) RecoverActionSigner(a *ActionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash action: %w", err)
	}

	return RecoverAddress(hash, signature)
}

// ActionToJSON renders the typed data for eth_signTypedData_v4 wallets.
func (e *EIP712Signer) ActionToJSON(a *ActionEIP712) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(a), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
