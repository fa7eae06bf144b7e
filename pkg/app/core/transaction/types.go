package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeAddToken    TxType = crypto.KindAddToken
	TxTypeDeposit     TxType = crypto.KindDeposit
	TxTypeWithdraw    TxType = crypto.KindWithdraw
	TxTypeLimitOrder  TxType = crypto.KindLimit
	TxTypeMarketOrder TxType = crypto.KindMarket
)

// IsFunding reports whether the tx moves funds in or out of the exchange
// (or registers a token) rather than trading.
func (t TxType) IsFunding() bool {
	switch t {
	case TxTypeAddToken, TxTypeDeposit, TxTypeWithdraw:
		return true
	}
	return false
}

var ErrMalformed = errors.New("malformed transaction")

// SignedTransaction is the wire form submitted by clients.
type SignedTransaction struct {
	Type      TxType         `json:"type"`
	Action    *ActionPayload `json:"action"`
	Signature string         `json:"signature"` // Hex-encoded signature (0x...)
}

// ActionPayload carries the signed fields. Integers are decimal strings so
// wei-scale values survive JSON.
type ActionPayload struct {
	Ticker string `json:"ticker"`
	Token  string `json:"token,omitempty"` // contract address, addToken only
	Side   uint8  `json:"side"`            // 0=buy, 1=sell
	Amount string `json:"amount,omitempty"`
	Price  string `json:"price,omitempty"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

// Action is a decoded, typed transaction.
type Action struct {
	Type   TxType
	Ticker token.Ticker
	Token  common.Address
	Side   orderbook.Side
	Amount *uint256.Int
	Price  *uint256.Int
	Nonce  uint64
	Owner  common.Address
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, field, s)
	}
	return v, nil
}

// ToEIP712 converts the payload to the typed message that was signed.
func (tx *SignedTransaction) ToEIP712() (*crypto.ActionEIP712, error) {
	p := tx.Action
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	price, err := parseBig("price", p.Price)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}

	return &crypto.ActionEIP712{
		Kind:   string(tx.Type),
		Ticker: p.Ticker,
		Token:  common.HexToAddress(p.Token),
		Side:   p.Side,
		Amount: amount,
		Price:  price,
		Nonce:  nonce,
		Owner:  common.HexToAddress(p.Owner),
	}, nil
}

// Decode converts a validated transaction into an Action.
func (tx *SignedTransaction) Decode() (*Action, error) {
	typed, err := tx.ToEIP712()
	if err != nil {
		return nil, err
	}
	return actionFromEIP712(typed)
}

func actionFromEIP712(a *crypto.ActionEIP712) (*Action, error) {
	amount, overflow := uint256.FromBig(a.Amount)
	if overflow {
		return nil, fmt.Errorf("%w: amount overflows uint256", ErrMalformed)
	}
	price, overflow := uint256.FromBig(a.Price)
	if overflow {
		return nil, fmt.Errorf("%w: price overflows uint256", ErrMalformed)
	}
	if !a.Nonce.IsUint64() {
		return nil, fmt.Errorf("%w: nonce out of range", ErrMalformed)
	}
	ticker, err := token.ParseTicker(a.Ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &Action{
		Type:   TxType(a.Kind),
		Ticker: ticker,
		Token:  a.Token,
		Side:   orderbook.Side(a.Side),
		Amount: amount,
		Price:  price,
		Nonce:  a.Nonce.Uint64(),
		Owner:  a.Owner,
	}, nil
}

// EIP712 converts an Action into its typed message.
func (a *Action) EIP712() *crypto.ActionEIP712 {
	typed := &crypto.ActionEIP712{
		Kind:   string(a.Type),
		Ticker: string(a.Ticker),
		Token:  a.Token,
		Side:   uint8(a.Side),
		Amount: new(big.Int),
		Price:  new(big.Int),
		Nonce:  new(big.Int).SetUint64(a.Nonce),
		Owner:  a.Owner,
	}
	if a.Amount != nil {
		typed.Amount = a.Amount.ToBig()
	}
	if a.Price != nil {
		typed.Price = a.Price.ToBig()
	}
	return typed
}

// Sign produces the wire form of an action signed by s.
func Sign(es *crypto.EIP712Signer, s *crypto.Signer, a *Action) (*SignedTransaction, error) {
	typed := a.EIP712()
	sig, err := es.SignAction(s, typed)
	if err != nil {
		return nil, err
	}

	payload := &ActionPayload{
		Ticker: typed.Ticker,
		Side:   typed.Side,
		Nonce:  typed.Nonce.String(),
		Owner:  typed.Owner.Hex(),
	}
	if typed.Token != (common.Address{}) {
		payload.Token = typed.Token.Hex()
	}
	if typed.Amount.Sign() > 0 {
		payload.Amount = typed.Amount.String()
	}
	if typed.Price.Sign() > 0 {
		payload.Price = typed.Price.String()
	}
	return &SignedTransaction{
		Type:      a.Type,
		Action:    payload,
		Signature: fmt.Sprintf("0x%x", sig),
	}, nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	if tx.Action == nil {
		return fmt.Errorf("%w: missing action payload", ErrMalformed)
	}
	if tx.Action.Owner == "" || !common.IsHexAddress(tx.Action.Owner) {
		return fmt.Errorf("%w: invalid owner", ErrMalformed)
	}
	if tx.Action.Ticker == "" {
		return fmt.Errorf("%w: missing ticker", ErrMalformed)
	}

	switch tx.Type {
	case TxTypeAddToken:
		if !common.IsHexAddress(tx.Action.Token) {
			return fmt.Errorf("%w: addToken requires a token address", ErrMalformed)
		}
	case TxTypeDeposit, TxTypeWithdraw:
	case TxTypeLimitOrder:
		if tx.Action.Price == "" {
			return fmt.Errorf("%w: limit order requires a price", ErrMalformed)
		}
		fallthrough
	case TxTypeMarketOrder:
		if tx.Action.Side > uint8(orderbook.Sell) {
			return fmt.Errorf("%w: invalid side %d", ErrMalformed, tx.Action.Side)
		}
	default:
		return fmt.Errorf("%w: unknown transaction type: %s", ErrMalformed, tx.Type)
	}
	return nil
}

// ParseTransaction decodes and structurally validates a wire transaction.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}
