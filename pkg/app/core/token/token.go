// Package token holds the token registry and the capability interface the
// exchange uses to move custody of external fungible tokens.
package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownToken    = errors.New("token does not exist")
	ErrTokenExists     = errors.New("token already exists")
	ErrInvalidTicker   = errors.New("invalid ticker")
	ErrInvalidDecimals = errors.New("invalid decimals")
)

const (
	// DefaultDecimals is used when a collaborator does not report its decimals.
	DefaultDecimals uint8 = 18
	// MaxDecimals is the largest d with 10^d below 2^256.
	MaxDecimals uint8 = 77
)

// Ticker is the short symbolic identifier of a token ("DAI", "REP").
// It mirrors a bytes32 identifier, so it is limited to 32 bytes.
type Ticker string

// ParseTicker validates s and returns it as a Ticker. NUL bytes are
// rejected since Bytes32 pads with them.
func ParseTicker(s string) (Ticker, error) {
	if len(s) == 0 || len(s) > 32 || strings.IndexByte(s, 0) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, s)
	}
	return Ticker(s), nil
}

// CheckDecimals rejects scales whose power of ten does not fit in 256 bits.
func CheckDecimals(d uint8) error {
	if d > MaxDecimals {
		return fmt.Errorf("%w: %d exceeds %d", ErrInvalidDecimals, d, MaxDecimals)
	}
	return nil
}

// Bytes32 returns the ticker right-padded with zeros.
func (t Ticker) Bytes32() [32]byte {
	var out [32]byte
	copy(out[:], t)
	return out
}

func (t Ticker) String() string { return string(t) }

// Token is a registry entry. Immutable once registered.
type Token struct {
	Ticker   Ticker
	Address  common.Address // external token contract
	Decimals uint8
}
