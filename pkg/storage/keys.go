package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

// Key schema:
//
//	meta:quote                         → quote ticker
//	meta:seq                           → id counters and height
//	tok:{ticker}                       → Token
//	bal:{address}:{ticker}             → balance (decimal)
//	ord:{ticker}:{side}:{orderID}      → Order
//	trade:{ticker}:{tradeID}           → Trade
//	nonce:{address}                    → last used nonce
//	blk:{height}                       → Block summary
//
// Numeric ids are zero-padded (20 digits) so iteration follows id order.
const (
	prefixMeta    = "meta:"
	prefixToken   = "tok:"
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	prefixNonce   = "nonce:"
	prefixBlock   = "blk:"
)

func quoteKey() []byte { return []byte(prefixMeta + "quote") }
func seqKey() []byte   { return []byte(prefixMeta + "seq") }

func tokenKey(t token.Ticker) []byte {
	return []byte(prefixToken + string(t))
}

// Format: "bal:{address}:{ticker}"
func balanceKey(addr common.Address, t token.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, addr.Hex(), t))
}

// Format: "ord:{ticker}:{side}:{orderID}"
func orderKey(t token.Ticker, side orderbook.Side, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%020d", prefixOrder, t, side, id))
}

// Format: "trade:{ticker}:{tradeID}"
func tradeKey(t token.Ticker, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, t, id))
}

func tradePrefix(t token.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, t))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:" -> upper bound "bal;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// addressFromKey parses the address out of "<prefix>{address}..." keys.
func addressFromKey(key []byte, prefix string) (common.Address, error) {
	if len(key) < len(prefix)+42 { // 42 = "0x" + 40 hex chars
		return common.Address{}, fmt.Errorf("invalid key length: %d", len(key))
	}
	addrHex := string(key[len(prefix) : len(prefix)+42])
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, fmt.Errorf("invalid address in key: %s", addrHex)
	}
	return common.HexToAddress(addrHex), nil
}
