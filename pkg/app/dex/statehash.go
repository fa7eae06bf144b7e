package dex

import (
	"encoding/binary"
	"hash"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
)

// StateHash is a Keccak-256 digest of everything a transaction can change.
func (d *Dex) StateHash() common.Hash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateHash()
}

// stateHash covers, in order:
//   - tokens in registration order (ticker, address, decimals)
//   - non-zero balances sorted by trader then ticker
//   - every order of every book, bids then asks, in matching order
//
// Height and time are left out so a restored node reproduces the hash.
func (d *Dex) stateHash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte

	toks := d.registry.List()
	for _, t := range toks {
		b32 := t.Ticker.Bytes32()
		h.Write(b32[:])
		h.Write(t.Address[:])
		h.Write([]byte{t.Decimals})
	}

	for _, e := range d.ledger.Entries() {
		b32 := e.Ticker.Bytes32()
		h.Write(e.Trader[:])
		h.Write(b32[:])
		writeUint256(h, e.Amount)
	}

	for _, t := range toks {
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			d.book.Walk(t.Ticker, side, func(o orderbook.Order) bool {
				binary.BigEndian.PutUint64(buf[:], o.ID)
				h.Write(buf[:])
				h.Write(o.Trader[:])
				h.Write([]byte{byte(o.Side)})
				writeUint256(h, o.Amount)
				writeUint256(h, o.Filled)
				writeUint256(h, o.Price)
				return true
			})
		}
	}

	return common.BytesToHash(h.Sum(nil))
}

func writeUint256(h hash.Hash, v *uint256.Int) {
	b := v.Bytes32()
	h.Write(b[:])
}
