package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/spotdex/pkg/app/core/transaction"
)

// Class is the scheduling bucket of a transaction.
type Class int

const (
	ClassAdmin   Class = iota // token registration
	ClassFunding              // deposit / withdraw
	ClassOrder                // limit / market
)

// ClassifyRaw reads only the JSON envelope's type field.
// Anything unparseable lands in ClassOrder and is rejected at execution.
func ClassifyRaw(b []byte) Class {
	if len(b) == 0 || b[0] != '{' {
		return ClassOrder
	}

	var txEnvelope struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return ClassOrder
	}

	switch txEnvelope.Type {
	case transaction.TxTypeAddToken:
		return ClassAdmin
	case transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		return ClassFunding
	default:
		return ClassOrder
	}
}

// Mempool keeps one FIFO queue per class. A block drains admin txs first,
// then funding, then orders, so a deposit submitted alongside an order
// is credited before the order is matched.
type Mempool struct {
	mu      sync.Mutex
	admin   [][]byte
	funding [][]byte
	orders  [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ClassifyRaw(b) {
	case ClassAdmin:
		m.admin = append(m.admin, cp)
	case ClassFunding:
		m.funding = append(m.funding, cp)
	default:
		m.orders = append(m.orders, cp)
	}
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing them from the pool. maxBytes <= 0 means no limit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for !full && len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				// keep later buckets behind this one
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.admin)
	pull(&m.funding)
	pull(&m.orders)

	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admin) + len(m.funding) + len(m.orders)
}
