package mempool

import (
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected Class
	}{
		{"add token", `{"type":"addToken","action":{"ticker":"REP"},"signature":"0x1"}`, ClassAdmin},
		{"deposit", `{"type":"deposit","action":{"ticker":"DAI"},"signature":"0x1"}`, ClassFunding},
		{"withdraw", `{"type":"withdraw","action":{"ticker":"DAI"},"signature":"0x1"}`, ClassFunding},
		{"limit", `{"type":"limit","action":{"ticker":"REP"},"signature":"0x1"}`, ClassOrder},
		{"market", `{"type":"market","action":{"ticker":"REP"},"signature":"0x1"}`, ClassOrder},
		{"invalid JSON", `{"invalid": "json"`, ClassOrder},
		{"non-JSON", "UNKNOWN:foo", ClassOrder},
		{"empty", "", ClassOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRaw([]byte(tt.tx))
			if got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool()

	order1 := `{"type":"limit","action":{"ticker":"REP","side":0},"signature":"0x1111"}`
	deposit1 := `{"type":"deposit","action":{"ticker":"DAI"},"signature":"0x2222"}`
	order2 := `{"type":"market","action":{"ticker":"REP","side":1},"signature":"0x3333"}`
	addToken := `{"type":"addToken","action":{"ticker":"ZRX"},"signature":"0x4444"}`
	withdraw1 := `{"type":"withdraw","action":{"ticker":"DAI"},"signature":"0x5555"}`

	for _, tx := range []string{order1, deposit1, order2, addToken, withdraw1} {
		m.PushRaw([]byte(tx))
	}

	txs := m.SelectForProposal(0)
	expectOrder := []string{addToken, deposit1, withdraw1, order1, order2}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mempool, got %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool()

	m.PushRaw([]byte("O:1")) // 3 bytes
	m.PushRaw([]byte("O:2"))
	m.PushRaw([]byte("O:3"))

	txs := m.SelectForProposal(6)
	if len(txs) != 2 {
		t.Errorf("expected 2 txs with maxBytes=6, got %d", len(txs))
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tx remaining, got %d", m.Len())
	}
}

func TestMempool_MaxBytesKeepsBucketOrder(t *testing.T) {
	m := NewMempool()
	big := `{"type":"deposit","action":{"ticker":"DAI","amount":"100000"},"signature":"0x1"}`
	m.PushRaw([]byte(big))
	m.PushRaw([]byte("O:1"))

	// the deposit does not fit; the order must not jump ahead of it
	txs := m.SelectForProposal(10)
	if len(txs) != 0 {
		t.Errorf("expected 0 txs, got %d", len(txs))
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 txs remaining, got %d", m.Len())
	}
}
