package token

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRegistryAddToken(t *testing.T) {
	r := NewRegistry("DAI")
	addr := common.HexToAddress("0x00000000000000000000000000000000000000d1")

	tok, err := r.AddToken("DAI", addr, 18)
	if err != nil {
		t.Fatalf("add token: %v", err)
	}
	if tok.Address != addr || tok.Decimals != 18 {
		t.Errorf("token = %+v", tok)
	}

	if _, err := r.AddToken("DAI", common.Address{}, 6); !errors.Is(err, ErrTokenExists) {
		t.Errorf("duplicate add: err = %v, want ErrTokenExists", err)
	}

	got, err := r.Get("DAI")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Address != addr || got.Decimals != 18 {
		t.Errorf("registered entry was modified: %+v", got)
	}
}

func TestRegistryUnknownToken(t *testing.T) {
	r := NewRegistry("DAI")
	_, err := r.Get("ABC")
	if !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("err = %v, want ErrUnknownToken", err)
	}
	if err.Error() != "token does not exist" {
		t.Errorf("message = %q", err.Error())
	}
	if r.Exists("ABC") {
		t.Error("ABC should not exist")
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry("DAI")
	for _, tk := range []Ticker{"DAI", "BAT", "REP", "ZRX"} {
		if _, err := r.AddToken(tk, common.Address{}, 18); err != nil {
			t.Fatal(err)
		}
	}
	var got []string
	for _, tok := range r.List() {
		got = append(got, string(tok.Ticker))
	}
	if strings.Join(got, ",") != "DAI,BAT,REP,ZRX" {
		t.Errorf("list = %v", got)
	}
	if r.Count() != 4 {
		t.Errorf("count = %d", r.Count())
	}
}

func TestRegistryDecimalsBound(t *testing.T) {
	r := NewRegistry("DAI")
	tests := []struct {
		ticker   Ticker
		decimals uint8
		wantErr  bool
	}{
		{"ZER", 0, false},
		{"MAX", MaxDecimals, false},
		{"BIG", MaxDecimals + 1, true},
		{"HUG", 255, true},
	}
	for _, tt := range tests {
		_, err := r.AddToken(tt.ticker, common.Address{}, tt.decimals)
		if tt.wantErr != errors.Is(err, ErrInvalidDecimals) {
			t.Errorf("AddToken(%s, %d) err = %v, wantErr %v", tt.ticker, tt.decimals, err, tt.wantErr)
		}
		if tt.wantErr && r.Exists(tt.ticker) {
			t.Errorf("%s registered despite bad decimals", tt.ticker)
		}
	}
}

func TestParseTicker(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"REP", false},
		{"", true},
		{strings.Repeat("X", 32), false},
		{strings.Repeat("X", 33), true},
		{"REP\x00", true},
		{"\x00REP", true},
	}
	for _, tt := range tests {
		_, err := ParseTicker(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTicker(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}

	b := Ticker("REP").Bytes32()
	if string(b[:3]) != "REP" || b[3] != 0 || b[31] != 0 {
		t.Errorf("Bytes32 = %x", b)
	}
}
