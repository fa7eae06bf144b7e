package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/spotdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotdex/pkg/app/core/token"
	"github.com/uhyunpark/spotdex/pkg/app/core/transaction"
	"github.com/uhyunpark/spotdex/pkg/crypto"
)

func main() {
	txType := flag.String("type", "limit", "addToken | deposit | withdraw | limit | market")
	ticker := flag.String("ticker", "REP", "token ticker")
	tokenAddr := flag.String("token", "", "token contract address (addToken)")
	sideStr := flag.String("side", "buy", "buy | sell")
	amountStr := flag.String("amount", "1000000000000000000", "amount in smallest units")
	priceStr := flag.String("price", "", "quote units per whole token (limit)")
	nonce := flag.Uint64("nonce", 1, "must exceed the last accepted nonce")
	key := flag.String("key", "", "hex private key; generated when empty")
	chainID := flag.Int64("chain-id", 1337, "EIP-712 chain id")
	exchange := flag.String("exchange", "", "custody address from /api/v1/chain/status")
	api := flag.String("api", "http://localhost:8080", "node API base URL")
	flag.Parse()

	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if *key != "" {
		signer, err = crypto.FromPrivateKeyHex(*key)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fail("key: %v", err)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	if *key == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	// Step 2: Build action
	t, err := token.ParseTicker(*ticker)
	if err != nil {
		fail("ticker: %v", err)
	}
	action := &transaction.Action{
		Type:   transaction.TxType(*txType),
		Ticker: t,
		Nonce:  *nonce,
		Owner:  signer.Address(),
	}
	switch action.Type {
	case transaction.TxTypeAddToken:
		if !common.IsHexAddress(*tokenAddr) {
			fail("addToken needs -token")
		}
		action.Token = common.HexToAddress(*tokenAddr)
	case transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		action.Amount = mustAmount("amount", *amountStr)
	case transaction.TxTypeLimitOrder:
		action.Price = mustAmount("price", *priceStr)
		fallthrough
	case transaction.TxTypeMarketOrder:
		action.Amount = mustAmount("amount", *amountStr)
		if action.Side, err = orderbook.ParseSide(*sideStr); err != nil {
			fail("side: %v", err)
		}
	default:
		fail("unknown type %q", *txType)
	}

	var verifying common.Address
	if *exchange != "" {
		if !common.IsHexAddress(*exchange) {
			fail("exchange: not an address: %s", *exchange)
		}
		verifying = common.HexToAddress(*exchange)
	}
	domain := crypto.NewDomain(*chainID, verifying)

	fmt.Println("Action:")
	fmt.Printf("  Type: %s\n", action.Type)
	fmt.Printf("  Ticker: %s\n", action.Ticker)
	if action.Amount != nil {
		fmt.Printf("  Amount: %s\n", action.Amount.Dec())
	}
	if action.Price != nil {
		fmt.Printf("  Price: %s\n", action.Price.Dec())
	}
	if action.Type == transaction.TxTypeLimitOrder || action.Type == transaction.TxTypeMarketOrder {
		fmt.Printf("  Side: %s\n", action.Side)
	}
	fmt.Printf("  Nonce: %d\n\n", action.Nonce)

	// Step 3: Sign with EIP-712
	signedTx, err := transaction.Sign(crypto.NewEIP712Signer(domain), signer, action)
	if err != nil {
		fail("sign: %v", err)
	}
	txJSON, err := json.MarshalIndent(signedTx, "", "  ")
	if err != nil {
		fail("marshal: %v", err)
	}
	fmt.Println("Signed Transaction (JSON):")
	fmt.Println(string(txJSON))
	fmt.Println()

	// Step 4: Verify signature
	decoded, err := transaction.NewVerifier(domain).Verify(signedTx)
	if err != nil {
		fail("verify: %v", err)
	}
	fmt.Println("Signature VALID")
	fmt.Printf("  Signer: %s\n\n", decoded.Owner.Hex())

	fmt.Println("To submit:")
	fmt.Printf("  POST %s/api/v1/tx\n", *api)
	fmt.Println("  Content-Type: application/json")
}

func mustAmount(name, s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil || v.IsZero() {
		fail("%s must be a positive integer, got %q", name, s)
	}
	return v
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
