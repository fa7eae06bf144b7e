package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/uhyunpark/spotdex/pkg/crypto"
)

var ErrBadSignature = errors.New("signature does not match owner")

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

func (v *Verifier) Signer() *crypto.EIP712Signer { return v.eip712Signer }

// Verify checks the signature against the claimed owner and returns the
// decoded action.
func (v *Verifier) Verify(tx *SignedTransaction) (*Action, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	typed, err := tx.ToEIP712()
	if err != nil {
		return nil, err
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	recovered, err := v.eip712Signer.RecoverActionSigner(typed, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if recovered != typed.Owner {
		return nil, fmt.Errorf("%w: recovered %s", ErrBadSignature, recovered.Hex())
	}

	return actionFromEIP712(typed)
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	return sigBytes, nil
}
