package engine

import (
	"errors"

	"github.com/uhyunpark/spotdex/pkg/app/core/token"
)

// Rejections surfaced to callers. Messages are matched on by clients.
var (
	ErrUnknownToken             = token.ErrUnknownToken
	ErrQuoteAssetNotTradable    = errors.New("cannot trade quote asset")
	ErrInsufficientBaseBalance  = errors.New("token balance too low")
	ErrInsufficientQuoteBalance = errors.New("dai balance too low")
	ErrCounterpartyUnderfunded  = errors.New("counterparty balance too low")
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrInvalidPrice             = errors.New("price must be positive")
	ErrOverflow                 = errors.New("arithmetic overflow")
	ErrStalePlan                = errors.New("execution planned against stale state")
)
