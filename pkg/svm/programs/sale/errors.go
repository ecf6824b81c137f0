package sale

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is a sale program error. Its code is stable across the journal and
// RPC boundaries.
type Error uint32

const (
	// The sale config already exists
	ErrAlreadyInitialized Error = iota + 0x1770

	// Price or cap is zero, or the whitelist is too long
	ErrInvalidParameters

	// Buyer is not whitelisted
	ErrNotWhitelisted

	// Amount must be greater than zero
	ErrInvalidAmount

	// Purchase exceeds max tokens per wallet
	ErrExceedsMaxPerWallet

	// Total cost overflows
	ErrArithmeticOverflow

	// Vault holds fewer tokens than requested
	ErrInsufficientVaultSupply

	// Buyer cannot pay the total cost
	ErrInsufficientFunds

	// A supplied account does not match the sale config
	ErrAccountMismatch
)

var errorNames = map[Error]string{
	ErrAlreadyInitialized:      "AlreadyInitialized",
	ErrInvalidParameters:       "InvalidParameters",
	ErrNotWhitelisted:          "NotWhitelisted",
	ErrInvalidAmount:           "InvalidAmount",
	ErrExceedsMaxPerWallet:     "ExceedsMaxPerWallet",
	ErrArithmeticOverflow:      "ArithmeticOverflow",
	ErrInsufficientVaultSupply: "InsufficientVaultSupply",
	ErrInsufficientFunds:       "InsufficientFunds",
	ErrAccountMismatch:         "AccountMismatch",
}

var errorMessages = map[Error]string{
	ErrAlreadyInitialized:      "sale already initialized",
	ErrInvalidParameters:       "invalid sale parameters",
	ErrNotWhitelisted:          "buyer is not whitelisted",
	ErrInvalidAmount:           "amount must be greater than zero",
	ErrExceedsMaxPerWallet:     "purchase exceeds max tokens per wallet",
	ErrArithmeticOverflow:      "arithmetic overflow",
	ErrInsufficientVaultSupply: "insufficient vault supply",
	ErrInsufficientFunds:       "insufficient funds",
	ErrAccountMismatch:         "account mismatch",
}

func (e Error) Error() string {
	if msg, ok := errorMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("unknown sale error %d", uint32(e))
}

// Code returns the custom program error code.
func (e Error) Code() uint32 {
	return uint32(e)
}

// Name returns the error variant name.
func (e Error) Name() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return "Unknown"
}

// ErrorFromCode maps a custom error code back to its Error.
func ErrorFromCode(code uint32) (Error, bool) {
	e := Error(code)
	_, ok := errorNames[e]
	return e, ok
}

// AsError extracts the sale error from a possibly wrapped err.
func AsError(err error) (Error, bool) {
	var e Error
	if errors.As(err, &e) {
		return e, true
	}
	return 0, false
}
