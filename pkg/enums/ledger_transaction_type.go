package enums

import "fmt"

// LedgerTransactionType classifies each stock movement in the audit log.
type LedgerTransactionType string

const (
	LedgerTransactionTypeStockIn     LedgerTransactionType = "stock_in"
	LedgerTransactionTypeStockOut    LedgerTransactionType = "stock_out"
	LedgerTransactionTypeAdjustment  LedgerTransactionType = "adjustment"
	LedgerTransactionTypeTransferIn  LedgerTransactionType = "transfer_in"
	LedgerTransactionTypeTransferOut LedgerTransactionType = "transfer_out"
	LedgerTransactionTypeRequestIn   LedgerTransactionType = "request_in"
	LedgerTransactionTypeRequestOut  LedgerTransactionType = "request_out"
)

var validLedgerTransactionTypes = []LedgerTransactionType{
	LedgerTransactionTypeStockIn,
	LedgerTransactionTypeStockOut,
	LedgerTransactionTypeAdjustment,
	LedgerTransactionTypeTransferIn,
	LedgerTransactionTypeTransferOut,
	LedgerTransactionTypeRequestIn,
	LedgerTransactionTypeRequestOut,
}

// IsValid reports whether the value matches the canonical transaction type enum.
func (t LedgerTransactionType) IsValid() bool {
	for _, candidate := range validLedgerTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerTransactionType converts raw input into LedgerTransactionType.
func ParseLedgerTransactionType(value string) (LedgerTransactionType, error) {
	for _, candidate := range validLedgerTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger transaction type %q", value)
}
