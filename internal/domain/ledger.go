package domain

import "time"

// LedgerType classifies a balance change.
type LedgerType string

const (
	LedgerCasePurchase     LedgerType = "case_purchase"
	LedgerWager            LedgerType = "wager"
	LedgerPayout           LedgerType = "payout"
	LedgerWithdrawalFee    LedgerType = "withdrawal_fee"
	LedgerWithdrawalRefund LedgerType = "withdrawal_refund"
	LedgerItemSale         LedgerType = "item_sale"
	LedgerDeposit          LedgerType = "deposit"
	LedgerAdjustment       LedgerType = "adjustment"
)

var validLedgerTypes = map[LedgerType]bool{
	LedgerCasePurchase:     true,
	LedgerWager:            true,
	LedgerPayout:           true,
	LedgerWithdrawalFee:    true,
	LedgerWithdrawalRefund: true,
	LedgerItemSale:         true,
	LedgerDeposit:          true,
	LedgerAdjustment:       true,
}

// Valid reports whether t is a known ledger type.
func (t LedgerType) Valid() bool { return validLedgerTypes[t] }

// UserBalance is the spendable balance of a user.
type UserBalance struct {
	UserID    string    `json:"user_id"`
	Balance   Money     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is one immutable balance change. BalanceAfter always equals
// BalanceBefore + AmountDelta.
type LedgerEntry struct {
	ID            int64          `json:"id"`
	UserID        string         `json:"user_id"`
	Type          LedgerType     `json:"type"`
	AmountDelta   Money          `json:"amount_delta"`
	BalanceBefore Money          `json:"balance_before"`
	BalanceAfter  Money          `json:"balance_after"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
