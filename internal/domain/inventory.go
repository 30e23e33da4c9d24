package domain

import "time"

// InventoryState tracks whether a won item is still held by the user.
type InventoryState string

const (
	InventoryHeld InventoryState = "held"
	InventorySold InventoryState = "sold"
)

// InventoryItem is a reward a user won and may withdraw or sell.
type InventoryItem struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	ItemKey       string         `json:"item_key"`
	WonValue      Money          `json:"won_value"`
	Source        string         `json:"source"`
	State         InventoryState `json:"state"`
	WithdrawState WithdrawState  `json:"withdraw_state"`
	StockUnitID   string         `json:"stock_unit_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
