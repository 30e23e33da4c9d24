package domain

import (
	"fmt"
	"time"
)

// WithdrawState is the withdrawal state carried on a won inventory item.
type WithdrawState string

const (
	WithdrawNone    WithdrawState = "none"
	WithdrawPending WithdrawState = "pending"
	WithdrawSent    WithdrawState = "sent"
)

// WithdrawEvent drives a WithdrawState transition.
type WithdrawEvent string

const (
	WithdrawEventReserve  WithdrawEvent = "reserve"
	WithdrawEventComplete WithdrawEvent = "complete"
	WithdrawEventCancel   WithdrawEvent = "cancel"
)

// Transition returns the state reached by applying ev. Only
// none->pending (reserve), pending->sent (complete) and pending->none
// (cancel) are defined; everything else is ErrInvalidState.
func (s WithdrawState) Transition(ev WithdrawEvent) (WithdrawState, error) {
	switch s {
	case WithdrawNone:
		if ev == WithdrawEventReserve {
			return WithdrawPending, nil
		}
	case WithdrawPending:
		switch ev {
		case WithdrawEventComplete:
			return WithdrawSent, nil
		case WithdrawEventCancel:
			return WithdrawNone, nil
		}
	case WithdrawSent:
	default:
		return s, fmt.Errorf("unknown withdraw state %q: %w", s, ErrInvalidState)
	}
	return s, fmt.Errorf("withdraw %s -> %s: %w", s, ev, ErrInvalidState)
}

// WithdrawalStatus is the status of a withdrawal request row.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalSent      WithdrawalStatus = "sent"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

// WithdrawalRequest tracks one attempt to deliver a won item.
type WithdrawalRequest struct {
	ID          string           `json:"id"`
	InventoryID string           `json:"inventory_id"`
	UserID      string           `json:"user_id"`
	StockUnitID string           `json:"stock_unit_id"`
	Status      WithdrawalStatus `json:"status"`
	Fee         Money            `json:"fee"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
