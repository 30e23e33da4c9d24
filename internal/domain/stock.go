package domain

import "fmt"

// StockState is the lifecycle state of a fulfillable unit.
type StockState string

const (
	StockAvailable StockState = "available"
	StockReserved  StockState = "reserved"
	StockSent      StockState = "sent"
)

// StockEvent drives a StockState transition.
type StockEvent string

const (
	StockEventReserve   StockEvent = "reserve"
	StockEventMarkSent  StockEvent = "mark_sent"
	StockEventUnreserve StockEvent = "unreserve"
)

// StockUnit is one physical unit held by a fulfilment bot.
type StockUnit struct {
	ID           string     `json:"id"`
	ItemKey      string     `json:"item_key"`
	BotID        string     `json:"bot_id"`
	State        StockState `json:"state"`
	WithdrawalID string     `json:"withdrawal_id,omitempty"`
}

// Next returns the state reached by applying ev, or ErrInvalidState.
func (s StockState) Next(ev StockEvent) (StockState, error) {
	switch s {
	case StockAvailable:
		if ev == StockEventReserve {
			return StockReserved, nil
		}
	case StockReserved:
		switch ev {
		case StockEventMarkSent:
			return StockSent, nil
		case StockEventUnreserve:
			return StockAvailable, nil
		}
	case StockSent:
	default:
		return s, fmt.Errorf("unknown stock state %q: %w", s, ErrInvalidState)
	}
	return s, fmt.Errorf("stock %s -> %s: %w", s, ev, ErrInvalidState)
}
