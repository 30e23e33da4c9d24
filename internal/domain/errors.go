package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	ErrAnomalousQuote        = errors.New("anomalous quote")
	ErrSourceUnavailable     = errors.New("quote source unavailable")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOutOfStock            = errors.New("no stock")
	ErrInvalidState          = errors.New("invalid state transition")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrInvalidBet            = errors.New("invalid bet")
)
