package market

import (
	"errors"
)

// ErrorKind classifies operation failures. Every failure an operation can
// return on its own behalf belongs to exactly one kind; collaborator
// failures are wrapped and keep their underlying reason.
type ErrorKind uint8

const (
	KindValidation ErrorKind = iota + 1
	KindAuthorization
	KindState
	KindEconomic
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindAuthorization:
		return "AUTHORIZATION"
	case KindState:
		return "STATE"
	case KindEconomic:
		return "ECONOMIC"
	default:
		return "UNKNOWN"
	}
}

// Error is a marketplace failure with a stable reason string. The sentinel
// values below are comparable with errors.Is.
type Error struct {
	kind   ErrorKind
	reason string
}

func (e *Error) Error() string   { return e.reason }
func (e *Error) Kind() ErrorKind { return e.kind }

var (
	ErrZeroPrice     = &Error{KindValidation, "price can not be set to 0"}
	ErrZeroParameter = &Error{KindValidation, "can not be zero"}

	ErrNotTokenOwner = &Error{KindAuthorization, "sender is not the token owner"}
	ErrNotAdmin      = &Error{KindAuthorization, "caller is not the owner"}

	ErrNotListed      = &Error{KindState, "token is not listed"}
	ErrNoAuction      = &Error{KindState, "no auction found"}
	ErrAuctionClosed  = &Error{KindState, "auction is closed"}
	ErrAuctionRunning = &Error{KindState, "auction is in progress"}

	ErrInsufficientBalance = &Error{KindEconomic, "insufficient balance"}
	ErrPaymentFailed       = &Error{KindEconomic, "payment transfer failed"}
	ErrBidTooLow           = &Error{KindEconomic, "price is less than required"}
	ErrBidNotHigher        = &Error{KindEconomic, "last bid had >= price"}
)

// KindOf extracts the ErrorKind from err or any error it wraps. Collaborator
// failures that carry no kind report 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return 0
}
