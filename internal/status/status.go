package status

import "errors"

var (
	ErrInvalidRequest        = errors.New("request: malformed purchase request")
	ErrEventNotFound         = errors.New("event: event not found")
	ErrSalesClosed           = errors.New("event: purchase window closed")
	ErrUnknownTicketType     = errors.New("inventory: ticket type not found")
	ErrInsufficientInventory = errors.New("inventory: not enough tickets remaining")
	ErrRateUnavailable       = errors.New("currency: exchange rate unavailable")
	ErrChargeNotCaptured     = errors.New("payment: charge not captured")
	ErrMissingMetadata       = errors.New("payment: charge metadata missing or malformed")
	ErrTicketUsed            = errors.New("ticket: ticket already used")
	ErrTicketNotFound        = errors.New("ticket: ticket not found")
)
