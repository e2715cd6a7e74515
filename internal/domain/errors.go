package domain

import "errors"

// Common errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrForbidden = errors.New("access forbidden: you don't own this resource")

	// ErrAlreadyPaid is returned when a payment write finds the voucher's
	// payment sub-record already populated.
	ErrAlreadyPaid = errors.New("voucher already has a payment recorded")

	// ErrStateConflict is returned when a conditional status update matched
	// no document, i.e. the record is no longer in the expected source state.
	ErrStateConflict = errors.New("record is not in the expected state")

	// ErrNoStock is returned when a purchase asks for a package that has no
	// unsold vouchers left on the router.
	ErrNoStock = errors.New("no vouchers available for this package")

	// ErrDuplicateReceipt is returned when the transactions unique index on
	// the gateway receipt rejects an insert.
	ErrDuplicateReceipt = errors.New("transaction receipt already recorded")

	// ErrCodeCollision is returned when a voucher insert hits the unique
	// index on code or reference. Batch generation retries with fresh codes.
	ErrCodeCollision = errors.New("voucher code or reference collision")
)
