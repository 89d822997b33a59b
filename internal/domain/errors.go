package domain

import "errors"

// Generic store/service errors, carried from the teacher's domain package.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)

// Exchange error sentinels, matched verbatim by the Processor and Instant
// Executor state machines (spec §6/§7). An ExchangeClient implementation is
// expected to map whatever error shape its REST/WS transport returns onto
// one of these via errors.Is / errors.As wrapping.
var (
	ErrUnableToFillOrder        = errors.New("exchange: unable to fill order")
	ErrTransactionFailed        = errors.New("exchange: transaction failed")
	ErrOrderCompletedOrNotExist = errors.New("exchange: order completed or does not exist")
	ErrInvalidOrderNumber       = errors.New("exchange: invalid order number")
	ErrNotEnoughCrypto          = errors.New("exchange: not enough crypto")
	ErrAmountTooSmall           = errors.New("exchange: amount must be at least minimum")
	ErrTotalTooSmall            = errors.New("exchange: total must be at least minimum")
	ErrRateTooHigh              = errors.New("exchange: rate must be less than maximum")
	ErrUnableToPlacePostOnly    = errors.New("exchange: unable to place post-only order")
	ErrMaxOrdersExceeded        = errors.New("exchange: max orders exceeded")
	ErrInternalError            = errors.New("exchange: internal error")
	ErrMaintenanceMode          = errors.New("exchange: maintenance mode")
	ErrMarketDisabled           = errors.New("exchange: market disabled")
	ErrOrderMatchingDisabled    = errors.New("exchange: order matching disabled")
	ErrDisconnected             = errors.New("exchange: disconnected")
	ErrOrderBookEmpty           = errors.New("exchange: order book empty on requested side")
)

// Engine-level control errors raised inside the Transaction Intent state
// machine (spec §4.7/§7); these are not exchange errors, they drive the
// intent's own re-planning and unfilled handling.
var (
	ErrNotProfitableDelta   = errors.New("intent: path no longer profitable")
	ErrNotProfitableTimeout = errors.New("intent: profit monitor timed out")
	ErrUnfillable           = errors.New("intent: step could not be filled")
)
