package market

import "errors"

// Error kinds. Every specific error below wraps exactly one of these so callers
// can match at either granularity with errors.Is.
var (
	ErrNotFound          = errors.New("market: not found")
	ErrStateConflict     = errors.New("market: state conflict")
	ErrUnauthorized      = errors.New("market: unauthorized")
	ErrInsufficientFunds = errors.New("market: insufficient funds")
	ErrInvalidArgument   = errors.New("market: invalid argument")
	ErrInternal          = errors.New("market: internal error")
)

// Error is a coded engine failure.
type Error struct {
	kind error
	code string
	msg  string
}

func newError(kind error, code, msg string) *Error {
	return &Error{kind: kind, code: code, msg: msg}
}

func (e *Error) Error() string { return "market: " + e.msg }

// Unwrap exposes the error kind.
func (e *Error) Unwrap() error { return e.kind }

// Code returns the stable machine-readable identifier of the failure.
func (e *Error) Code() string { return e.code }

// Kind returns the sentinel the error wraps.
func (e *Error) Kind() error { return e.kind }

var (
	ErrAlreadyExists             = newError(ErrStateConflict, "already_exists", "market already exists for mint")
	ErrMintExists                = newError(ErrStateConflict, "mint_exists", "mint already registered")
	ErrMintNotFound              = newError(ErrNotFound, "mint_not_found", "mint not registered")
	ErrMarketNotFound            = newError(ErrNotFound, "market_not_found", "market not found")
	ErrBidNotFound               = newError(ErrNotFound, "bid_not_found", "bid order not found")
	ErrRecordNotFound            = newError(ErrNotFound, "record_not_found", "borrow record not found")
	ErrInvalidAmount             = newError(ErrInvalidArgument, "invalid_amount", "amount must be positive and within range")
	ErrInvalidRate               = newError(ErrInvalidArgument, "invalid_rate", "rate exceeds maximum basis points")
	ErrInvalidMint               = newError(ErrInvalidArgument, "invalid_mint", "mint symbol or decimals out of range")
	ErrInvalidCredit             = newError(ErrInvalidArgument, "invalid_credit", "vault accounts cannot be credited directly")
	ErrAmountOverflow            = newError(ErrInvalidArgument, "amount_overflow", "amount exceeds representable range")
	ErrBidClosed                 = newError(ErrStateConflict, "bid_closed", "bid order is filled or cancelled")
	ErrBidAlreadyClosed          = newError(ErrStateConflict, "bid_already_closed", "bid order is already filled or cancelled")
	ErrInsufficientBidLiquidity  = newError(ErrInsufficientFunds, "insufficient_bid_liquidity", "amount exceeds remaining bid liquidity")
	ErrDuplicateActiveBorrow     = newError(ErrStateConflict, "duplicate_active_borrow", "borrower already has an active loan against this bid")
	ErrAlreadyRepaid             = newError(ErrStateConflict, "already_repaid", "borrow record already repaid")
	ErrNothingToClaim            = newError(ErrStateConflict, "nothing_to_claim", "bid order has no proceeds to claim")
	ErrNotBorrower               = newError(ErrUnauthorized, "not_borrower", "caller is not the borrower")
	ErrNotLender                 = newError(ErrUnauthorized, "not_lender", "caller is not the lender")
	ErrNotAuthority              = newError(ErrUnauthorized, "not_authority", "caller may not initialize markets")
	ErrInsufficientLenderFunds   = newError(ErrInsufficientFunds, "insufficient_lender_funds", "lender balance below bid amount")
	ErrInsufficientBorrowerFunds = newError(ErrInsufficientFunds, "insufficient_borrower_funds", "borrower balance below amount due")
	ErrInsufficientVaultFunds    = newError(ErrInternal, "insufficient_vault_funds", "vault holdings below backed liquidity")
	ErrInvariantViolation        = newError(ErrInternal, "invariant_violation", "vault accounting does not reconcile")
	ErrMarketHalted              = newError(ErrInternal, "market_halted", "market halted after a consistency fault")
	ErrPaused                    = newError(ErrStateConflict, "paused", "market operations paused")
)

// CodeOf returns the code of a coded error, or "internal" for anything else.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return "internal"
}
