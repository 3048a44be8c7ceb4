package domain

import (
	"errors"

	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

// Infrastructure errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSigningFailed     = errors.New("signing failed")
)

// State errors.
var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAlreadyResolved        = errors.New("market already resolved")
	ErrAlreadyDisputed        = errors.New("market already disputed")
	ErrMarketNotActive        = errors.New("market not active")
	ErrMarketNotFinalized     = errors.New("market not finalized")
	ErrCannotCancelMarket     = errors.New("market cannot be cancelled in its current state")
	ErrNoResolutionProposed   = errors.New("no resolution proposed")
	ErrMarketExists           = errors.New("market already exists")
	ErrAlreadyInitialized     = errors.New("global config already initialized")
	ErrNotInitialized         = errors.New("global config not initialized")
)

// Authorization errors.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrProtocolPaused = errors.New("protocol paused")
)

// Arithmetic errors share identity with the fixedpoint package so that
// errors.Is matches regardless of which layer raised them.
var (
	ErrOverflow       = fixedpoint.ErrOverflow
	ErrUnderflow      = fixedpoint.ErrUnderflow
	ErrDivisionByZero = fixedpoint.ErrDivisionByZero
	ErrSearchDiverged = errors.New("share search did not converge")
)

// Business-rule errors.
var (
	ErrSlippageExceeded        = errors.New("slippage exceeded")
	ErrInsufficientShares      = errors.New("insufficient shares")
	ErrInsufficientLiquidity   = errors.New("insufficient liquidity")
	ErrNoWinnings              = errors.New("no winnings")
	ErrNoLiquidityToWithdraw   = errors.New("no liquidity to withdraw")
	ErrAlreadyClaimed          = errors.New("already claimed")
	ErrAlreadyVoted            = errors.New("already voted")
	ErrNoVotesRecorded         = errors.New("no votes recorded")
	ErrInsufficientVotes       = errors.New("insufficient votes")
	ErrInvalidLMSRParameter    = errors.New("invalid LMSR b parameter")
	ErrInvalidLiquidity        = errors.New("invalid liquidity")
	ErrDisputePeriodEnded      = errors.New("dispute period ended")
	ErrDisputePeriodNotEnded   = errors.New("dispute period not ended")
	ErrInvalidTimestamp        = errors.New("invalid timestamp")
	ErrInvalidFeeConfiguration = errors.New("invalid fee configuration")
	ErrInvalidThreshold        = errors.New("invalid threshold")
	ErrInvalidTimeLimit        = errors.New("invalid time limit")
	ErrInvalidOutcome          = errors.New("invalid outcome")
	ErrInvalidEvidence         = errors.New("invalid evidence reference")
	ErrZeroAmount              = errors.New("amount must be greater than zero")
	ErrTradeTooSmall           = errors.New("trade below minimum amount")
	ErrBoundedLossExceeded     = errors.New("bounded loss exceeded")
)

// errorCodes lists the stable, client-facing code of every engine error.
// The first match wins when an error wraps several sentinels.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "NotFound"},
	{ErrAlreadyExists, "AlreadyExists"},
	{ErrRateLimited, "RateLimited"},
	{ErrLockHeld, "LockHeld"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrSigningFailed, "SigningFailed"},

	{ErrInvalidStateTransition, "InvalidStateTransition"},
	{ErrAlreadyResolved, "AlreadyResolved"},
	{ErrAlreadyDisputed, "AlreadyDisputed"},
	{ErrMarketNotActive, "MarketNotActive"},
	{ErrMarketNotFinalized, "MarketNotFinalized"},
	{ErrCannotCancelMarket, "CannotCancelMarket"},
	{ErrNoResolutionProposed, "NoResolutionProposed"},
	{ErrMarketExists, "MarketExists"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},

	{ErrUnauthorized, "Unauthorized"},
	{ErrProtocolPaused, "ProtocolPaused"},

	{ErrOverflow, "Overflow"},
	{ErrUnderflow, "Underflow"},
	{ErrDivisionByZero, "DivisionByZero"},
	{fixedpoint.ErrExponentTooLarge, "ExponentTooLarge"},
	{fixedpoint.ErrInvalidInput, "InvalidInput"},
	{ErrSearchDiverged, "SearchDiverged"},

	{ErrSlippageExceeded, "SlippageExceeded"},
	{ErrInsufficientShares, "InsufficientShares"},
	{ErrInsufficientLiquidity, "InsufficientLiquidity"},
	{ErrNoWinnings, "NoWinnings"},
	{ErrNoLiquidityToWithdraw, "NoLiquidityToWithdraw"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrAlreadyVoted, "AlreadyVoted"},
	{ErrNoVotesRecorded, "NoVotesRecorded"},
	{ErrInsufficientVotes, "InsufficientVotes"},
	{ErrInvalidLMSRParameter, "InvalidLMSRParameter"},
	{ErrInvalidLiquidity, "InvalidLiquidity"},
	{ErrDisputePeriodEnded, "DisputePeriodEnded"},
	{ErrDisputePeriodNotEnded, "DisputePeriodNotEnded"},
	{ErrInvalidTimestamp, "InvalidTimestamp"},
	{ErrInvalidFeeConfiguration, "InvalidFeeConfiguration"},
	{ErrInvalidThreshold, "InvalidThreshold"},
	{ErrInvalidTimeLimit, "InvalidTimeLimit"},
	{ErrInvalidOutcome, "InvalidOutcome"},
	{ErrInvalidEvidence, "InvalidEvidence"},
	{ErrZeroAmount, "ZeroAmount"},
	{ErrTradeTooSmall, "TradeTooSmall"},
	{ErrBoundedLossExceeded, "BoundedLossExceeded"},
}

// ErrorCode returns the stable code for err, or "Internal" when err does
// not wrap a known engine error.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}
