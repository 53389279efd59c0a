package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrDataUnavailable       = errors.New("book data unavailable or stale")
	ErrFeedProtocol          = errors.New("malformed feed message")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrExcessiveImpact       = errors.New("excessive price impact")
	ErrLowFillRatio          = errors.New("fill ratio below minimum")
	ErrRiskRejected          = errors.New("rejected by risk limits")
	ErrDrawdownHalt          = errors.New("drawdown kill switch engaged")
	ErrNakedExposure         = errors.New("unwind failed, naked exposure")
	ErrInvalidOrder          = errors.New("invalid order parameters")
	ErrWSDisconnect          = errors.New("websocket disconnected")
	ErrLockHeld              = errors.New("lock already held")
	ErrRateLimited           = errors.New("venue rate limit reached")
	ErrUnauthorized          = errors.New("unauthorized")
)
