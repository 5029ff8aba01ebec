package core

import "errors"

// Sentinel errors for the game/rating core. Business-rule rejections (seat
// taken, rating out of range, losing a join race) are boolean outcomes, not
// errors; these cover the cases callers must distinguish.
var (
	ErrNotFound           = errors.New("not found")
	ErrGameNotOpen        = errors.New("game is not open")
	ErrNotInGame          = errors.New("user occupies no seat in this game")
	ErrInvalidOutcome     = errors.New("invalid team outcome")
	ErrIncompleteRoster   = errors.New("all four seats must be filled")
	ErrStoreUnavailable   = errors.New("storage unavailable")
	ErrCreationExhausted  = errors.New("game id generation exhausted")
	ErrDuplicateOccupancy = errors.New("user already seated in this game")
)

// Error codes returned to HTTP clients
const (
	ErrCodeGameNotFound   = "GAME_NOT_FOUND"
	ErrCodeUserNotFound   = "USER_NOT_FOUND"
	ErrCodeGameNotOpen    = "GAME_NOT_OPEN"
	ErrCodeNotInGame      = "NOT_IN_GAME"
	ErrCodeSeatRejected   = "SEAT_REJECTED"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidContent = "INVALID_CONTENT_TYPE"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
)

// ErrorResponse is the uniform error body for the HTTP API
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
