package credits

import (
	"errors"
	"strconv"
	"time"
)

// Defaults used when configuration leaves a value unset.
const (
	DefaultMessageCost = 10
	DefaultPerToken    = 10
	DefaultHoldTTL     = 5 * time.Minute
)

// HoldStatus is the lifecycle state of a Hold.
type HoldStatus string

const (
	HoldPending  HoldStatus = "pending"
	HoldConsumed HoldStatus = "consumed"
	HoldReleased HoldStatus = "released"
	HoldExpired  HoldStatus = "expired"
)

var (
	// ErrInsufficientCredits is wrapped by *ShortfallError.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrHoldNotFound is returned for unknown or already settled holds.
	ErrHoldNotFound = errors.New("credit hold not found")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("invalid credit amount")
)

// ShortfallError reports how far short a user is.
type ShortfallError struct {
	Credits  float64
	Required float64
}

func (e *ShortfallError) Error() string {
	return "Insufficient credits. You need " + FormatAmount(e.Required) +
		" credits to send a message, but you only have " + FormatAmount(e.Credits) + " credits."
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficientCredits }

// Hold reserves credits for an in-flight paid call.
type Hold struct {
	ID        string
	UserID    string
	Reference string
	Amount    float64
	Status    HoldStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Balance is the result of a credit check.
type Balance struct {
	Credits    float64 // stored balance
	Held       float64 // sum of pending holds
	Available  float64
	Required   float64
	Sufficient bool
}

// Deduction reports a settled charge.
type Deduction struct {
	Deducted  float64 `json:"deducted"`
	Remaining float64 `json:"remaining"`
	Success   bool    `json:"deductionSuccessful"`
	Error     string  `json:"-"`
}

// FormatAmount renders a credit amount without trailing zeros.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
