package roast

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/voice-roaster/internal/core"
	"github.com/book-expert/voice-roaster/internal/state"
)

// Reason classifies why a workflow or an admin operation was refused.
type Reason string

// Abort reasons.
const (
	ReasonInvalidArgument    Reason = "invalid_argument"
	ReasonConsentDenied      Reason = "consent_denied"
	ReasonTierDisabled       Reason = "tier_disabled"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonContentUnavailable Reason = "content_unavailable"
	ReasonProfanityBlocked   Reason = "profanity_blocked"
	ReasonSynthesisFailed    Reason = "synthesis_failed"
	ReasonDeliveryFailed     Reason = "delivery_failed"
	ReasonStorageError       Reason = "storage_error"
	ReasonPermissionDenied   Reason = "permission_denied"
)

// Sentinels matched by errors.Is against an *AbortError of the same reason.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrConsentDenied      = errors.New("target has not opted in to roasts")
	ErrTierDisabled       = errors.New("tier disabled in this group")
	ErrRateLimited        = errors.New("issuer is rate limited")
	ErrContentUnavailable = errors.New("no content available for tier")
	ErrProfanityBlocked   = errors.New("content blocked by safe mode")
	ErrSynthesisFailed    = errors.New("synthesis failed")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrStorage            = errors.New("storage error")
	ErrPermissionDenied   = errors.New("permission denied")
)

var reasonSentinels = map[Reason]error{
	ReasonInvalidArgument:    ErrInvalidArgument,
	ReasonConsentDenied:      ErrConsentDenied,
	ReasonTierDisabled:       ErrTierDisabled,
	ReasonRateLimited:        ErrRateLimited,
	ReasonContentUnavailable: ErrContentUnavailable,
	ReasonProfanityBlocked:   ErrProfanityBlocked,
	ReasonSynthesisFailed:    ErrSynthesisFailed,
	ReasonDeliveryFailed:     ErrDeliveryFailed,
	ReasonStorageError:       ErrStorage,
	ReasonPermissionDenied:   ErrPermissionDenied,
}

// Sentinel returns the error matched by errors.Is for this reason.
func (r Reason) Sentinel() error {
	return reasonSentinels[r]
}

// AbortError ends a workflow or admin operation without mutating any state.
type AbortError struct {
	Reason Reason
	// State is the last state reached before the abort; empty for admin operations.
	State State
	// Remaining is the wait before the issuer may roast again, in whole minutes.
	// Only set for ReasonRateLimited.
	Remaining time.Duration
	Err       error
}

func (e *AbortError) Error() string {
	message := string(e.Reason)
	if e.State != "" {
		message = fmt.Sprintf("aborted after %s: %s", e.State, e.Reason)
	}

	if e.Reason == ReasonRateLimited {
		message = fmt.Sprintf("%s (retry in %d minutes)", message, e.RemainingMinutes())
	}

	if e.Err != nil {
		message = fmt.Sprintf("%s: %v", message, e.Err)
	}

	return message
}

// Unwrap exposes the reason sentinel and the underlying cause.
func (e *AbortError) Unwrap() []error {
	errs := []error{e.Reason.Sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// RemainingMinutes returns Remaining as a whole number of minutes.
func (e *AbortError) RemainingMinutes() int64 {
	return int64(e.Remaining / time.Minute)
}

// CommitError reports a roast that was delivered but could not be recorded.
// The issuer's cooldown did not start and the audit log lacks the event.
type CommitError struct {
	Event   state.RoastEvent
	Receipt core.Receipt
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf(
		"roast delivered as message %d but not recorded for issuer %d: %v",
		e.Receipt.MessageID, e.Event.IssuerUserID, e.Err,
	)
}

// Unwrap matches ErrStorage and the underlying store failure.
func (e *CommitError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func abort(reason Reason, current State, err error) *AbortError {
	return &AbortError{
		Reason:    reason,
		State:     current,
		Remaining: 0,
		Err:       err,
	}
}

// remainingWait rounds the rest of the cooldown up to whole minutes.
func remainingWait(rateLimit, elapsed time.Duration) time.Duration {
	rest := rateLimit - elapsed
	minutes := (rest + time.Minute - 1) / time.Minute

	return minutes * time.Minute
}
