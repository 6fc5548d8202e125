package providers

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories recognized by the gateway. Categories are free-form
// strings on the wire; the constants below are the ones the failover
// policy understands.
const (
	CategoryProviderError       = "provider_error"
	CategoryProviderUnavailable = "provider_unavailable"
	CategoryQuotaExceeded       = "quota_exceeded"
	CategoryRateLimit           = "rate_limit"
	CategoryTimeout             = "timeout"
	CategoryServerError         = "server_error"
	CategoryTransient           = "transient"
	CategoryAPIError            = "api_error"
	CategoryCapExceeded         = "cap_exceeded"
	CategoryBudgetExhausted     = "budget_exhausted"
)

// failoverCategories is the set of categories eligible for moving to the
// next chain entry even when the error itself is not retryable.
var failoverCategories = map[string]bool{
	CategoryProviderError:       true,
	CategoryProviderUnavailable: true,
	CategoryQuotaExceeded:       true,
	CategoryRateLimit:           true,
	CategoryTimeout:             true,
	CategoryServerError:         true,
	CategoryTransient:           true,
	CategoryAPIError:            true,
}

// Error is the taxonomy error raised by providers and the gateway.
// Retryable and Violation are independent axes: retryable errors may be
// re-attempted against the same provider; violation errors are hard
// policy boundaries that are never retried and never failed over.
type Error struct {
	Message   string
	Retryable bool
	Category  string
	Violation bool
}

func (e *Error) Error() string { return e.Message }

// New returns a non-retryable, non-violation provider error.
func New(message, category string) *Error {
	if category == "" {
		category = CategoryProviderError
	}
	return &Error{Message: message, Category: category}
}

// NewRetryable returns a transient error (timeout, 5xx, rate limit).
func NewRetryable(message, category string) *Error {
	if category == "" {
		category = CategoryTransient
	}
	return &Error{Message: message, Retryable: true, Category: category}
}

// NewCapExceeded returns a violation error for a hard configured limit.
func NewCapExceeded(message string) *Error {
	return &Error{Message: message, Category: CategoryCapExceeded, Violation: true}
}

// AsError coerces any error into the taxonomy. Foreign errors become
// non-retryable errors with the given fallback category.
func AsError(err error, fallbackCategory string) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return New(err.Error(), fallbackCategory)
}

// FailoverEligible reports whether an error may trigger advancing to the
// next chain entry. Violations never fail over; otherwise retryable
// errors and recognized transient categories are eligible.
func FailoverEligible(err error) bool {
	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}
	if perr.Violation {
		return false
	}
	return perr.Retryable || failoverCategories[perr.Category]
}

// ExhaustedError is the terminal error returned when every chain entry
// failed. Attempted holds "provider:model" labels in chain order.
type ExhaustedError struct {
	Attempted []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted: %s", strings.Join(e.Attempted, ", "))
}
