// Package engine provides the conversation model and the action dispatch loop.
// This file contains error classification and handling.

package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RetryClass indicates whether an error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"     // Definitely retry
	RetryClassMaybe        RetryClass = "maybe"         // Retry with caution (limited attempts)
	RetryClassNonRetryable RetryClass = "non_retryable" // Never retry
)

// EngineError wraps provider errors with classification metadata.
type EngineError struct {
	Err         error
	Class       RetryClass
	Provider    string // Backend that produced the error
	HTTPStatus  int    // HTTP status code if applicable
	RetryAfter  string // Retry-After header value if present
	IsRateLimit bool   // True if this is a rate limit error
	IsOverload  bool   // True if the provider reported itself overloaded
	IsTimeout   bool   // True if this is a timeout error
	IsNetwork   bool   // True if this is a network error
	IsAuth      bool   // True if this is an authentication error
	IsQuota     bool   // True if this is a quota exhaustion error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("engine error: %s", e.Class)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError with classification.
func NewEngineError(err error, class RetryClass) *EngineError {
	return &EngineError{
		Err:   err,
		Class: class,
	}
}

// ClassifyLLMError classifies an error from a provider call.
func ClassifyLLMError(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}

	errStr := strings.ToLower(err.Error())

	if isRateLimitText(errStr) || isOverloadText(errStr) {
		return RetryClassRetryable
	}

	// Server errors (5xx)
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "gateway timeout") {
		return RetryClassRetryable
	}

	if isNetworkText(errStr) {
		return RetryClassRetryable
	}

	if strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "deadline exceeded") {
		return RetryClassMaybe
	}

	// Authentication errors (401, 403)
	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication failed") {
		return RetryClassNonRetryable
	}

	// Bad request (400)
	if strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "malformed") {
		return RetryClassNonRetryable
	}

	// Quota exhausted (402)
	if strings.Contains(errStr, "402") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment required") {
		return RetryClassNonRetryable
	}

	return RetryClassNonRetryable
}

// ClassifyNetworkOnly retries transport failures but leaves throttling to the
// caller, which switches providers instead of waiting.
func ClassifyNetworkOnly(err error) RetryClass {
	if err == nil || IsTransientProviderError(err) {
		return RetryClassNonRetryable
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		if engineErr.IsNetwork && !engineErr.IsAuth {
			return RetryClassRetryable
		}
		return RetryClassNonRetryable
	}
	if isNetworkText(strings.ToLower(err.Error())) {
		return RetryClassRetryable
	}
	return RetryClassNonRetryable
}

// IsTransientProviderError reports rate limiting or equivalent provider-level
// throttling (overload, 503, 529). These trigger a provider switch.
func IsTransientProviderError(err error) bool {
	if err == nil {
		return false
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		if engineErr.IsRateLimit || engineErr.IsOverload {
			return true
		}
		if engineErr.IsAuth || engineErr.IsQuota {
			return false
		}
	}
	errStr := strings.ToLower(err.Error())
	return isRateLimitText(errStr) || isOverloadText(errStr)
}

func isRateLimitText(s string) bool {
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "rate_limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "resource_exhausted") ||
		strings.Contains(s, "resource exhausted")
}

func isOverloadText(s string) bool {
	return strings.Contains(s, "503") ||
		strings.Contains(s, "529") ||
		strings.Contains(s, "overloaded") ||
		strings.Contains(s, "service unavailable")
}

func isNetworkText(s string) bool {
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "no such host") ||
		strings.Contains(s, "network") ||
		strings.Contains(s, "dns") ||
		strings.Contains(s, "temporary failure")
}

// ExtractRetryAfter extracts the Retry-After value from an error.
// Returns 0 if not found or invalid.
func ExtractRetryAfter(err error) time.Duration {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.RetryAfter != "" {
		var seconds int
		if _, err := fmt.Sscanf(engineErr.RetryAfter, "%d", &seconds); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := time.Parse(time.RFC1123, engineErr.RetryAfter); err == nil {
			now := time.Now()
			if t.After(now) {
				return t.Sub(now)
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	if idx := strings.Index(errStr, "retry after "); idx >= 0 {
		var seconds int
		if _, err := fmt.Sscanf(errStr[idx:], "retry after %d", &seconds); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	return 0
}

// WrapLLMError wraps a provider error with classification metadata.
func WrapLLMError(provider string, err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}
	var existing *EngineError
	if errors.As(err, &existing) {
		return err
	}

	errStr := strings.ToLower(err.Error())
	engineErr := &EngineError{
		Err:         err,
		Class:       ClassifyLLMError(err),
		Provider:    provider,
		HTTPStatus:  httpStatus,
		RetryAfter:  retryAfter,
		IsRateLimit: httpStatus == http.StatusTooManyRequests || (httpStatus == 0 && isRateLimitText(errStr)),
		IsOverload:  httpStatus == http.StatusServiceUnavailable || httpStatus == 529 || (httpStatus == 0 && isOverloadText(errStr)),
		IsTimeout:   httpStatus == http.StatusGatewayTimeout || httpStatus == http.StatusRequestTimeout,
		IsNetwork:   (httpStatus == 0 && isNetworkText(errStr)) || httpStatus >= 500,
		IsAuth:      httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden,
		IsQuota:     httpStatus == http.StatusPaymentRequired,
	}
	if engineErr.IsRateLimit || engineErr.IsOverload {
		engineErr.Class = RetryClassRetryable
	}
	return engineErr
}

// RetryExhaustedError indicates that all retry attempts have been exhausted.
type RetryExhaustedError struct {
	Err         error
	Attempts    int
	MaxAttempts int
	IsGuarded   bool // True if this was a "maybe" class error with limited retries
}

func (e *RetryExhaustedError) Error() string {
	if e.IsGuarded {
		return fmt.Sprintf("guarded retries exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// NewRetryExhaustedError creates a new RetryExhaustedError.
func NewRetryExhaustedError(err error, attempts, maxAttempts int, isGuarded bool) *RetryExhaustedError {
	return &RetryExhaustedError{
		Err:         err,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		IsGuarded:   isGuarded,
	}
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var retryExhausted *RetryExhaustedError
	return errors.As(err, &retryExhausted)
}

// ErrAborted is matched by every abort surfaced by the dispatch loop.
var ErrAborted = errors.New("operation aborted")

// AbortedError records where a conversation was interrupted.
type AbortedError struct {
	Step  int
	Cause error
}

func (e *AbortedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("aborted at step %d: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("aborted at step %d", e.Step)
}

func (e *AbortedError) Unwrap() error { return e.Cause }

func (e *AbortedError) Is(target error) bool { return target == ErrAborted }

// UnknownActionTypeError is returned when the model selects an action with no handler.
type UnknownActionTypeError struct {
	ActionType string
}

func (e *UnknownActionTypeError) Error() string {
	return fmt.Sprintf("unknown action type: %q", e.ActionType)
}

// PermissionDeniedError is returned when a mutation is not allowed by the conversation flags.
type PermissionDeniedError struct {
	Permission string
	Path       string
}

func (e *PermissionDeniedError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("permission %s is not granted for %s", e.Permission, e.Path)
	}
	return fmt.Sprintf("permission %s is not granted", e.Permission)
}

// ActionContextError wraps errors with the dispatch step and action type.
type ActionContextError struct {
	Err        error
	Step       int
	ActionType ActionType
}

func (e *ActionContextError) Error() string {
	return fmt.Sprintf("[step=%d action=%s] %v", e.Step, e.ActionType, e.Err)
}

func (e *ActionContextError) Unwrap() error {
	return e.Err
}
