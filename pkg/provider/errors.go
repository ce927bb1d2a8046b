package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the provider service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrBatchTooLarge indicates a delete batch exceeded MaxDeleteBatch.
	ErrBatchTooLarge = errors.New("delete batch too large")
)

// ProviderError wraps provider-specific errors with context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "ListVersions", "DeleteVersions").
	Op string

	// Provider is the provider type (e.g., "s3").
	Provider ProviderType

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Code is the provider error code (e.g., "NoSuchBucket"), if known.
	Code string

	// Err is the underlying error. For classified failures this is one of the
	// sentinel errors above; Cause keeps the original SDK error.
	Err error

	// Cause is the original error returned by the SDK.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	detail := e.Err.Error()
	if e.Cause != nil && !errors.Is(e.Cause, e.Err) {
		detail = fmt.Sprintf("%v (%v)", e.Err, e.Cause)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Provider, e.Op, e.Bucket, detail)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, detail)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err came from a provider call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsBucketNotFound returns true if the error indicates the bucket does not exist.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsProviderUnavailable returns true if the error indicates the provider service is unavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
