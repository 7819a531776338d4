package api

import (
	"context"
	"errors"
	"fmt"
)

// Common API errors that can be checked with errors.Is.
var (
	// ErrMissingAPIKey is returned when a client is built without an API key.
	ErrMissingAPIKey = errors.New("API key is required")
	// ErrUnauthorized indicates the API key is invalid or expired.
	ErrUnauthorized = errors.New("invalid or expired API key")
	// ErrProfileNotFound indicates the requested identity profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrDecryptionNotFound indicates no decryption record exists for a key.
	ErrDecryptionNotFound = errors.New("decryption record not found")
	// ErrAlreadyRecorded indicates a decryption record already exists.
	ErrAlreadyRecorded = errors.New("decryption already recorded")
	// ErrRateLimited indicates the rate limit has been exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ResourceType indicates which type of resource an error relates to.
type ResourceType string

const (
	// ResourceUnknown indicates the resource type is not specified.
	ResourceUnknown ResourceType = ""
	// ResourceProfile indicates the error relates to an identity profile.
	ResourceProfile ResourceType = "profile"
	// ResourceDecryption indicates the error relates to a decryption record.
	ResourceDecryption ResourceType = "decryption"
)

// APIError represents an HTTP error from the backend.
type APIError struct {
	StatusCode   int
	Message      string
	RequestID    string
	ResourceType ResourceType
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		if e.Message != "" {
			return fmt.Sprintf("API error %d: %s (request_id: %s)", e.StatusCode, e.Message, e.RequestID)
		}
		return fmt.Sprintf("API error %d (request_id: %s)", e.StatusCode, e.RequestID)
	}
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return target == ErrUnauthorized
	case 404:
		switch e.ResourceType {
		case ResourceProfile:
			return target == ErrProfileNotFound
		case ResourceDecryption:
			return target == ErrDecryptionNotFound
		default:
			return target == ErrProfileNotFound || target == ErrDecryptionNotFound
		}
	case 409:
		return target == ErrAlreadyRecorded
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// WithResourceType returns a copy of the error with the resource type set.
// If the error is not an *APIError, it is returned unchanged.
func WithResourceType(err error, rt ResourceType) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode:   apiErr.StatusCode,
			Message:      apiErr.Message,
			RequestID:    apiErr.RequestID,
			ResourceType: rt,
		}
	}
	return err
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a later attempt.
// Context cancellation and deadline expiry are not retryable.
func (e *NetworkError) Retryable() bool {
	return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
}
