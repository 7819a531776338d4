package confide

import (
	"errors"
	"fmt"

	"github.com/zingerfi/confide-go/internal/api"
	"github.com/zingerfi/confide-go/internal/crypto"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMalformedKey is returned when key text does not decode to a valid
	// P-256 key. It is never retried automatically.
	ErrMalformedKey = crypto.ErrMalformedKey

	// ErrIncompatibleKey is returned when a private and a public key are not
	// on the same curve.
	ErrIncompatibleKey = crypto.ErrIncompatibleKey

	// ErrAuthenticationFailed is returned when an envelope cannot be opened.
	// It does not say whether the key, the claimed sender or the ciphertext
	// was at fault.
	ErrAuthenticationFailed = crypto.ErrAuthenticationFailed

	// ErrPrivateKeyMissing is returned when the local key store holds no
	// private key for the identity. The remedy is re-provisioning.
	ErrPrivateKeyMissing = errors.New("private key missing")

	// ErrAlreadyDecrypted is returned when an envelope has already been
	// opened once. No plaintext accompanies it.
	ErrAlreadyDecrypted = errors.New("message already decrypted")

	// ErrProvisioningTimeout is returned when the identity's profile record
	// did not appear within the configured number of attempts.
	ErrProvisioningTimeout = errors.New("provisioning timed out waiting for profile")

	// ErrProvisioningInProgress is returned when GenerateIdentity is called
	// for an identity whose provisioning has not finished yet.
	ErrProvisioningInProgress = errors.New("provisioning already in progress")

	// ErrProfileNotFound is returned when a profile does not exist or has
	// not published a public key.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrBackupMissing is returned when a profile has a published public key
	// but no private key backup to recover from.
	ErrBackupMissing = errors.New("private key backup missing")

	// ErrBackupLocked is returned when the private key backup is wrapped and
	// no passphrase, or the wrong one, was configured.
	ErrBackupLocked = errors.New("private key backup is passphrase-protected")

	// ErrInvalidShareLink is returned when a share link carries no message.
	ErrInvalidShareLink = errors.New("invalid share link")

	// ErrMissingAPIKey is returned when no API key is provided and the
	// client has no injected stores.
	ErrMissingAPIKey = errors.New("API key is required")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrUnauthorized is returned when the API key is invalid or expired.
	ErrUnauthorized = errors.New("invalid or expired API key")

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ConfideError is implemented by all typed SDK errors.
type ConfideError interface {
	error
	ConfideError() // marker method
}

// APIError represents an HTTP error from the profile or decryption-record
// backend.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string // if returned by server
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

// ConfideError implements the ConfideError interface.
func (e *APIError) ConfideError() {}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return target == ErrUnauthorized
	case 404:
		return target == ErrProfileNotFound
	case 409:
		return target == ErrAlreadyDecrypted
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// NetworkError represents a transient network-level failure against one of
// the external stores. The client never retries these beyond the transport's
// own retry policy; the caller decides.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *NetworkError) Retryable() bool {
	return (&api.NetworkError{Err: e.Err}).Retryable()
}

// ConfideError implements the ConfideError interface.
func (e *NetworkError) ConfideError() {}

// ProvisioningError is returned when provisioning gave up waiting for the
// identity's profile record.
type ProvisioningError struct {
	IdentityID string
	Attempts   int
	Err        error // last error observed, if any
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning gave up after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("provisioning gave up after %d attempts", e.Attempts)
}

// Unwrap returns the underlying error.
func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *ProvisioningError) Is(target error) bool {
	return target == ErrProvisioningTimeout
}

// ConfideError implements the ConfideError interface.
func (e *ProvisioningError) ConfideError() {}

// wrapError converts internal API errors to public errors.
// This ensures that errors.Is() checks work with public sentinel errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			RequestID:  apiErr.RequestID,
		}
	}

	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return &NetworkError{
			Err:     netErr.Err,
			URL:     netErr.URL,
			Attempt: netErr.Attempt,
		}
	}

	return err
}
