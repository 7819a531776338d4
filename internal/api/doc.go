// Package api provides the HTTP client for the identity-profile and
// decryption-record backend. It handles authentication, request/response
// serialization, client-side rate limiting and automatic retry with
// exponential backoff for transient failures.
//
// # Client Creation
//
// The package provides two ways to create a client:
//
//   - [NewClient]: Struct-based configuration for explicit, type-safe setup.
//   - [New]: Functional options pattern for flexible configuration.
//
// Both methods require an API key and base URL. The API key is sent via the
// X-API-Key header on every request, together with a per-call X-Request-ID
// that stays the same across retries.
//
// # Retry Behavior
//
// By default, requests are retried up to 3 times for these HTTP status codes:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// A 409 Conflict is never retried: it is the backend's uniqueness answer
// for decryption records.
//
// # Error Handling
//
//   - [ErrUnauthorized]: Invalid or expired API key (401, 403).
//   - [ErrProfileNotFound]: Profile does not exist (404).
//   - [ErrDecryptionNotFound]: No decryption record for the key (404).
//   - [ErrAlreadyRecorded]: Decryption record already exists (409).
//   - [ErrRateLimited]: Rate limit exceeded (429).
//
// Use errors.Is to check for specific error types:
//
//	if errors.Is(err, api.ErrAlreadyRecorded) {
//	    // Someone else decrypted the message first
//	}
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use, except for SetHTTPClient.
package api
