package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// GetProfile retrieves the profile of an identity, including its published
// public key and private key backup when provisioned.
func (c *Client) GetProfile(ctx context.Context, identityID string) (*Profile, error) {
	var result Profile
	path := "/api/profiles/" + url.PathEscape(identityID)
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, WithResourceType(err, ResourceProfile)
	}
	if result.ID == "" {
		result.ID = identityID
	}
	return &result, nil
}

// UpdateProfileKeys publishes the public key and private key backup of an
// identity.
func (c *Client) UpdateProfileKeys(ctx context.Context, identityID string, req UpdateKeysRequest) error {
	path := "/api/profiles/" + url.PathEscape(identityID) + "/keys"
	err := c.Do(ctx, http.MethodPatch, path, req, nil)
	return WithResourceType(err, ResourceProfile)
}

// GetDecryption looks up the decryption record for a message key.
// A missing record is reported as ErrDecryptionNotFound.
func (c *Client) GetDecryption(ctx context.Context, messageKey string) (*DecryptionRecord, error) {
	var result DecryptionRecord
	path := "/api/decryptions/" + url.PathEscape(messageKey)
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, WithResourceType(err, ResourceDecryption)
	}
	return &result, nil
}

// CreateDecryption inserts a decryption record. The backend enforces
// uniqueness on the message key; a duplicate yields ErrAlreadyRecorded.
//
// The insert is not idempotent. When an attempt may have committed without
// its response arriving (a retried request, a lost response, a gateway
// error), the record is read back, and one that already names
// req.DecryptedBy is returned as this call's own insert.
func (c *Client) CreateDecryption(ctx context.Context, req CreateDecryptionRequest) (*DecryptionRecord, error) {
	var result DecryptionRecord
	attempts, err := c.do(ctx, http.MethodPost, "/api/decryptions", req, &result)
	if err != nil {
		err = WithResourceType(err, ResourceDecryption)
		if !mayHaveCommitted(err, attempts) {
			return nil, err
		}
		existing, gerr := c.GetDecryption(ctx, req.MessageKey)
		if gerr != nil || existing.DecryptedBy != req.DecryptedBy {
			return nil, err
		}
		c.logger.DebugContext(ctx, "decryption record already committed by this request")
		if existing.MessageKey == "" {
			existing.MessageKey = req.MessageKey
		}
		return existing, nil
	}
	if result.MessageKey == "" {
		result.MessageKey = req.MessageKey
		result.DecryptedBy = req.DecryptedBy
	}
	return &result, nil
}

// mayHaveCommitted reports whether a failed insert could still have been
// written by the backend.
func mayHaveCommitted(err error, attempts int) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.StatusCode == http.StatusConflict:
		// A conflict on the first attempt is another claimant's record.
		return attempts > 1
	case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode >= 500:
		return true
	}
	return false
}
