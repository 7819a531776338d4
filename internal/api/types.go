package api

import "time"

// Profile represents the /api/profiles/{id} response. PublicKey and
// PrivateKeyBackup are empty until the identity has been provisioned.
type Profile struct {
	ID               string `json:"id"`
	PublicKey        string `json:"publicKey,omitempty"`
	PrivateKeyBackup string `json:"privateKeyBackup,omitempty"`
}

// UpdateKeysRequest represents the PATCH /api/profiles/{id}/keys request.
type UpdateKeysRequest struct {
	PublicKey        string `json:"publicKey"`
	PrivateKeyBackup string `json:"privateKeyBackup"`
}

// DecryptionRecord represents an entry in the decryption-record table.
type DecryptionRecord struct {
	MessageKey  string    `json:"messageKey"`
	DecryptedBy string    `json:"decryptedBy"`
	DecryptedAt time.Time `json:"decryptedAt,omitempty"`
}

// CreateDecryptionRequest represents the POST /api/decryptions request.
type CreateDecryptionRequest struct {
	MessageKey  string `json:"messageKey"`
	DecryptedBy string `json:"decryptedBy"`
}
