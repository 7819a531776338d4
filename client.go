package confide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zingerfi/confide-go/internal/api"
	"github.com/zingerfi/confide-go/internal/crypto"
	"github.com/zingerfi/confide-go/internal/metrics"
	"github.com/zingerfi/confide-go/internal/privacylog"
)

// Client is the protocol facade: it provisions identities and encrypts and
// decrypts messages between pairs of identities. Callers pass the acting
// identity explicitly on every call. A Client is safe for concurrent use.
type Client struct {
	keys     KeyStore
	profiles ProfileStore
	guard    *ReplayGuard

	logger  *slog.Logger
	metrics *metrics.Recorder

	provisioningAttempts int
	provisioningBackoff  time.Duration
	backupPassphrase     string
	shareBaseURL         string

	mu     sync.Mutex
	states map[string]IdentityState
	closed bool
}

// buildAPIClient creates and configures an API client from the given config.
func buildAPIClient(apiKey string, cfg *clientConfig, logger *slog.Logger) (*api.Client, error) {
	apiOpts := []api.Option{
		api.WithBaseURL(cfg.baseURL),
		api.WithLogger(logger),
	}
	if cfg.timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.timeout))
	}
	if cfg.retriesSet {
		retries := cfg.retries
		if retries <= 0 {
			retries = api.NoRetries
		}
		apiOpts = append(apiOpts, api.WithRetries(retries))
	}
	if len(cfg.retryOn) > 0 {
		apiOpts = append(apiOpts, api.WithRetryOn(cfg.retryOn))
	}
	if cfg.rateLimit > 0 {
		apiOpts = append(apiOpts, api.WithRateLimit(cfg.rateLimit, cfg.rateBurst))
	}

	apiClient, err := api.New(apiKey, apiOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.httpClient != nil {
		apiClient.SetHTTPClient(cfg.httpClient)
	}

	return apiClient, nil
}

// New creates a client. The API key authenticates against the profile and
// decryption-record backend; it may be empty only when both a ProfileStore
// and a ReplayStore are supplied through options.
func New(apiKey string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		baseURL:              defaultBaseURL,
		timeout:              defaultTimeout,
		keying:               ReplayKeyLiteral,
		provisioningAttempts: defaultProvisioningAttempt,
		provisioningBackoff:  defaultProvisioningBackoff,
		shareBaseURL:         DefaultShareBaseURL,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	logger := privacylog.Wrap(cfg.logger)

	if cfg.profiles == nil || cfg.replays == nil {
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		apiClient, err := buildAPIClient(apiKey, cfg, logger)
		if err != nil {
			return nil, err
		}
		if cfg.profiles == nil {
			cfg.profiles = &apiProfileStore{client: apiClient}
		}
		if cfg.replays == nil {
			cfg.replays = &apiReplayStore{client: apiClient}
		}
	}

	if cfg.keys == nil {
		cfg.keys = NewMemoryKeyStore()
	}
	if cfg.provisioningAttempts < 1 {
		cfg.provisioningAttempts = 1
	}

	recorder, err := metrics.New(cfg.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &Client{
		keys:                 cfg.keys,
		profiles:             cfg.profiles,
		guard:                NewReplayGuard(cfg.replays, cfg.keying),
		logger:               logger,
		metrics:              recorder,
		provisioningAttempts: cfg.provisioningAttempts,
		provisioningBackoff:  cfg.provisioningBackoff,
		backupPassphrase:     cfg.backupPassphrase,
		shareBaseURL:         cfg.shareBaseURL,
		states:               make(map[string]IdentityState),
	}, nil
}

// Close marks the client closed. Later calls fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// EncryptFor seals message for the holder of recipientPublicKey using the
// private key of ownIdentityID from the local key store. The result is the
// base64 envelope text.
func (c *Client) EncryptFor(ctx context.Context, message, recipientPublicKey, ownIdentityID string) (envelope string, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpEncrypt, outcomeOf(err), start) }()

	if err := c.checkOpen(); err != nil {
		return "", err
	}

	shared, err := c.sharedKey(ctx, recipientPublicKey, ownIdentityID)
	if err != nil {
		return "", err
	}
	defer clear(shared)

	envelope, err = crypto.Seal(message, shared)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}

	c.logger.DebugContext(ctx, "message encrypted", "sender_id", ownIdentityID, "size", len(envelope))
	return envelope, nil
}

// DecryptFrom opens envelope from the holder of senderPublicKey using the
// private key of ownIdentityID. An envelope opens at most once: the replay
// check runs before any key is loaded and the decryption is recorded only
// after the envelope opened. A second call fails with ErrAlreadyDecrypted.
//
// Once the envelope has opened, recording proceeds even if ctx is canceled.
// If recording fails the plaintext is withheld and the error returned.
func (c *Client) DecryptFrom(ctx context.Context, envelope, senderPublicKey, ownIdentityID string) (plaintext string, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpDecrypt, outcomeOf(err), start) }()

	if err := c.checkOpen(); err != nil {
		return "", err
	}

	if err := c.guard.Check(ctx, envelope); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyDecrypted):
			c.logger.InfoContext(ctx, "decrypt refused", "claimant_id", ownIdentityID, "reason", "already decrypted")
			return "", ErrAlreadyDecrypted
		case errors.Is(err, ErrAuthenticationFailed):
			return "", ErrAuthenticationFailed
		}
		return "", err
	}

	shared, err := c.sharedKey(ctx, senderPublicKey, ownIdentityID)
	if err != nil {
		return "", err
	}
	defer clear(shared)

	plaintext, err = crypto.Open(envelope, shared)
	if err != nil {
		return "", ErrAuthenticationFailed
	}

	if err := c.guard.Record(context.WithoutCancel(ctx), envelope, ownIdentityID); err != nil {
		c.logger.WarnContext(ctx, "decrypt not recorded", "claimant_id", ownIdentityID, "error", err)
		return "", err
	}

	c.logger.DebugContext(ctx, "message decrypted", "claimant_id", ownIdentityID)
	return plaintext, nil
}

// EncryptForIdentity looks up the recipient's published public key and
// calls EncryptFor.
func (c *Client) EncryptForIdentity(ctx context.Context, message, recipientID, ownIdentityID string) (string, error) {
	pub, err := c.publishedKey(ctx, recipientID)
	if err != nil {
		c.metrics.Observe(metrics.OpEncrypt, outcomeOf(err), time.Now())
		return "", err
	}
	return c.EncryptFor(ctx, message, pub, ownIdentityID)
}

// DecryptFromIdentity looks up the sender's published public key and calls
// DecryptFrom.
func (c *Client) DecryptFromIdentity(ctx context.Context, envelope, senderID, ownIdentityID string) (string, error) {
	pub, err := c.publishedKey(ctx, senderID)
	if err != nil {
		c.metrics.Observe(metrics.OpDecrypt, outcomeOf(err), time.Now())
		return "", err
	}
	return c.DecryptFrom(ctx, envelope, pub, ownIdentityID)
}

// PublicKey returns the published public key text of identityID.
func (c *Client) PublicKey(ctx context.Context, identityID string) (string, error) {
	return c.publishedKey(ctx, identityID)
}

// ShareLink returns the decrypt-page link for envelope.
func (c *Client) ShareLink(envelope string) string {
	return BuildShareLink(c.shareBaseURL, envelope)
}

func (c *Client) publishedKey(ctx context.Context, identityID string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	profile, err := c.profiles.GetProfile(ctx, identityID)
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	if profile.PublicKey == "" {
		return "", fmt.Errorf("no published key: %w", ErrProfileNotFound)
	}
	return profile.PublicKey, nil
}

// sharedKey loads the own private key and derives the symmetric key shared
// with the holder of counterpartPublicKey.
func (c *Client) sharedKey(ctx context.Context, counterpartPublicKey, ownIdentityID string) ([]byte, error) {
	privText, ok, err := c.keys.Get(ctx, ownIdentityID)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	if !ok {
		return nil, ErrPrivateKeyMissing
	}

	own, err := crypto.ImportPrivateKey(privText)
	if err != nil {
		return nil, fmt.Errorf("own private key: %w", err)
	}
	counterpart, err := crypto.ImportPublicKey(counterpartPublicKey)
	if err != nil {
		return nil, fmt.Errorf("counterpart public key: %w", err)
	}

	return crypto.DeriveSharedKey(own, counterpart)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrAlreadyDecrypted):
		return metrics.OutcomeAlreadyDecrypted
	case errors.Is(err, ErrAuthenticationFailed):
		return metrics.OutcomeAuthFailed
	case errors.Is(err, ErrPrivateKeyMissing):
		return metrics.OutcomeKeyMissing
	case errors.Is(err, ErrMalformedKey), errors.Is(err, ErrIncompatibleKey):
		return metrics.OutcomeMalformedKey
	default:
		return metrics.OutcomeError
	}
}
