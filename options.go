package confide

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zingerfi/confide-go/internal/keystore"
)

const (
	defaultBaseURL             = "https://api.zingerfi.com"
	defaultTimeout             = 30 * time.Second
	defaultProvisioningAttempt = 5
	defaultProvisioningBackoff = 500 * time.Millisecond
)

// KeyStore is the device-local private key store. See the keystore
// implementations returned by NewMemoryKeyStore and NewSQLiteKeyStore.
type KeyStore = keystore.Store

// clientConfig holds configuration for the client.
type clientConfig struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	retriesSet bool
	retryOn    []int
	rateLimit  float64
	rateBurst  int

	logger     *slog.Logger
	registerer prometheus.Registerer

	keys     KeyStore
	profiles ProfileStore
	replays  ReplayStore
	keying   ReplayKeying

	provisioningAttempts int
	provisioningBackoff  time.Duration
	backupPassphrase     string
	shareBaseURL         string
}

// Option configures the client.
type Option func(*clientConfig)

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for API calls. Zero or a negative
// count sends each request once.
// Default: 3
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
		c.retriesSet = true
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
// Default: [408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// WithRateLimit caps outgoing API requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *clientConfig) {
		c.rateLimit = perSecond
		c.rateBurst = burst
	}
}

// WithLogger sets the logger. Its handler is wrapped so that key material
// and plaintext are redacted and identity references are fingerprinted.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetricsRegisterer registers operation metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *clientConfig) {
		c.registerer = reg
	}
}

// WithKeyStore sets the local private key store.
// Default: an in-memory store that does not survive the process.
func WithKeyStore(store KeyStore) Option {
	return func(c *clientConfig) {
		c.keys = store
	}
}

// WithProfileStore replaces the HTTP profile store.
func WithProfileStore(store ProfileStore) Option {
	return func(c *clientConfig) {
		c.profiles = store
	}
}

// WithReplayStore replaces the HTTP decryption-record store.
func WithReplayStore(store ReplayStore) Option {
	return func(c *clientConfig) {
		c.replays = store
	}
}

// WithReplayKeying selects how envelopes map to decryption-record keys.
// Default: ReplayKeyLiteral
func WithReplayKeying(keying ReplayKeying) Option {
	return func(c *clientConfig) {
		c.keying = keying
	}
}

// WithProvisioningAttempts sets how many times provisioning looks for the
// identity's profile record before giving up.
// Default: 5
func WithProvisioningAttempts(attempts int) Option {
	return func(c *clientConfig) {
		c.provisioningAttempts = attempts
	}
}

// WithProvisioningBackoff sets the fixed delay between profile lookups
// during provisioning.
// Default: 500 milliseconds
func WithProvisioningBackoff(backoff time.Duration) Option {
	return func(c *clientConfig) {
		c.provisioningBackoff = backoff
	}
}

// WithBackupPassphrase wraps the private key backup published during
// provisioning with a passphrase-derived key, and unwraps it on recovery.
// Without it the backup is the bare exported private key.
func WithBackupPassphrase(passphrase string) Option {
	return func(c *clientConfig) {
		c.backupPassphrase = passphrase
	}
}

// WithShareBaseURL sets the site used by Client.ShareLink.
// Default: DefaultShareBaseURL
func WithShareBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.shareBaseURL = url
	}
}

// NewMemoryKeyStore returns an in-memory KeyStore.
func NewMemoryKeyStore() KeyStore {
	return keystore.NewMemory()
}

// NewSQLiteKeyStore returns a KeyStore backed by a SQLite file at path.
// A non-empty passphrase seals stored values at rest.
func NewSQLiteKeyStore(path, passphrase string) (KeyStore, error) {
	var opts []keystore.SQLiteOption
	if passphrase != "" {
		opts = append(opts, keystore.WithPassphrase(passphrase))
	}
	store, err := keystore.NewSQLite(path, opts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}
