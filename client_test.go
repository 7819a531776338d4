package confide

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/zingerfi/confide-go/internal/crypto"
)

type testEnv struct {
	profiles *MemoryProfileStore
	replays  *MemoryReplayStore
}

func newTestEnv() *testEnv {
	return &testEnv{
		profiles: NewMemoryProfileStore(),
		replays:  NewMemoryReplayStore(),
	}
}

// device returns a client with its own local key store, sharing the
// environment's profile and replay stores.
func (e *testEnv) device(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithProfileStore(e.profiles),
		WithReplayStore(e.replays),
		WithProvisioningBackoff(time.Millisecond),
	}
	c, err := New("", append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func (e *testEnv) provision(t *testing.T, c *Client, identityID string) string {
	t.Helper()
	e.profiles.CreateProfile(identityID)
	require.NoError(t, c.GenerateIdentity(context.Background(), identityID))
	p, err := e.profiles.GetProfile(context.Background(), identityID)
	require.NoError(t, err)
	require.NotEmpty(t, p.PublicKey)
	return p.PublicKey
}

// spyKeyStore counts Get calls on the wrapped store.
type spyKeyStore struct {
	KeyStore
	gets  atomic.Int32
	onGet func()
}

func (s *spyKeyStore) Get(ctx context.Context, identityID string) (string, bool, error) {
	s.gets.Add(1)
	text, ok, err := s.KeyStore.Get(ctx, identityID)
	if s.onGet != nil {
		s.onGet()
	}
	return text, ok, err
}

// failingReplayStore fails every Claim with err.
type failingReplayStore struct {
	*MemoryReplayStore
	err error
}

func (s *failingReplayStore) Claim(context.Context, string, string) error {
	return s.err
}

func TestEndToEnd_SingleUse(t *testing.T) {
	// Arrange.
	env := newTestEnv()
	aliceDevice := env.device(t)
	bobDevice := env.device(t)
	alicePub := env.provision(t, aliceDevice, "alice")
	bobPub := env.provision(t, bobDevice, "bob")
	ctx := context.Background()

	// Act.
	envelope, err := aliceDevice.EncryptFor(ctx, "hello", bobPub, "alice")
	require.NoError(t, err)
	plaintext, err := bobDevice.DecryptFrom(ctx, envelope, alicePub, "bob")

	// Assert.
	require.NoError(t, err)
	require.Equal(t, "hello", plaintext)

	again, err := bobDevice.DecryptFrom(ctx, envelope, alicePub, "bob")
	require.ErrorIs(t, err, ErrAlreadyDecrypted)
	require.Empty(t, again)

	rec, ok := env.replays.Record(envelope)
	require.True(t, ok)
	require.Equal(t, "bob", rec.ClaimantID)
}

func TestRoundTrip_Messages(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	b := env.device(t)
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, b, "b")
	ctx := context.Background()

	messages := []string{
		"",
		"hello",
		"Привет, мир",
		"日本語のテキスト 🎉🔐",
		strings.Repeat("long message ", 500),
	}

	for _, m := range messages {
		envelope, err := a.EncryptFor(ctx, m, bPub, "a")
		require.NoError(t, err)
		got, err := b.DecryptFrom(ctx, envelope, aPub, "b")
		require.NoError(t, err)
		require.Equal(t, m, got)
	}

	// Either side can be the sender.
	envelope, err := b.EncryptFor(ctx, "reply", aPub, "b")
	require.NoError(t, err)
	got, err := a.DecryptFrom(ctx, envelope, bPub, "a")
	require.NoError(t, err)
	require.Equal(t, "reply", got)
}

func TestEncryptFor_FreshEnvelopes(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	env.provision(t, a, "a")
	bPub := env.provision(t, env.device(t), "b")

	first, err := a.EncryptFor(context.Background(), "same", bPub, "a")
	require.NoError(t, err)
	second, err := a.EncryptFor(context.Background(), "same", bPub, "a")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestEncryptFor_PrivateKeyMissing(t *testing.T) {
	env := newTestEnv()
	bPub := env.provision(t, env.device(t), "b")
	c := env.device(t)

	_, err := c.EncryptFor(context.Background(), "m", bPub, "identity-with-empty-store")

	require.ErrorIs(t, err, ErrPrivateKeyMissing)
}

func TestEncryptFor_MalformedRecipientKey(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	env.provision(t, a, "a")

	for _, pub := range []string{"not-base64!!", crypto.ToBase64([]byte("random garbage bytes")), ""} {
		_, err := a.EncryptFor(context.Background(), "m", pub, "a")
		require.ErrorIs(t, err, ErrMalformedKey, "key %q", pub)
	}
}

func TestDecryptFrom_WrongSenderLeavesRecordUnclaimed(t *testing.T) {
	// Arrange.
	env := newTestEnv()
	a := env.device(t)
	b := env.device(t)
	mallory := env.device(t)
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, b, "b")
	malloryPub := env.provision(t, mallory, "mallory")
	ctx := context.Background()
	envelope, err := a.EncryptFor(ctx, "secret", bPub, "a")
	require.NoError(t, err)

	// Act.
	_, err = b.DecryptFrom(ctx, envelope, malloryPub, "b")

	// Assert.
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Zero(t, env.replays.Len())

	got, err := b.DecryptFrom(ctx, envelope, aPub, "b")
	require.NoError(t, err)
	require.Equal(t, "secret", got)
}

func TestDecryptFrom_TamperedEnvelope(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	b := env.device(t)
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, b, "b")
	ctx := context.Background()

	envelope, err := a.EncryptFor(ctx, "payload", bPub, "a")
	require.NoError(t, err)
	raw, err := crypto.FromBase64(envelope)
	require.NoError(t, err)

	for i := range raw {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01
		got, err := b.DecryptFrom(ctx, crypto.ToBase64(tampered), aPub, "b")
		require.ErrorIs(t, err, ErrAuthenticationFailed, "byte %d", i)
		require.Empty(t, got)
	}
	require.Zero(t, env.replays.Len())
}

func TestDecryptFrom_NonCanonicalEnvelope(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	b := env.device(t)
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, b, "b")
	ctx := context.Background()

	envelope, err := a.EncryptFor(ctx, "once", bPub, "a")
	require.NoError(t, err)
	_, err = b.DecryptFrom(ctx, envelope, aPub, "b")
	require.NoError(t, err)

	respelled := envelope[:8] + "\n" + envelope[8:]
	_, err = b.DecryptFrom(ctx, respelled, aPub, "b")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Equal(t, 1, env.replays.Len())
}

func TestDecryptFrom_MissingKeyLeavesRecordUnclaimed(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, env.device(t), "b")
	envelope, err := a.EncryptFor(context.Background(), "m", bPub, "a")
	require.NoError(t, err)

	otherDevice := env.device(t)
	_, err = otherDevice.DecryptFrom(context.Background(), envelope, aPub, "b")

	require.ErrorIs(t, err, ErrPrivateKeyMissing)
	require.Zero(t, env.replays.Len())
}

func TestDecryptFrom_AlreadyDecryptedDoesNotTouchKeys(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	spy := &spyKeyStore{KeyStore: NewMemoryKeyStore()}
	b := env.device(t, WithKeyStore(spy))
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, b, "b")
	ctx := context.Background()

	envelope, err := a.EncryptFor(ctx, "m", bPub, "a")
	require.NoError(t, err)
	_, err = b.DecryptFrom(ctx, envelope, aPub, "b")
	require.NoError(t, err)
	before := spy.gets.Load()

	_, err = b.DecryptFrom(ctx, envelope, aPub, "b")

	require.ErrorIs(t, err, ErrAlreadyDecrypted)
	require.Equal(t, before, spy.gets.Load())
}

func TestDecryptFrom_ConcurrentAttemptsSucceedOnce(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	b := env.device(t)
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, b, "b")
	envelope, err := a.EncryptFor(context.Background(), "race", bPub, "a")
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	var successes, refused atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := b.DecryptFrom(context.Background(), envelope, aPub, "b")
			switch {
			case err == nil && got == "race":
				successes.Add(1)
			case errors.Is(err, ErrAlreadyDecrypted) && got == "":
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), successes.Load())
	require.Equal(t, int32(workers-1), refused.Load())
}

func TestDecryptFrom_RecordFailureWithholdsPlaintext(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	aPub := env.provision(t, a, "a")
	outage := errors.New("replay store unavailable")
	b := env.device(t, WithReplayStore(&failingReplayStore{MemoryReplayStore: env.replays, err: outage}))
	bPub := env.provision(t, b, "b")

	envelope, err := a.EncryptFor(context.Background(), "m", bPub, "a")
	require.NoError(t, err)
	got, err := b.DecryptFrom(context.Background(), envelope, aPub, "b")

	require.ErrorIs(t, err, outage)
	require.Empty(t, got)
}

func TestDecryptFrom_RecordsWhenCallerCancelsAfterKeyLoad(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	aPub := env.provision(t, a, "a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	spy := &spyKeyStore{KeyStore: NewMemoryKeyStore()}
	b := env.device(t, WithKeyStore(spy))
	bPub := env.provision(t, b, "b")
	envelope, err := a.EncryptFor(context.Background(), "m", bPub, "a")
	require.NoError(t, err)

	// The caller walks away once the key has been loaded.
	spy.onGet = cancel
	got, err := b.DecryptFrom(ctx, envelope, aPub, "b")

	require.NoError(t, err)
	require.Equal(t, "m", got)
	rec, ok := env.replays.Record(envelope)
	require.True(t, ok)
	require.Equal(t, "b", rec.ClaimantID)
}

func TestReplayKeyHashed(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	b := env.device(t, WithReplayKeying(ReplayKeyHashed))
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, b, "b")
	ctx := context.Background()

	envelope, err := a.EncryptFor(ctx, "hashed", bPub, "a")
	require.NoError(t, err)
	got, err := b.DecryptFrom(ctx, envelope, aPub, "b")
	require.NoError(t, err)
	require.Equal(t, "hashed", got)

	_, ok := env.replays.Record(envelope)
	require.False(t, ok)
	key, err := crypto.DeriveReplayKey(envelope)
	require.NoError(t, err)
	_, ok = env.replays.Record(key)
	require.True(t, ok)

	_, err = b.DecryptFrom(ctx, envelope, aPub, "b")
	require.ErrorIs(t, err, ErrAlreadyDecrypted)
}

func TestIdentityAddressedOperations(t *testing.T) {
	env := newTestEnv()
	a := env.device(t)
	b := env.device(t)
	env.provision(t, a, "a")
	env.provision(t, b, "b")
	env.profiles.CreateProfile("unpublished")
	ctx := context.Background()

	envelope, err := a.EncryptForIdentity(ctx, "hi", "b", "a")
	require.NoError(t, err)
	got, err := b.DecryptFromIdentity(ctx, envelope, "a", "b")
	require.NoError(t, err)
	require.Equal(t, "hi", got)

	_, err = a.EncryptForIdentity(ctx, "hi", "unpublished", "a")
	require.ErrorIs(t, err, ErrProfileNotFound)
	_, err = a.EncryptForIdentity(ctx, "hi", "nobody", "a")
	require.ErrorIs(t, err, ErrProfileNotFound)

	pub, err := a.PublicKey(ctx, "b")
	require.NoError(t, err)
	_, err = crypto.ImportPublicKey(pub)
	require.NoError(t, err)
}

func TestClose(t *testing.T) {
	env := newTestEnv()
	c := env.device(t)
	bPub := env.provision(t, env.device(t), "b")
	require.NoError(t, c.Close())

	_, err := c.EncryptFor(context.Background(), "m", bPub, "a")
	require.ErrorIs(t, err, ErrClientClosed)
	_, err = c.DecryptFrom(context.Background(), "AAAA", bPub, "a")
	require.ErrorIs(t, err, ErrClientClosed)
	require.ErrorIs(t, c.GenerateIdentity(context.Background(), "a"), ErrClientClosed)
}

func TestNew_RequiresAPIKeyWithoutStores(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New("", WithProfileStore(NewMemoryProfileStore()))
	require.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := New("key", WithReplayStore(NewMemoryReplayStore()))
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestMetrics(t *testing.T) {
	env := newTestEnv()
	reg := prometheus.NewRegistry()
	a := env.device(t, WithMetricsRegisterer(reg))
	b := env.device(t, WithMetricsRegisterer(reg))
	aPub := env.provision(t, a, "a")
	bPub := env.provision(t, b, "b")
	ctx := context.Background()

	envelope, err := a.EncryptFor(ctx, "m", bPub, "a")
	require.NoError(t, err)
	_, err = b.DecryptFrom(ctx, envelope, aPub, "b")
	require.NoError(t, err)
	_, err = b.DecryptFrom(ctx, envelope, aPub, "b")
	require.Error(t, err)
	_, err = a.EncryptFor(ctx, "m", bPub, "nobody")
	require.Error(t, err)

	expected := `
# HELP confide_operations_total Protocol operations by outcome.
# TYPE confide_operations_total counter
confide_operations_total{operation="decrypt",outcome="already_decrypted"} 1
confide_operations_total{operation="decrypt",outcome="ok"} 1
confide_operations_total{operation="encrypt",outcome="key_missing"} 1
confide_operations_total{operation="encrypt",outcome="ok"} 1
confide_operations_total{operation="generate_identity",outcome="ok"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "confide_operations_total"))
}

func TestLoggingRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	env := newTestEnv()
	a := env.device(t, WithLogger(logger))
	b := env.device(t, WithLogger(logger))
	aPub := env.provision(t, a, "alice-identity")
	bPub := env.provision(t, b, "bob-identity")
	ctx := context.Background()

	envelope, err := a.EncryptFor(ctx, "top secret plaintext", bPub, "alice-identity")
	require.NoError(t, err)
	_, err = b.DecryptFrom(ctx, envelope, aPub, "bob-identity")
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "identity provisioned")
	require.Contains(t, out, "publishing unwrapped private key backup")
	for _, leaked := range []string{"alice-identity", "bob-identity", "top secret plaintext", envelope, aPub} {
		require.NotContains(t, out, leaked)
	}
}
