package confide

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zingerfi/confide-go/internal/crypto"
	"github.com/zingerfi/confide-go/internal/metrics"
	"github.com/zingerfi/confide-go/internal/securestore"
)

// IdentityState is the provisioning state of an identity in this client.
type IdentityState int

const (
	// Unprovisioned means GenerateIdentity has not completed in this client.
	Unprovisioned IdentityState = iota
	// Provisioning means GenerateIdentity is running.
	Provisioning
	// Provisioned means the identity's private key is in the local store
	// and its public key is published.
	Provisioned
)

func (s IdentityState) String() string {
	switch s {
	case Unprovisioned:
		return "unprovisioned"
	case Provisioning:
		return "provisioning"
	case Provisioned:
		return "provisioned"
	default:
		return fmt.Sprintf("IdentityState(%d)", int(s))
	}
}

// State returns the provisioning state of identityID.
func (c *Client) State(identityID string) IdentityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[identityID]
}

// GenerateIdentity provisions identityID on this device. It waits for the
// identity's profile record to appear, then either generates a key pair,
// stores the private half locally and publishes the public half with a
// private key backup, or, if a public key is already published, restores
// the private key from that backup into the local store.
//
// Calling it for an identity that is already Provisioned is a no-op. A
// failed call leaves the identity Unprovisioned and persists nothing.
func (c *Client) GenerateIdentity(ctx context.Context, identityID string) (err error) {
	start := time.Now()

	if err := c.checkOpen(); err != nil {
		return err
	}
	if identityID == "" {
		return errors.New("identity ID is required")
	}

	c.mu.Lock()
	switch c.states[identityID] {
	case Provisioned:
		c.mu.Unlock()
		return nil
	case Provisioning:
		c.mu.Unlock()
		return ErrProvisioningInProgress
	}
	c.states[identityID] = Provisioning
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if err != nil {
			delete(c.states, identityID)
		} else {
			c.states[identityID] = Provisioned
		}
		c.mu.Unlock()
		c.metrics.Observe(metrics.OpGenerateIdentity, outcomeOf(err), start)
	}()

	profile, err := c.waitForProfile(ctx, identityID)
	if err != nil {
		return err
	}

	if profile.PublicKey != "" {
		return c.recoverIdentity(ctx, identityID, profile)
	}
	return c.createIdentity(ctx, identityID)
}

// waitForProfile polls the profile store until the identity's record
// exists, with a fixed backoff between attempts.
func (c *Client) waitForProfile(ctx context.Context, identityID string) (*Profile, error) {
	var lastErr error
	for attempt := 1; attempt <= c.provisioningAttempts; attempt++ {
		profile, err := c.profiles.GetProfile(ctx, identityID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, ErrProfileNotFound) {
			return nil, fmt.Errorf("get profile: %w", err)
		}
		lastErr = err

		c.logger.DebugContext(ctx, "profile not available yet",
			"identity_id", identityID, "attempt", attempt)

		if attempt == c.provisioningAttempts {
			break
		}
		timer := time.NewTimer(c.provisioningBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, &ProvisioningError{
		IdentityID: identityID,
		Attempts:   c.provisioningAttempts,
		Err:        lastErr,
	}
}

func (c *Client) createIdentity(ctx context.Context, identityID string) error {
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	pubText, privText, err := kp.Export()
	if err != nil {
		return fmt.Errorf("export key pair: %w", err)
	}

	backup := privText
	if c.backupPassphrase != "" {
		if backup, err = securestore.SealString(c.backupPassphrase, privText); err != nil {
			return fmt.Errorf("wrap backup: %w", err)
		}
	} else {
		c.logger.WarnContext(ctx, "publishing unwrapped private key backup", "identity_id", identityID)
	}

	if err := c.keys.Put(ctx, identityID, privText); err != nil {
		return fmt.Errorf("store private key: %w", err)
	}
	if err := c.profiles.PublishKeys(ctx, identityID, pubText, backup); err != nil {
		if derr := c.keys.Delete(context.WithoutCancel(ctx), identityID); derr != nil {
			c.logger.ErrorContext(ctx, "rollback of local key failed", "identity_id", identityID, "error", derr)
		}
		return fmt.Errorf("publish keys: %w", err)
	}

	c.logger.InfoContext(ctx, "identity provisioned", "identity_id", identityID, "path", "generated")
	return nil
}

func (c *Client) recoverIdentity(ctx context.Context, identityID string, profile *Profile) error {
	if profile.PrivateKeyBackup == "" {
		return ErrBackupMissing
	}

	privText := profile.PrivateKeyBackup
	if securestore.IsSealed(privText) {
		if c.backupPassphrase == "" {
			return ErrBackupLocked
		}
		opened, err := securestore.OpenString(c.backupPassphrase, privText)
		if err != nil {
			return fmt.Errorf("unwrap backup: %w", ErrBackupLocked)
		}
		privText = opened
	}

	kp, err := crypto.KeypairFromPrivateText(privText)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	published, err := crypto.ImportPublicKey(profile.PublicKey)
	if err != nil {
		return fmt.Errorf("published key: %w", err)
	}
	if !published.Equal(kp.PublicKey) {
		return fmt.Errorf("backup does not match published key: %w", ErrMalformedKey)
	}

	if err := c.keys.Put(ctx, identityID, privText); err != nil {
		return fmt.Errorf("store private key: %w", err)
	}

	c.logger.InfoContext(ctx, "identity provisioned", "identity_id", identityID, "path", "recovered")
	return nil
}
