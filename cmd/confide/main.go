// Command confide provisions identities and encrypts or decrypts single-use
// messages between them from the shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"

	confide "github.com/zingerfi/confide-go"
	"github.com/zingerfi/confide-go/internal/config"
)

const usage = `usage: confide [-config path] [-env path] <command> [args]

commands:
  provision <identity>                          generate or recover the identity's key pair
  pubkey <identity>                             print the identity's published public key
  encrypt <own-id> <recipient-id>               encrypt stdin; prints share link and envelope
  decrypt <own-id> <sender-id> <envelope|link>  decrypt a message once`

const commandTimeout = 60 * time.Second

// ClientInterface is the subset of *confide.Client the commands use.
type ClientInterface interface {
	GenerateIdentity(ctx context.Context, identityID string) error
	PublicKey(ctx context.Context, identityID string) (string, error)
	EncryptForIdentity(ctx context.Context, message, recipientID, ownIdentityID string) (string, error)
	DecryptFromIdentity(ctx context.Context, envelope, senderID, ownIdentityID string) (string, error)
	ShareLink(envelope string) string
	Close() error
}

// Config holds the process I/O and the client constructor.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Open func(settings config.Config, logger *slog.Logger) (ClientInterface, error)
}

// DefaultConfig returns a Config bound to the process streams.
func DefaultConfig() *Config {
	return &Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Open:   openClient,
	}
}

func run(args []string, cfg *Config) error {
	fs := flag.NewFlagSet("confide", flag.ContinueOnError)
	fs.SetOutput(cfg.Stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	envPath := fs.String("env", ".env", "path to a dotenv file")
	if len(args) > 0 {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New(usage)
	}

	if err := loadEnvFile(*envPath); err != nil {
		return err
	}
	settings, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(cfg.Stderr, &slog.HandlerOptions{Level: settings.Level()}))

	client, err := cfg.Open(settings, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "provision":
		if len(cmdArgs) != 1 {
			return errors.New("usage: confide provision <identity>")
		}
		return runProvision(ctx, client, cfg, cmdArgs[0])
	case "pubkey":
		if len(cmdArgs) != 1 {
			return errors.New("usage: confide pubkey <identity>")
		}
		return runPublicKey(ctx, client, cfg, cmdArgs[0])
	case "encrypt":
		if len(cmdArgs) != 2 {
			return errors.New("usage: confide encrypt <own-id> <recipient-id>")
		}
		return runEncrypt(ctx, client, cfg, cmdArgs[0], cmdArgs[1])
	case "decrypt":
		if len(cmdArgs) != 3 {
			return errors.New("usage: confide decrypt <own-id> <sender-id> <envelope|link>")
		}
		return runDecrypt(ctx, client, cfg, cmdArgs[0], cmdArgs[1], cmdArgs[2])
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func openClient(settings config.Config, logger *slog.Logger) (ClientInterface, error) {
	keying, err := confide.ParseReplayKeying(settings.ReplayKeying)
	if err != nil {
		return nil, err
	}
	keys, err := confide.NewSQLiteKeyStore(settings.KeystorePath, settings.KeystorePassphrase)
	if err != nil {
		return nil, err
	}

	opts := []confide.Option{
		confide.WithBaseURL(settings.APIURL),
		confide.WithTimeout(settings.Timeout),
		confide.WithRetries(settings.Retries),
		confide.WithLogger(logger),
		confide.WithKeyStore(keys),
		confide.WithReplayKeying(keying),
		confide.WithShareBaseURL(settings.ShareBaseURL),
		confide.WithProvisioningAttempts(settings.ProvisioningAttempts),
		confide.WithProvisioningBackoff(settings.ProvisioningBackoff),
	}
	if settings.BackupPassphrase != "" {
		opts = append(opts, confide.WithBackupPassphrase(settings.BackupPassphrase))
	}

	client, err := confide.New(settings.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func runProvision(ctx context.Context, client ClientInterface, cfg *Config, identityID string) error {
	if err := client.GenerateIdentity(ctx, identityID); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	publicKey, err := client.PublicKey(ctx, identityID)
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	_, err = fmt.Fprintln(cfg.Stdout, publicKey)
	return err
}

func runPublicKey(ctx context.Context, client ClientInterface, cfg *Config, identityID string) error {
	publicKey, err := client.PublicKey(ctx, identityID)
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	_, err = fmt.Fprintln(cfg.Stdout, publicKey)
	return err
}

func runEncrypt(ctx context.Context, client ClientInterface, cfg *Config, ownID, recipientID string) error {
	data, err := io.ReadAll(cfg.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	// One trailing newline from the terminal or echo is not part of the
	// message. Empty input encrypts the empty message.
	message := strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")

	envelope, err := client.EncryptForIdentity(ctx, message, recipientID, ownID)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	_, err = fmt.Fprintf(cfg.Stdout, "%s\n%s\n", client.ShareLink(envelope), envelope)
	return err
}

func runDecrypt(ctx context.Context, client ClientInterface, cfg *Config, ownID, senderID, input string) error {
	envelope, err := confide.ParseShareLink(input)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	plaintext, err := client.DecryptFromIdentity(ctx, envelope, senderID, ownID)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	_, err = fmt.Fprintln(cfg.Stdout, plaintext)
	return err
}
