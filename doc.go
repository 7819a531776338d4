// Package confide provides the end-to-end encryption core for pairwise
// message exchange between two identities.
//
// Each identity holds one P-256 key pair. The private half stays in a
// device-local key store; the public half is published to a profile store
// that counterparts read. A message is sealed with AES-256-GCM under the
// ECDH shared key of sender and recipient, and the resulting envelope text
// can be opened exactly once: a decryption record, unique on the envelope,
// is written to a replay store after the first successful open.
//
// Basic usage:
//
//	client, err := confide.New("your-api-key",
//	    confide.WithKeyStore(store),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Provision the signed-in identity on this device
//	if err := client.GenerateIdentity(ctx, "alice"); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Encrypt for a linked identity
//	envelope, err := client.EncryptForIdentity(ctx, "hello", "bob", "alice")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(client.ShareLink(envelope))
//
// On the recipient's device:
//
//	plaintext, err := client.DecryptFromIdentity(ctx, envelope, "alice", "bob")
//	if errors.Is(err, confide.ErrAlreadyDecrypted) {
//	    // The message was opened before.
//	}
//
// The client does not decide who may address whom; callers establish that
// the counterpart is a permitted recipient before encrypting or decrypting.
package confide
