package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"oraclegate/internal/config"
	"oraclegate/internal/keystore"
	"oraclegate/internal/signer"
)

var rotatedKeystoreFiles = []string{"secp256k1.key", "ed25519.seed", "macaroon.secret"}

// KeystoreInspect opens the oracle's keystore read-only and prints the
// public identity each signing scheme publishes, the same pubkeys a
// caller sees in a paid response's pubkey field.
func KeystoreInspect(ctx context.Context) error {
	cfg := config.Load()
	ks, err := keystore.Open(ctx, cfg.Keystore.Dir, cfg.KMS)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	defer ks.Close()

	ecdsaPriv, err := ks.ECDSAPrivateKey()
	if err != nil {
		return fmt.Errorf("load ecdsa key: %w", err)
	}
	ed25519Priv := ks.Ed25519PrivateKey()

	ecdsaSigner := signer.NewECDSASigner(ecdsaPriv)
	ed25519Signer := signer.NewEd25519Signer(ed25519Priv)

	fmt.Printf("keystore: %s\n", cfg.Keystore.Dir)
	fmt.Printf("  ecdsa   pubkey: %s\n", ecdsaSigner.PubkeyHex())
	fmt.Printf("  ed25519 pubkey: %s\n", ed25519Signer.PubkeyHex())
	return nil
}

// KeystoreRotate retires the oracle's current signing secrets after a
// confirmed TOTP code, moving each file aside with a timestamp suffix.
// The next Keystore.Open call (by this command's caller or the next
// daemon start) generates fresh replacements; anyone holding the old
// public keys will no longer be able to verify new attestations, so
// this is meant for key-compromise response, not routine maintenance.
func KeystoreRotate(ctx context.Context) error {
	cliCfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load cli config: %w", err)
	}
	if err := confirmDestructive(cliCfg, "keystore rotation"); err != nil {
		return err
	}

	cfg := config.Load()
	dir := cfg.Keystore.Dir
	stamp := time.Now().UTC().Format("20060102T150405Z")

	rotated := 0
	for _, name := range rotatedKeystoreFiles {
		src := filepath.Join(dir, name)
		if _, statErr := os.Stat(src); os.IsNotExist(statErr) {
			continue
		}
		dst := filepath.Join(dir, name+".rotated-"+stamp)
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("rotate %s: %w", name, err)
		}
		rotated++
	}
	if rotated == 0 {
		fmt.Println("no keystore files present, nothing to rotate")
		return nil
	}

	// Force generation of the replacement secrets immediately rather than
	// waiting for the gateway to restart, so KeystoreInspect reflects the
	// new identity right away.
	ks, err := keystore.Open(ctx, dir, cfg.KMS)
	if err != nil {
		return fmt.Errorf("generate replacement keystore: %w", err)
	}
	ks.Close()

	fmt.Printf("rotated %d keystore file(s), previous versions kept with a .rotated-%s suffix\n", rotated, stamp)
	fmt.Println("run 'oraclectl keystore inspect' to see the new public identity")
	return nil
}
