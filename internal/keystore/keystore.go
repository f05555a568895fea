// Package keystore loads and persists the oracle's three long-lived
// secrets: the secp256k1 scalar shared by the ECDSA and Schnorr
// attestation schemes, the Ed25519 seed, and the macaroon root secret
// used to mint lightning-rail bearer tokens. Each lives in its own 0600
// file under a configured directory; when a KMSConfig is supplied, the
// file holds an AWS KMS envelope rather than the raw secret.
package keystore

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"oraclegate/internal/config"
)

const (
	secp256k1KeyFile  = "secp256k1.key"
	ed25519SeedFile   = "ed25519.seed"
	macaroonKeyFile   = "macaroon.secret"
	macaroonKeyLength = 32
)

// Keystore holds the oracle's loaded signing material and, once Close is
// called, zeroes every secret it is still holding onto.
type Keystore struct {
	dir     string
	envelop *envelopeCipher // nil when KMS is not configured

	secp256k1Scalar *SecureBytes
	ed25519Seed     *SecureBytes
	macaroonSecret  *SecureBytes
}

// Open loads the keystore's three secrets from dir, generating and
// persisting any that don't yet exist. When cfg.KeyID is set, secrets
// are encrypted at rest under an AWS KMS data key; otherwise they are
// stored as raw 0600 files.
func Open(ctx context.Context, dir string, cfg config.KMSConfig) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}

	ks := &Keystore{dir: dir}

	if cfg.KeyID != "" {
		envelope, err := newEnvelopeCipher(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("keystore: init KMS envelope: %w", err)
		}
		ks.envelop = envelope
	}

	var err error
	ks.secp256k1Scalar, err = ks.loadOrGenerate(ctx, secp256k1KeyFile, 32, randomSecp256k1Scalar)
	if err != nil {
		return nil, err
	}
	ks.ed25519Seed, err = ks.loadOrGenerate(ctx, ed25519SeedFile, ed25519.SeedSize, randomBytes(ed25519.SeedSize))
	if err != nil {
		return nil, err
	}
	ks.macaroonSecret, err = ks.loadOrGenerate(ctx, macaroonKeyFile, macaroonKeyLength, randomBytes(macaroonKeyLength))
	if err != nil {
		return nil, err
	}

	return ks, nil
}

// ECDSAPrivateKey reconstructs the go-ethereum-compatible ECDSA private
// key over secp256k1 from the shared scalar.
func (ks *Keystore) ECDSAPrivateKey() (*ecdsa.PrivateKey, error) {
	priv, err := gethcrypto.ToECDSA(ks.secp256k1Scalar.Bytes())
	if err != nil {
		return nil, fmt.Errorf("keystore: reconstruct ecdsa key: %w", err)
	}
	return priv, nil
}

// SchnorrPrivateKey reconstructs the secp256k1 scalar used by the
// digit-decomposed Schnorr scheme, from the same bytes ECDSAPrivateKey
// uses, since the oracle publishes one public identity per chain.
func (ks *Keystore) SchnorrPrivateKey() (*secp256k1.PrivateKey, error) {
	priv := secp256k1.PrivKeyFromBytes(ks.secp256k1Scalar.Bytes())
	return priv, nil
}

// Ed25519PrivateKey reconstructs the Ed25519 private key from its seed.
func (ks *Keystore) Ed25519PrivateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(ks.ed25519Seed.Bytes())
}

// MacaroonRootSecret returns the HMAC root secret used to mint and
// verify lightning-rail bearer tokens. The returned slice shares memory
// with the keystore; callers must not retain it past Close.
func (ks *Keystore) MacaroonRootSecret() []byte {
	return ks.macaroonSecret.Bytes()
}

// Close zeroes every secret the keystore is holding.
func (ks *Keystore) Close() {
	ks.secp256k1Scalar.Zero()
	ks.ed25519Seed.Zero()
	ks.macaroonSecret.Zero()
}

func (ks *Keystore) loadOrGenerate(ctx context.Context, filename string, size int, gen func() ([]byte, error)) (*SecureBytes, error) {
	path := filepath.Join(ks.dir, filename)

	raw, err := os.ReadFile(path)
	if err == nil {
		plain, decErr := ks.decryptIfNeeded(ctx, raw)
		if decErr != nil {
			return nil, fmt.Errorf("keystore: decrypt %s: %w", filename, decErr)
		}
		if len(plain) != size {
			return nil, fmt.Errorf("keystore: %s has unexpected length %d, want %d", filename, len(plain), size)
		}
		return NewSecureBytes(plain), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("keystore: read %s: %w", filename, err)
	}

	secret, err := gen()
	if err != nil {
		return nil, fmt.Errorf("keystore: generate %s: %w", filename, err)
	}

	onDisk, err := ks.encryptIfNeeded(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("keystore: encrypt %s: %w", filename, err)
	}
	if err := os.WriteFile(path, onDisk, 0600); err != nil {
		return nil, fmt.Errorf("keystore: write %s: %w", filename, err)
	}

	return NewSecureBytes(secret), nil
}

func randomBytes(n int) func() ([]byte, error) {
	return func() ([]byte, error) {
		b := make([]byte, n)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		return b, nil
	}
}

func randomSecp256k1Scalar() ([]byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	b := priv.Serialize()
	return b, nil
}
