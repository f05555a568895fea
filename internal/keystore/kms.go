package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"oraclegate/internal/config"
)

// envelopeCipher wraps an AWS KMS key: GenerateDataKey mints a fresh
// AES-256 data key for every secret written, with the key's ciphertext
// blob stored alongside the AES-GCM-sealed secret so it can be unwrapped
// by calling Decrypt again, without KMS ever handling the 32-byte
// private scalars directly.
type envelopeCipher struct {
	client *kms.Client
	keyID  string
}

func newEnvelopeCipher(ctx context.Context, cfg config.KMSConfig) (*envelopeCipher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("keystore: load aws config: %w", err)
	}
	return &envelopeCipher{
		client: kms.NewFromConfig(awsCfg),
		keyID:  cfg.KeyID,
	}, nil
}

// envelope is the on-disk JSON shape for a KMS-wrapped secret.
type envelope struct {
	CiphertextBlob []byte `json:"ciphertext_blob"` // KMS-encrypted data key
	Nonce          []byte `json:"nonce"`
	Sealed         []byte `json:"sealed"` // AES-GCM(secret) under the data key
}

func (e *envelopeCipher) seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := e.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   &e.keyID,
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("kms generate data key: %w", err)
	}
	defer zero(out.Plaintext)

	block, err := aes.NewCipher(out.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	return json.Marshal(envelope{
		CiphertextBlob: out.CiphertextBlob,
		Nonce:          nonce,
		Sealed:         sealed,
	})
}

func (e *envelopeCipher) open(ctx context.Context, onDisk []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(onDisk, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	out, err := e.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: env.CiphertextBlob,
		KeyId:          &e.keyID,
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt data key: %w", err)
	}
	defer zero(out.Plaintext)

	block, err := aes.NewCipher(out.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}

	return gcm.Open(nil, env.Nonce, env.Sealed, nil)
}

func (ks *Keystore) encryptIfNeeded(ctx context.Context, plaintext []byte) ([]byte, error) {
	if ks.envelop == nil {
		return plaintext, nil
	}
	return ks.envelop.seal(ctx, plaintext)
}

func (ks *Keystore) decryptIfNeeded(ctx context.Context, onDisk []byte) ([]byte, error) {
	if ks.envelop == nil {
		return onDisk, nil
	}
	return ks.envelop.open(ctx, onDisk)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
