package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/v2/aead"
	"github.com/sirupsen/logrus"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Cipher encrypts provider API keys at rest with an AES-GCM aead wrapper
type Cipher struct {
	wrapper *aead.Wrapper
}

// envelope is the persisted form of a wrapped blob
type envelope struct {
	Ciphertext []byte `json:"ct"`
	IV         []byte `json:"iv,omitempty"`
	KeyID      string `json:"kid,omitempty"`
}

// NewCipher derives a 256-bit key from secret. An empty secret selects a random
// key, so stored keys do not survive a restart.
func NewCipher(ctx context.Context, secret string, logger *logrus.Logger) (*Cipher, error) {
	var key []byte
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		logger.Warn("SECRET_KEY is not set, using an ephemeral key; stored API keys will not survive a restart")
	} else {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}

	w := aead.NewWrapper()
	_, err := w.SetConfig(ctx, wrapping.WithConfigMap(map[string]string{
		"key": base64.StdEncoding.EncodeToString(key),
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to configure AEAD wrapper: %w", err)
	}
	return &Cipher{wrapper: w}, nil
}

// Encrypt returns a base64 envelope for plaintext; empty input stays empty
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	blob, err := c.wrapper.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	env := envelope{Ciphertext: blob.Ciphertext, IV: blob.Iv}
	if blob.KeyInfo != nil {
		env.KeyID = blob.KeyInfo.KeyId
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decrypt reverses Encrypt
func (c *Cipher) Decrypt(ctx context.Context, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Ciphertext) == 0 {
		return "", ErrInvalidCiphertext
	}

	blob := &wrapping.BlobInfo{Ciphertext: env.Ciphertext, Iv: env.IV}
	if env.KeyID != "" {
		blob.KeyInfo = &wrapping.KeyInfo{KeyId: env.KeyID}
	}
	plaintext, err := c.wrapper.Decrypt(ctx, blob)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}
