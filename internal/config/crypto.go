package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// keyFileSize is the size of the per-machine key material file: 32 raw
// bytes, stored with 0600 permissions.
const keyFileSize = 32

// loadOrCreateKeyFile reads the per-machine key material from path,
// generating and persisting it (mode 0600) if absent.
func loadOrCreateKeyFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != keyFileSize {
			return nil, fmt.Errorf("credentials keyfile %s: expected %d bytes, got %d", path, keyFileSize, len(raw))
		}
		return raw, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read credentials keyfile: %w", err)
	}

	raw = make([]byte, keyFileSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate credentials keyfile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return nil, fmt.Errorf("write credentials keyfile: %w", err)
	}
	return raw, nil
}

// deriveGCMKey expands the raw keyfile material into an AES-256-GCM key via
// HKDF-SHA256 rather than using the raw bytes directly, so the keyfile's
// format isn't married to AES-GCM's exact key size.
func deriveGCMKey(keyMaterial []byte) ([]byte, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, keyMaterial, nil, []byte("ccjk-daemon-credentials-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// encryptSecret encrypts plaintext with AES-256-GCM under the key derived
// from keyMaterial, returning a base64-encoded "nonce||ciphertext" blob.
func encryptSecret(keyMaterial []byte, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := deriveGCMKey(keyMaterial)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptSecret reverses encryptSecret.
func decryptSecret(keyMaterial []byte, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	key, err := deriveGCMKey(keyMaterial)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plaintext), nil
}
