// Package crypto keeps the treasury's signing key encrypted at rest. Keys
// are sealed with PBKDF2-HMAC-SHA256 derivation and AES-256-GCM, so an
// operator can ship the key file alongside the config and supply the
// password at deploy time.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	vaultVersion     = 1
)

// sealedKeyJSON is the on-disk format for a sealed signing key.
type sealedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SealKey encrypts a hex-encoded secp256k1 signing key with a password and
// returns the JSON blob suitable for writing to disk.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid signing key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	sealed := sealedKeyJSON{
		Version:    vaultVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(sealed, "", "  ")
}

// OpenKey decrypts a blob produced by SealKey and returns the hex-encoded
// signing key without the 0x prefix.
func OpenKey(sealedBlob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var sealed sealedKeyJSON
	if err := json.Unmarshal(sealedBlob, &sealed); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed key JSON: %w", err)
	}
	if sealed.Version != vaultVersion {
		return "", fmt.Errorf("crypto: unsupported vault version %d", sealed.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(sealed.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return "", fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: creating GCM: %w", err)
	}

	keyBytes, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.New("crypto: decryption failed (wrong password or corrupted file)")
	}
	return hex.EncodeToString(keyBytes), nil
}

// LoadKeyConfig carries the two supported ways to resolve a signing key.
type LoadKeyConfig struct {
	// RawPrivateKey, if set, is returned directly (hex, 0x optional).
	RawPrivateKey string

	// SealedKeyPath points to a file produced by SealKey; KeyPassword
	// decrypts it.
	SealedKeyPath string
	KeyPassword   string
}

// LoadKey resolves a signing key from either a raw hex value or a sealed key
// file.
func LoadKey(cfg LoadKeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		return strings.TrimPrefix(cfg.RawPrivateKey, "0x"), nil
	}
	if cfg.SealedKeyPath == "" {
		return "", errors.New("crypto: no signing key configured")
	}

	blob, err := os.ReadFile(cfg.SealedKeyPath)
	if err != nil {
		return "", fmt.Errorf("crypto: reading sealed key file: %w", err)
	}
	return OpenKey(blob, cfg.KeyPassword)
}
