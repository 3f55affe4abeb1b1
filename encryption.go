package trustplane

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// encryptionNonceSize is the nonce size for AES-GCM.
	encryptionNonceSize = 12
	// encryptionSaltSize is the salt size for key derivation.
	encryptionSaltSize = 32
	// encryptionKeySize is the AES-256 key size.
	encryptionKeySize = 32
	// pbkdf2Iterations is the iteration count for key derivation.
	pbkdf2Iterations = 100000
)

// EncryptionConfig configures archive encryption at rest.
type EncryptionConfig struct {
	// Enabled turns on encryption for archive objects.
	Enabled bool `yaml:"enabled"`
	// Key is the 32-byte AES-256 key. If empty, KeyPassword is used.
	Key []byte `yaml:"-"`
	// KeyPassword derives the key via PBKDF2 when Key is empty.
	KeyPassword string `yaml:"key_password,omitempty"`
}

// Encryptor encrypts and decrypts archive blobs with AES-256-GCM. Encrypted
// blobs are laid out as salt || nonce || ciphertext.
type Encryptor struct {
	key      []byte
	salt     []byte
	password string
}

// NewEncryptor creates an encryptor from a key or password. Returns nil (and
// no error) when encryption is disabled.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var key, salt []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != encryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		key = cfg.Key
		salt = make([]byte, encryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
	case cfg.KeyPassword != "":
		salt = make([]byte, encryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		key = pbkdf2.Key([]byte(cfg.KeyPassword), salt, pbkdf2Iterations, encryptionKeySize, sha256.New)
	default:
		return nil, errors.New("encryption enabled but no key or password provided")
	}

	return &Encryptor{key: key, salt: salt, password: cfg.KeyPassword}, nil
}

func (e *Encryptor) aead(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals a blob. The salt travels with the ciphertext so a password-
// derived key can be rebuilt on decrypt.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.aead(e.key)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	nonce := make([]byte, encryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encryption: nonce generation: %w", err)
	}

	out := make([]byte, 0, encryptionSaltSize+encryptionNonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, e.salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a blob sealed by Encrypt.
func (e *Encryptor) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < encryptionSaltSize+encryptionNonceSize {
		return nil, errors.New("encryption: blob too short")
	}
	salt := blob[:encryptionSaltSize]
	nonce := blob[encryptionSaltSize : encryptionSaltSize+encryptionNonceSize]
	ciphertext := blob[encryptionSaltSize+encryptionNonceSize:]

	// Password-derived keys are rebuilt from the blob's own salt so archives
	// written by a previous process remain readable.
	key := e.key
	if e.password != "" && !bytesEqual(salt, e.salt) {
		key = pbkdf2.Key([]byte(e.password), salt, pbkdf2Iterations, encryptionKeySize, sha256.New)
	}
	gcm, err := e.aead(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("encryption: decryption failed: %w", err)
	}
	return plaintext, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
