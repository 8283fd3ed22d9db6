// Package crypto is the sealing collaborator: detached ed25519 signatures over
// canonical digests, AES-GCM sealing of stored documents and random ids.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInvalidEncoding  = errors.New("invalid encoding")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownKey       = errors.New("no public key registered")
	ErrCiphertextShort  = errors.New("ciphertext too short")
)

// KeyResolver supplies the public key a party signs with.
type KeyResolver interface {
	PublicKey(partyID string) (ed25519.PublicKey, error)
}

// KeyRing is an in-memory KeyResolver.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]ed25519.PublicKey)}
}

func (k *KeyRing) Register(partyID string, pub ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[partyID] = pub
}

// RegisterEncoded registers a base64 (std encoding) ed25519 public key.
func (k *KeyRing) RegisterEncoded(partyID, publicKeyB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(publicKeyB64))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("party %s: %w", partyID, ErrInvalidEncoding)
	}
	k.Register(partyID, ed25519.PublicKey(raw))
	return nil
}

func (k *KeyRing) PublicKey(partyID string) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.keys[partyID]
	if !ok {
		return nil, fmt.Errorf("party %s: %w", partyID, ErrUnknownKey)
	}
	return pub, nil
}

// Sealer implements sign/verify, encrypt/decrypt and random ids.
type Sealer struct {
	aead cipher.AEAD
	keys KeyResolver
}

// NewSealer builds a Sealer from a hex encoded 32 byte AES key. An empty key
// generates an ephemeral one, which is only suitable for in-memory storage.
func NewSealer(encryptionKeyHex string, keys KeyResolver) (*Sealer, error) {
	var key []byte
	if encryptionKeyHex == "" {
		key = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
	} else {
		decoded, err := hex.DecodeString(strings.TrimSpace(encryptionKeyHex))
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 hex-encoded bytes: %w", ErrInvalidEncoding)
		}
		key = decoded
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if keys == nil {
		keys = NewKeyRing()
	}
	return &Sealer{aead: aead, keys: keys}, nil
}

// RandomID returns a new opaque identifier.
func (s *Sealer) RandomID() string {
	return uuid.NewString()
}

// Encrypt seals plaintext; the nonce is prefixed to the returned ciphertext.
func (s *Sealer) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Decrypt(ciphertext []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, ErrCiphertextShort
	}
	plaintext, err := s.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}

// Verify checks a base64 signature by partyID over payload.
func (s *Sealer) Verify(partyID string, payload []byte, signatureB64 string) error {
	pub, err := s.keys.PublicKey(partyID)
	if err != nil {
		return err
	}
	return Verify(payload, signatureB64, pub)
}

// Sign returns the base64 ed25519 signature of payload.
func Sign(payload []byte, key ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, payload))
}

// Verify checks a base64 ed25519 signature against a public key.
func Verify(payload []byte, signatureB64 string, pub ed25519.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureB64))
	if err != nil || len(sig) != ed25519.SignatureSize || len(pub) != ed25519.PublicKeySize {
		return ErrInvalidEncoding
	}
	if !ed25519.Verify(pub, payload, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// CanonicalDigest is the sha256 of the JSON encoding of v. encoding/json
// orders map keys, so equal values always produce equal digests.
func CanonicalDigest(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}
