package cache

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	keyLen = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// Sealer encrypts cache records for one user. Each record gets its own key
// derived from the user key and the record name, and the record name plus user
// id are bound as associated data so records cannot be swapped.
type Sealer struct {
	key    []byte
	userID []byte
}

// NewSealer derives the user key from secret with Argon2id, salted by the user id.
func NewSealer(secret []byte, userID string) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty cache secret")
	}
	salt := sha256.Sum256([]byte("leaguechat-cache:" + userID))
	return &Sealer{
		key:    argon2.IDKey(secret, salt[:], argonTime, argonMemory, argonThreads, keyLen),
		userID: []byte(userID),
	}, nil
}

func (s *Sealer) recordKey(name []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, s.key, nil, name)
	k := make([]byte, keyLen)
	_, err := r.Read(k)
	return k, err
}

func (s *Sealer) aad(name []byte) []byte {
	out := make([]byte, 0, len(s.userID)+1+len(name))
	out = append(out, s.userID...)
	out = append(out, 0)
	return append(out, name...)
}

// Seal encrypts plaintext under record name. Output is nonce||ciphertext.
func (s *Sealer) Seal(name, plaintext []byte) ([]byte, error) {
	k, err := s.recordKey(name)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, s.aad(name)), nil
}

// Open decrypts a record sealed under the same name.
func (s *Sealer) Open(name, sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed record too short")
	}
	k, err := s.recordKey(name)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return nil, err
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], s.aad(name))
}
