package crypto

import (
	"crypto/rand"
	"errors"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

const DEKSize = 32

var (
	aadDEKWrap = []byte("dek-wrap")
	aadRaw     = []byte("raw")
)

// NewDEK returns a fresh 32-byte data encryption key.
func NewDEK() ([]byte, error) {
	dek := make([]byte, DEKSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, err
	}
	return dek, nil
}

// WrapKey encrypts a DEK under the account secret for server-side storage.
func WrapKey(dek, secret []byte) ([]byte, error) {
	if len(dek) != DEKSize {
		return nil, errors.New("crypto: DEK must be 32 bytes")
	}
	return sealX(secret, dek, aadDEKWrap)
}

// UnwrapKey recovers a DEK wrapped with WrapKey. ok is false on any
// authentication failure; callers treat that as "key not decryptable yet",
// never as a fatal condition.
func UnwrapKey(wrapped, secret []byte) (dek []byte, ok bool) {
	pt, err := openX(secret, wrapped, aadDEKWrap)
	if err != nil || len(pt) != DEKSize {
		return nil, false
	}
	return pt, true
}

// SealRaw / OpenRaw are the generic envelope for opaque payloads (settings,
// KV values) under a symmetric key. OpenRaw returns nil on authentication
// failure so tampered or corrupt data reads as absent.
func SealRaw(key, plaintext []byte) ([]byte, error) {
	return sealX(key, plaintext, aadRaw)
}

func OpenRaw(key, ciphertext []byte) []byte {
	pt, err := openX(key, ciphertext, aadRaw)
	if err != nil {
		return nil
	}
	return pt
}

// SealWith / OpenWith are the same envelope with caller-supplied AAD, used to
// bind entity records to their id and schema version.
func SealWith(key, plaintext, aad []byte) ([]byte, error) {
	return sealX(key, plaintext, aad)
}

func OpenWith(key, ciphertext, aad []byte) ([]byte, error) {
	return openX(key, ciphertext, aad)
}

// sealX is XChaCha20-Poly1305 with the nonce carried as a prefix:
// [nonce||ciphertext||tag].
func sealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

func openX(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < xchacha.NonceSizeX {
		return nil, errors.New("crypto: ciphertext too short")
	}
	nonce := ciphertext[:xchacha.NonceSizeX]
	return aead.Open(nil, nonce, ciphertext[xchacha.NonceSizeX:], aad)
}
