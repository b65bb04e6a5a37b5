package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"
)

type KDFParams struct {
	M    uint32
	T    uint32
	P    uint8
	Salt []byte
}

// DefaultStoreKDF returns argon2id parameters sized for interactive unlock of
// the device-local store on a phone-class device.
func DefaultStoreKDF() KDFParams {
	salt := make([]byte, 32)
	_, _ = rand.Read(salt)
	return KDFParams{M: 128 * 1024, T: 3, P: 4, Salt: salt}
}

// StretchPassphrase derives the 32-byte at-rest key for the device-local
// store from a passphrase.
func StretchPassphrase(passphrase []byte, p KDFParams) (key [32]byte) {
	k := argon2.IDKey(passphrase, p.Salt, p.T, p.M, p.P, 32)
	copy(key[:], k)
	Zero(k)
	return
}
