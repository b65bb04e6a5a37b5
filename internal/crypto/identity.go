package crypto

import (
	"crypto/ed25519"
	"errors"

	"golang.org/x/crypto/curve25519"
)

const SeedSize = 32

var (
	ErrInvalidSeedLength   = errors.New("crypto: seed must be 32 bytes")
	ErrUnsupportedPlatform = errors.New("crypto: no secure signing primitive on this platform")
)

// Identity is the per-linking-attempt keypair. The signing half authenticates
// challenges; the box half receives the account secret during linking. Both
// halves are derived from the same 32-byte seed, so the QR payload only has to
// carry one public key per purpose. The private halves never leave the device
// and the whole Identity is discarded once the handshake resolves.
type Identity struct {
	SignPub  ed25519.PublicKey
	SignPriv ed25519.PrivateKey
	BoxPub   []byte
	BoxPriv  []byte
}

// DeriveIdentity deterministically derives an Identity from seed.
// Same seed, same keys, always.
func DeriveIdentity(seed []byte) (Identity, error) {
	if len(seed) != SeedSize {
		return Identity{}, ErrInvalidSeedLength
	}
	signPriv := ed25519.NewKeyFromSeed(seed)

	boxPriv := make([]byte, 32)
	copy(boxPriv, seed)
	boxPub, err := curve25519.X25519(boxPriv, curve25519.Basepoint)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		SignPub:  signPriv.Public().(ed25519.PublicKey),
		SignPriv: signPriv,
		BoxPub:   boxPub,
		BoxPriv:  boxPriv,
	}, nil
}

// Sign produces a detached signature over msg.
func Sign(priv ed25519.PrivateKey, msg []byte) ([]byte, error) {
	if !signingSupported {
		return nil, ErrUnsupportedPlatform
	}
	return ed25519.Sign(priv, msg), nil
}

func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// Destroy zeroes the private key material.
func (id *Identity) Destroy() {
	Zero(id.SignPriv)
	Zero(id.BoxPriv)
	id.SignPriv = nil
	id.BoxPriv = nil
}
