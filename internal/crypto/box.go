package crypto

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/box"
)

var ErrBoxTooShort = errors.New("crypto: box ciphertext too short")

// BoxSeal encrypts plaintext so that only the holder of peerPub can open it,
// authenticated by ownPriv. A fresh 24-byte nonce is generated per call and
// prefixed to the ciphertext: [nonce||box].
func BoxSeal(plaintext, peerPub, ownPriv []byte) ([]byte, error) {
	pub, priv, err := boxKeys(peerPub, ownPriv)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+box.Overhead)
	out = append(out, nonce[:]...)
	return box.Seal(out, plaintext, &nonce, pub, priv), nil
}

// BoxOpen reverses BoxSeal. Any authentication failure yields an error, never
// a partially decrypted buffer.
func BoxOpen(ciphertext, peerPub, ownPriv []byte) ([]byte, error) {
	pub, priv, err := boxKeys(peerPub, ownPriv)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < 24+box.Overhead {
		return nil, ErrBoxTooShort
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	pt, ok := box.Open(nil, ciphertext[24:], &nonce, pub, priv)
	if !ok {
		return nil, errors.New("crypto: box authentication failed")
	}
	return pt, nil
}

func boxKeys(peerPub, ownPriv []byte) (*[32]byte, *[32]byte, error) {
	if len(peerPub) != 32 || len(ownPriv) != 32 {
		return nil, nil, errors.New("crypto: box keys must be 32 bytes")
	}
	var pub, priv [32]byte
	copy(pub[:], peerPub)
	copy(priv[:], ownPriv)
	return &pub, &priv, nil
}
