package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/hkdf"
)

// AnonymousID derives a stable identifier from the account secret that is
// safe to attach to telemetry. One-way: HKDF-SHA256 with a fixed info string,
// not invertible to the secret.
func AnonymousID(secret []byte) string {
	stream := hkdf.New(sha256.New, secret, nil, []byte("telemetry/anon-id"))
	id := make([]byte, 16)
	if _, err := io.ReadFull(stream, id); err != nil {
		// hkdf only errors once the stream is exhausted, which 16 bytes never is
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(id)
}
