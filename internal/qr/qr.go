// Package qr encodes and parses the linking QR payload:
//
//	happy://<host>/<account|device>?<base64url(publicKey)>
//
// The public key rides in the raw query string so the payload stays short
// enough for a dense-but-scannable QR code.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const Scheme = "happy"

type Kind string

const (
	// KindAccount links a brand-new device to an existing account.
	KindAccount Kind = "account"
	// KindDevice re-links a known device after credential loss.
	KindDevice Kind = "device"
)

var ErrBadPayload = errors.New("qr: malformed linking payload")

type Payload struct {
	Kind      Kind
	PublicKey []byte
}

func Encode(kind Kind, publicKey []byte) string {
	return fmt.Sprintf("%s:///%s?%s", Scheme, kind, base64.RawURLEncoding.EncodeToString(publicKey))
}

// Parse decodes a scanned payload. Base64 padding may be present or absent;
// both forms are accepted.
func Parse(s string) (Payload, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Scheme != Scheme {
		return Payload{}, ErrBadPayload
	}
	var kind Kind
	switch strings.Trim(u.Path, "/") {
	case string(KindAccount):
		kind = KindAccount
	case string(KindDevice):
		kind = KindDevice
	default:
		return Payload{}, ErrBadPayload
	}
	raw := strings.TrimRight(u.RawQuery, "=")
	if raw == "" {
		return Payload{}, ErrBadPayload
	}
	key, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// scanned payloads sometimes arrive in standard alphabet
		key, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return Payload{}, ErrBadPayload
		}
	}
	return Payload{Kind: kind, PublicKey: key}, nil
}
