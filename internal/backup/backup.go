// Package backup encodes the 32-byte account secret as a human-transcribable
// key: Crockford base32 in hyphen-separated blocks of four. Decoding is
// case-insensitive and tolerant of the usual transcription slips (I/L read as
// 1, O read as 0).
package backup

import (
	"encoding/base32"
	"errors"
	"strings"
)

const (
	SecretSize = 32
	groupSize  = 4
)

var (
	ErrBadLength  = errors.New("backup: decoded key is not 32 bytes")
	ErrBadSymbol  = errors.New("backup: invalid character in backup key")
	crockford     = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)
	transcription = strings.NewReplacer("I", "1", "L", "1", "O", "0", "-", "", " ", "")
)

// Encode renders secret as grouped alphanumeric blocks, e.g.
// "6YHD-K3NV-....". Round-trips byte-exact through Decode.
func Encode(secret [SecretSize]byte) string {
	raw := crockford.EncodeToString(secret[:])
	var b strings.Builder
	b.Grow(len(raw) + len(raw)/groupSize)
	for i, r := range raw {
		if i > 0 && i%groupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Decode parses a backup key produced by Encode. Separators and case are
// ignored.
func Decode(s string) ([SecretSize]byte, error) {
	var out [SecretSize]byte
	clean := transcription.Replace(strings.ToUpper(strings.TrimSpace(s)))
	raw, err := crockford.DecodeString(clean)
	if err != nil {
		return out, ErrBadSymbol
	}
	if len(raw) != SecretSize {
		return out, ErrBadLength
	}
	copy(out[:], raw)
	return out, nil
}
