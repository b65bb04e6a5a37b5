package qr

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestParseNoPadding(t *testing.T) {
	p, err := Parse("happy:///account?SGVsbG8gV29ybGQ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != KindAccount {
		t.Fatalf("kind = %q", p.Kind)
	}
	if !bytes.Equal(p.PublicKey, []byte("Hello World")) {
		t.Fatalf("key = %q", p.PublicKey)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	for _, kind := range []Kind{KindAccount, KindDevice} {
		p, err := Parse(Encode(kind, key))
		if err != nil {
			t.Fatalf("parse %s: %v", kind, err)
		}
		if p.Kind != kind || !bytes.Equal(p.PublicKey, key) {
			t.Fatalf("round trip mismatch for %s", kind)
		}
	}
}

func TestParsePaddedQuery(t *testing.T) {
	p, err := Parse("happy:///device?SGVsbG8gV29ybGQ=")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(p.PublicKey, []byte("Hello World")) {
		t.Fatalf("key = %q", p.PublicKey)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []string{
		"",
		"https:///account?AAAA",
		"happy:///settings?AAAA",
		"happy:///account?",
		"happy:///account?!!!!",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}
