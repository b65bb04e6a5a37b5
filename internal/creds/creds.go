// Package creds owns the long-lived account secret and the bearer token.
// Nothing else in the core reads the secret directly; the encryption manager
// and the linking protocol borrow it through here.
package creds

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/denysvitali/happy-flutter-sub000/internal/crypto"
	"github.com/denysvitali/happy-flutter-sub000/internal/store"
)

const storeKey = "creds/active"

var ErrNoCredentials = errors.New("creds: not signed in")

// Credentials pair the bearer token with the root account secret.
type Credentials struct {
	Token  string
	Secret []byte
}

// Encoded is the wire form used by the REST API.
type Encoded struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

func (c Credentials) Encode() Encoded {
	return Encoded{
		Token:  c.Token,
		Secret: base64.StdEncoding.EncodeToString(c.Secret),
	}
}

func Decode(e Encoded) (Credentials, error) {
	secret, err := base64.StdEncoding.DecodeString(e.Secret)
	if err != nil {
		return Credentials{}, err
	}
	if len(secret) != 32 {
		return Credentials{}, errors.New("creds: account secret must be 32 bytes")
	}
	return Credentials{Token: e.Token, Secret: secret}, nil
}

// Store persists exactly one active credential set.
type Store struct {
	local store.Local
}

func NewStore(local store.Local) *Store {
	return &Store{local: local}
}

func (s *Store) Save(c Credentials) error {
	if len(c.Secret) != 32 {
		return errors.New("creds: account secret must be 32 bytes")
	}
	// best effort, mlock is not available everywhere
	_ = crypto.LockBuffer(c.Secret)
	b, err := json.Marshal(c.Encode())
	if err != nil {
		return err
	}
	return s.local.Put(storeKey, b)
}

func (s *Store) Load() (Credentials, error) {
	b, err := s.local.Get(storeKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, err
	}
	var e Encoded
	if err := json.Unmarshal(b, &e); err != nil {
		return Credentials{}, err
	}
	c, err := Decode(e)
	if err != nil {
		return Credentials{}, err
	}
	_ = crypto.LockBuffer(c.Secret)
	return c, nil
}

// Clear destroys the active credentials. Called on sign-out and on an
// authorization-denied response for the active token.
func (s *Store) Clear() error {
	if c, err := s.Load(); err == nil {
		crypto.Zero(c.Secret)
		_ = crypto.UnlockBuffer(c.Secret)
	}
	return s.local.Delete(storeKey)
}
