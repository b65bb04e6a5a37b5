// Package linking implements the QR-code handshake that hands the account
// secret from an authenticated device to a new one. The new device shows a
// QR payload with a fresh public key; the authenticated device answers with
// the account secret sealed under that key.
package linking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/denysvitali/happy-flutter-sub000/internal/api"
	"github.com/denysvitali/happy-flutter-sub000/internal/creds"
	"github.com/denysvitali/happy-flutter-sub000/internal/crypto"
	"github.com/denysvitali/happy-flutter-sub000/internal/qr"
)

type State int

const (
	Idle State = iota
	AwaitingApproval
	Approved
	Rejected
	Expired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingApproval:
		return "awaiting-approval"
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrLinkingForbidden = errors.New("linking: request rejected by server")
	ErrLinkingExpired   = errors.New("linking: no approval before deadline")
	ErrNotStarted       = errors.New("linking: Start must be called first")
)

type Config struct {
	API    *api.Client
	Creds  *creds.Store
	Kind   qr.Kind
	Policy api.RetryPolicy
	Logger *zap.Logger

	// OnError receives non-terminal poll errors (4xx detail, 5xx) so the UI
	// can show them while polling continues. Optional.
	OnError func(error)
}

type Linker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	identity crypto.Identity
}

func New(cfg Config) (*Linker, error) {
	if cfg.API == nil {
		return nil, errors.New("linking: API client required")
	}
	if cfg.Kind == "" {
		cfg.Kind = qr.KindAccount
	}
	if cfg.Policy == (api.RetryPolicy{}) {
		cfg.Policy = api.DefaultLinkPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Linker{cfg: cfg}, nil
}

func (l *Linker) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start generates a fresh identity for this attempt, registers its public
// key as a pending linking request and returns the QR payload to display.
// A new keypair is minted per call; nothing survives from earlier attempts.
func (l *Linker) Start(ctx context.Context) (string, error) {
	seed := make([]byte, crypto.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	id, err := crypto.DeriveIdentity(seed)
	crypto.Zero(seed)
	if err != nil {
		return "", err
	}

	err = l.cfg.API.LinkRegister(ctx, api.LinkRequest{
		PublicKey: id.BoxPub,
		Kind:      string(l.cfg.Kind),
	})
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	if l.state == AwaitingApproval {
		l.identity.Destroy()
	}
	l.identity = id
	l.state = AwaitingApproval
	l.mu.Unlock()

	return qr.Encode(l.cfg.Kind, id.BoxPub), nil
}

// Poll drives the handshake until approval, rejection, or the policy
// deadline. On approval the decrypted credentials are persisted (when a
// credential store is configured) and returned.
func (l *Linker) Poll(ctx context.Context) (creds.Credentials, error) {
	l.mu.Lock()
	if l.state != AwaitingApproval {
		l.mu.Unlock()
		return creds.Credentials{}, ErrNotStarted
	}
	id := l.identity
	l.mu.Unlock()

	var out creds.Credentials
	err := l.cfg.Policy.Run(ctx, func(ctx context.Context) (bool, error) {
		status, err := l.cfg.API.LinkWait(ctx, id.BoxPub)
		switch {
		case err == nil:
		case api.IsAuthError(err):
			l.setState(Rejected)
			return true, ErrLinkingForbidden
		case api.IsTLSError(err):
			// security relevant, propagate immediately
			return true, err
		case api.IsServerError(err):
			l.surface(err)
			return false, nil
		case isStatusError(err):
			// non-403 4xx: surfaced once, polling goes on
			l.surface(err)
			return false, nil
		default:
			// offline and other transport errors keep polling
			l.cfg.logDebug("poll transport error", err)
			return false, nil
		}

		switch status.State {
		case api.LinkStateAuthorized:
			secret, derr := crypto.BoxOpen(status.Response, status.SenderKey, id.BoxPriv)
			if derr != nil {
				return true, fmt.Errorf("linking: secret payload failed to decrypt: %w", derr)
			}
			out = creds.Credentials{Token: status.Token, Secret: secret}
			return true, nil
		case api.LinkStateRejected:
			l.setState(Rejected)
			return true, ErrLinkingForbidden
		default:
			return false, nil
		}
	})

	if errors.Is(err, api.ErrDeadline) {
		l.setState(Expired)
		return creds.Credentials{}, ErrLinkingExpired
	}
	if err != nil {
		return creds.Credentials{}, err
	}

	if l.cfg.Creds != nil {
		if err := l.cfg.Creds.Save(out); err != nil {
			// attempt is consumed either way: the identity dies and the
			// caller must Start over
			l.mu.Lock()
			l.identity.Destroy()
			l.state = Idle
			l.mu.Unlock()
			return creds.Credentials{}, err
		}
	}
	l.mu.Lock()
	l.state = Approved
	l.identity.Destroy()
	l.mu.Unlock()
	return out, nil
}

// Approve runs on the already-authenticated device: it seals its account
// secret under the requester's public key with a fresh sender keypair and
// submits the response. A declined response is (false, nil), not an error.
func Approve(ctx context.Context, client *api.Client, secret, requesterPub []byte) (bool, error) {
	seed := make([]byte, crypto.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return false, err
	}
	sender, err := crypto.DeriveIdentity(seed)
	crypto.Zero(seed)
	if err != nil {
		return false, err
	}
	defer sender.Destroy()

	sealed, err := crypto.BoxSeal(secret, requesterPub, sender.BoxPriv)
	if err != nil {
		return false, err
	}
	accepted, err := client.LinkRespond(ctx, api.LinkResponse{
		PublicKey: requesterPub,
		Response:  sealed,
		SenderKey: sender.BoxPub,
		Accept:    true,
	})
	if api.IsAuthError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return accepted, nil
}

func (l *Linker) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Linker) surface(err error) {
	if l.cfg.OnError != nil {
		l.cfg.OnError(err)
	}
	l.cfg.Logger.Warn("linking: poll error", zap.Error(err))
}

func (c Config) logDebug(msg string, err error) {
	c.Logger.Debug("linking: "+msg, zap.Error(err))
}

func isStatusError(err error) bool {
	var se *api.StatusError
	return errors.As(err, &se)
}
