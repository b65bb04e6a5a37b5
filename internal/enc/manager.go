// Package enc owns the master account secret and every per-entity data
// encryption key. Plaintext DEKs exist only in this package's memory; the
// wrapped forms are what travels to the server and into the device-local
// store.
package enc

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/denysvitali/happy-flutter-sub000/internal/crypto"
	"github.com/denysvitali/happy-flutter-sub000/internal/store"
)

type Kind string

const (
	KindSession  Kind = "session"
	KindMachine  Kind = "machine"
	KindArtifact Kind = "artifact"
)

var (
	ErrAlreadyInitialized = errors.New("enc: manager already initialized")
	ErrNotInitialized     = errors.New("enc: manager not initialized")
)

type entityKey struct {
	kind Kind
	id   string
}

// entityRecord tracks one entity's key state. A DEK is unwrapped at most
// once per process lifetime per entity; later InitializeEntities calls for a
// known id only refresh the persisted wrapped form.
type entityRecord struct {
	enc           *Entity
	undecryptable bool
	pending       bool // no wrapped key seen yet
}

type Manager struct {
	mu       sync.RWMutex
	secret   []byte
	anonID   string
	live     bool
	entities map[entityKey]*entityRecord

	local  store.Local // optional; persists wrapped DEKs across launches
	logger *zap.Logger
}

func NewManager(local store.Local, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		entities: make(map[entityKey]*entityRecord),
		local:    local,
		logger:   logger,
	}
}

// Initialize arms the manager with the account secret. Double-initializing a
// live manager is a programming error; re-initializing after Teardown is the
// normal re-login path.
func (m *Manager) Initialize(secret []byte) error {
	if len(secret) != 32 {
		return errors.New("enc: account secret must be 32 bytes")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live {
		return ErrAlreadyInitialized
	}
	m.secret = append([]byte(nil), secret...)
	_ = crypto.LockBuffer(m.secret)
	m.anonID = crypto.AnonymousID(m.secret)
	m.live = true
	return nil
}

// Teardown destroys all key material. Safe to call twice.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live {
		return
	}
	for k, rec := range m.entities {
		if rec.enc != nil {
			rec.enc.destroy()
		}
		delete(m.entities, k)
	}
	crypto.Zero(m.secret)
	_ = crypto.UnlockBuffer(m.secret)
	m.secret = nil
	m.anonID = ""
	m.live = false
}

// AnonymousID is the telemetry-safe account identifier.
func (m *Manager) AnonymousID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.anonID
}

// InitializeEntities registers wrapped DEKs for a batch of entities, as
// delivered by a full resync. A nil wrapped key marks the entity as
// unencrypted/unknown rather than dropping it. Unwrap failures degrade the
// single entity to undecryptable; they never fail the batch.
func (m *Manager) InitializeEntities(kind Kind, wrapped map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live {
		return ErrNotInitialized
	}
	for id, w := range wrapped {
		key := entityKey{kind: kind, id: id}
		if rec, ok := m.entities[key]; ok && !rec.pending {
			// already resolved this process; just refresh persistence
			m.persistWrapped(kind, id, w)
			continue
		}
		if w == nil {
			m.entities[key] = &entityRecord{pending: true}
			continue
		}
		dek, ok := crypto.UnwrapKey(w, m.secret)
		if !ok {
			m.logger.Warn("enc: entity key not decryptable",
				zap.String("kind", string(kind)), zap.String("id", id))
			m.entities[key] = &entityRecord{undecryptable: true}
			continue
		}
		m.entities[key] = &entityRecord{enc: newEntity(kind, id, dek)}
		m.persistWrapped(kind, id, w)
	}
	return nil
}

func (m *Manager) persistWrapped(kind Kind, id string, wrapped []byte) {
	if m.local == nil || wrapped == nil {
		return
	}
	if err := m.local.Put("dek/"+string(kind)+"/"+id, wrapped); err != nil {
		m.logger.Warn("enc: persisting wrapped key failed", zap.Error(err))
	}
}

// Entity returns the encryption context for one entity, or nil while its key
// has not been established. Callers treat nil as "content pending", not as an
// error.
func (m *Manager) Entity(kind Kind, id string) *Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.entities[entityKey{kind: kind, id: id}]
	if !ok || rec.enc == nil {
		return nil
	}
	return rec.enc
}

// RemoveEntity forgets an entity's key material entirely: the cached DEK,
// its context, and the persisted wrapped form. Used on session deletion.
func (m *Manager) RemoveEntity(kind Kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entityKey{kind: kind, id: id}
	if rec, ok := m.entities[key]; ok {
		if rec.enc != nil {
			rec.enc.destroy()
		}
		delete(m.entities, key)
	}
	if m.local != nil {
		_ = m.local.Delete("dek/" + string(kind) + "/" + id)
	}
}

// CreateEntityKey mints a fresh DEK for a locally created entity and returns
// the wrapped form for the server.
func (m *Manager) CreateEntityKey(kind Kind, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live {
		return nil, ErrNotInitialized
	}
	dek, err := crypto.NewDEK()
	if err != nil {
		return nil, err
	}
	wrapped, err := crypto.WrapKey(dek, m.secret)
	if err != nil {
		return nil, err
	}
	m.entities[entityKey{kind: kind, id: id}] = &entityRecord{enc: newEntity(kind, id, dek)}
	m.persistWrapped(kind, id, wrapped)
	return wrapped, nil
}

// EncryptRaw seals an opaque payload under the master secret.
func (m *Manager) EncryptRaw(value []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.live {
		return nil, ErrNotInitialized
	}
	return crypto.SealRaw(m.secret, value)
}

// DecryptRaw opens a payload sealed with EncryptRaw. Returns nil on any
// authentication failure so tampered or corrupt data reads as absent.
func (m *Manager) DecryptRaw(ciphertext []byte) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.live {
		return nil
	}
	return crypto.OpenRaw(m.secret, ciphertext)
}
