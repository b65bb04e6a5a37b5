package enc

import (
	"fmt"

	"github.com/denysvitali/happy-flutter-sub000/internal/crypto"
)

// Entity is the per-entity encryption context. It binds every record to the
// entity id and record version through AAD, so a ciphertext lifted from one
// session cannot be replayed into another.
type Entity struct {
	kind Kind
	id   string
	dek  []byte
}

func newEntity(kind Kind, id string, dek []byte) *Entity {
	return &Entity{kind: kind, id: id, dek: dek}
}

func (e *Entity) aad(field string, version int64) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s/v%d", e.kind, e.id, field, version))
}

// DecryptMetadata opens the entity's metadata record at the given version.
func (e *Entity) DecryptMetadata(version int64, ciphertext []byte) ([]byte, error) {
	return crypto.OpenWith(e.dek, ciphertext, e.aad("metadata", version))
}

// DecryptState opens the agent-state record. A nil ciphertext means the
// entity has no state yet and decrypts to nil without error.
func (e *Entity) DecryptState(version int64, ciphertext []byte) ([]byte, error) {
	if ciphertext == nil {
		return nil, nil
	}
	return crypto.OpenWith(e.dek, ciphertext, e.aad("state", version))
}

// EncryptMetadata seals a metadata record at the given version.
func (e *Entity) EncryptMetadata(version int64, plaintext []byte) ([]byte, error) {
	return crypto.SealWith(e.dek, plaintext, e.aad("metadata", version))
}

// EncryptRecord seals a message record.
func (e *Entity) EncryptRecord(plaintext []byte) ([]byte, error) {
	return crypto.SealWith(e.dek, plaintext, e.aad("message", 0))
}

// DecryptMessages opens a batch of message records. The result is positional:
// a failed record yields nil at its index instead of aborting the batch.
func (e *Entity) DecryptMessages(batch [][]byte) [][]byte {
	out := make([][]byte, len(batch))
	for i, ct := range batch {
		pt, err := crypto.OpenWith(e.dek, ct, e.aad("message", 0))
		if err != nil {
			continue
		}
		out[i] = pt
	}
	return out
}

func (e *Entity) destroy() {
	crypto.Zero(e.dek)
	e.dek = nil
}
