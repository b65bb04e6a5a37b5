package enc

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/denysvitali/happy-flutter-sub000/internal/crypto"
	"github.com/denysvitali/happy-flutter-sub000/internal/store"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

func newLiveManager(t *testing.T) (*Manager, []byte) {
	t.Helper()
	m := NewManager(store.NewMemory(), zap.NewNop())
	secret := testSecret(t)
	if err := m.Initialize(secret); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m, secret
}

func TestDoubleInitialize(t *testing.T) {
	m, secret := newLiveManager(t)
	if err := m.Initialize(secret); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("got %v, want ErrAlreadyInitialized", err)
	}
	m.Teardown()
	if err := m.Initialize(secret); err != nil {
		t.Fatalf("re-initialize after teardown: %v", err)
	}
}

func TestInitializeEntitiesMixedBatch(t *testing.T) {
	m, secret := newLiveManager(t)

	dek, _ := crypto.NewDEK()
	good, err := crypto.WrapKey(dek, secret)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF

	err = m.InitializeEntities(KindSession, map[string][]byte{
		"s-good":    good,
		"s-bad":     bad,
		"s-pending": nil,
	})
	if err != nil {
		t.Fatalf("initialize entities: %v", err)
	}

	if m.Entity(KindSession, "s-good") == nil {
		t.Fatal("good entity has no context")
	}
	if m.Entity(KindSession, "s-bad") != nil {
		t.Fatal("undecryptable entity produced a context")
	}
	if m.Entity(KindSession, "s-pending") != nil {
		t.Fatal("pending entity produced a context")
	}
	if m.Entity(KindSession, "s-unknown") != nil {
		t.Fatal("never-registered entity produced a context")
	}
}

func TestEntityRecordRoundTrip(t *testing.T) {
	m, secret := newLiveManager(t)
	dek, _ := crypto.NewDEK()
	wrapped, _ := crypto.WrapKey(dek, secret)
	if err := m.InitializeEntities(KindSession, map[string][]byte{"s1": wrapped}); err != nil {
		t.Fatalf("initialize entities: %v", err)
	}
	e := m.Entity(KindSession, "s1")

	meta, err := e.EncryptMetadata(3, []byte(`{"name":"laptop"}`))
	if err != nil {
		t.Fatalf("encrypt metadata: %v", err)
	}
	pt, err := e.DecryptMetadata(3, meta)
	if err != nil {
		t.Fatalf("decrypt metadata: %v", err)
	}
	if !bytes.Equal(pt, []byte(`{"name":"laptop"}`)) {
		t.Fatal("metadata mismatch")
	}
	// version is bound through AAD
	if _, err := e.DecryptMetadata(4, meta); err == nil {
		t.Fatal("metadata decrypted under wrong version")
	}
}

func TestDecryptStateNilCiphertext(t *testing.T) {
	m, secret := newLiveManager(t)
	dek, _ := crypto.NewDEK()
	wrapped, _ := crypto.WrapKey(dek, secret)
	_ = m.InitializeEntities(KindMachine, map[string][]byte{"m1": wrapped})
	pt, err := m.Entity(KindMachine, "m1").DecryptState(1, nil)
	if err != nil || pt != nil {
		t.Fatalf("nil state: pt=%v err=%v", pt, err)
	}
}

func TestDecryptMessagesSkipsBadRecords(t *testing.T) {
	m, secret := newLiveManager(t)
	dek, _ := crypto.NewDEK()
	wrapped, _ := crypto.WrapKey(dek, secret)
	_ = m.InitializeEntities(KindSession, map[string][]byte{"s1": wrapped})
	e := m.Entity(KindSession, "s1")

	m1, _ := e.EncryptRecord([]byte("one"))
	m2, _ := e.EncryptRecord([]byte("two"))
	corrupt := append([]byte(nil), m2...)
	corrupt[10] ^= 0xFF

	out := e.DecryptMessages([][]byte{m1, corrupt, m2})
	if !bytes.Equal(out[0], []byte("one")) || out[1] != nil || !bytes.Equal(out[2], []byte("two")) {
		t.Fatalf("unexpected batch result: %q", out)
	}
}

func TestEncryptDecryptRaw(t *testing.T) {
	m, _ := newLiveManager(t)
	ct, err := m.EncryptRaw([]byte(`{"locale":"en"}`))
	if err != nil {
		t.Fatalf("encrypt raw: %v", err)
	}
	if pt := m.DecryptRaw(ct); !bytes.Equal(pt, []byte(`{"locale":"en"}`)) {
		t.Fatalf("raw round trip: %q", pt)
	}
	ct[5] ^= 0xFF
	if pt := m.DecryptRaw(ct); pt != nil {
		t.Fatalf("tampered raw decrypted to %q", pt)
	}
}

func TestRemoveEntityForgetsKey(t *testing.T) {
	m, secret := newLiveManager(t)
	local := store.NewMemory()
	m.local = local
	dek, _ := crypto.NewDEK()
	wrapped, _ := crypto.WrapKey(dek, secret)
	_ = m.InitializeEntities(KindSession, map[string][]byte{"s1": wrapped})
	if _, err := local.Get("dek/session/s1"); err != nil {
		t.Fatalf("wrapped key not persisted: %v", err)
	}

	m.RemoveEntity(KindSession, "s1")
	if m.Entity(KindSession, "s1") != nil {
		t.Fatal("entity context survived removal")
	}
	if _, err := local.Get("dek/session/s1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("persisted wrapped key survived removal")
	}
}

func TestCreateEntityKey(t *testing.T) {
	m, secret := newLiveManager(t)
	wrapped, err := m.CreateEntityKey(KindSession, "s-new")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := crypto.UnwrapKey(wrapped, secret); !ok {
		t.Fatal("returned wrapped key not unwrappable under account secret")
	}
	if m.Entity(KindSession, "s-new") == nil {
		t.Fatal("no context for locally created entity")
	}
}

func TestTeardownDisablesRaw(t *testing.T) {
	m, _ := newLiveManager(t)
	ct, _ := m.EncryptRaw([]byte("x"))
	m.Teardown()
	if m.DecryptRaw(ct) != nil {
		t.Fatal("DecryptRaw usable after teardown")
	}
	if _, err := m.EncryptRaw([]byte("x")); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
}
