package linking

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/denysvitali/happy-flutter-sub000/internal/api"
	"github.com/denysvitali/happy-flutter-sub000/internal/creds"
	"github.com/denysvitali/happy-flutter-sub000/internal/qr"
	"github.com/denysvitali/happy-flutter-sub000/internal/store"
)

// linkServer is a minimal in-memory linking authority.
type linkServer struct {
	mu       sync.Mutex
	requests map[string]*api.LinkStatus // keyed by base64url(publicKey)
}

func newLinkServer() *linkServer {
	return &linkServer{requests: map[string]*api.LinkStatus{}}
}

func (s *linkServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/link/request", func(w http.ResponseWriter, r *http.Request) {
		var req api.LinkRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.requests[base64.RawURLEncoding.EncodeToString(req.PublicKey)] = &api.LinkStatus{State: api.LinkStatePending}
		s.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/v1/link/wait", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		st := s.requests[r.URL.Query().Get("publicKey")]
		s.mu.Unlock()
		if st == nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(st)
	})
	mux.HandleFunc("/v1/link/response", func(w http.ResponseWriter, r *http.Request) {
		var resp api.LinkResponse
		_ = json.NewDecoder(r.Body).Decode(&resp)
		s.mu.Lock()
		key := base64.RawURLEncoding.EncodeToString(resp.PublicKey)
		if st, ok := s.requests[key]; ok && resp.Accept {
			st.State = api.LinkStateAuthorized
			st.Token = "tok-linked"
			st.Response = resp.Response
			st.SenderKey = resp.SenderKey
		}
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]bool{"accepted": true})
	})
	return mux
}

func fastPolicy() api.RetryPolicy {
	return api.RetryPolicy{Interval: 5 * time.Millisecond, MaxDuration: 2 * time.Second}
}

func TestHappyPath(t *testing.T) {
	authority := newLinkServer()
	srv := httptest.NewServer(authority.handler())
	defer srv.Close()

	clientA, err := api.New(api.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	credStore := creds.NewStore(store.NewMemory())
	linker, err := New(Config{API: clientA, Creds: credStore, Policy: fastPolicy()})
	if err != nil {
		t.Fatalf("new linker: %v", err)
	}

	payload, err := linker.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if linker.State() != AwaitingApproval {
		t.Fatalf("state = %v", linker.State())
	}
	parsed, err := qr.Parse(payload)
	if err != nil {
		t.Fatalf("qr parse: %v", err)
	}

	// device B, already authenticated, approves
	secretB := make([]byte, 32)
	if _, err := rand.Read(secretB); err != nil {
		t.Fatalf("rand: %v", err)
	}
	clientB, _ := api.New(api.Config{BaseURL: srv.URL, Token: "tok-b"})
	ok, err := Approve(context.Background(), clientB, secretB, parsed.PublicKey)
	if err != nil || !ok {
		t.Fatalf("approve: ok=%v err=%v", ok, err)
	}

	got, err := linker.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got.Token != "tok-linked" {
		t.Fatalf("token = %q", got.Token)
	}
	if !bytes.Equal(got.Secret, secretB) {
		t.Fatal("decrypted secret differs from approver's account secret")
	}
	if linker.State() != Approved {
		t.Fatalf("state = %v", linker.State())
	}

	saved, err := credStore.Load()
	if err != nil {
		t.Fatalf("load saved creds: %v", err)
	}
	if !bytes.Equal(saved.Secret, secretB) {
		t.Fatal("persisted secret mismatch")
	}
}

// brokenLocal fails every write; reads behave like an empty store.
type brokenLocal struct{}

func (brokenLocal) Put(string, []byte) error                      { return errors.New("disk full") }
func (brokenLocal) Get(string) ([]byte, error)                    { return nil, store.ErrNotFound }
func (brokenLocal) Delete(string) error                           { return errors.New("disk full") }
func (brokenLocal) DeletePrefix(string) error                     { return errors.New("disk full") }
func (brokenLocal) Scan(string, func(string, []byte) error) error { return nil }
func (brokenLocal) Close() error                                  { return nil }

func TestPollSaveFailureConsumesAttempt(t *testing.T) {
	authority := newLinkServer()
	srv := httptest.NewServer(authority.handler())
	defer srv.Close()

	clientA, _ := api.New(api.Config{BaseURL: srv.URL})
	linker, err := New(Config{API: clientA, Creds: creds.NewStore(brokenLocal{}), Policy: fastPolicy()})
	if err != nil {
		t.Fatalf("new linker: %v", err)
	}
	payload, err := linker.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	parsed, err := qr.Parse(payload)
	if err != nil {
		t.Fatalf("qr parse: %v", err)
	}

	secretB := make([]byte, 32)
	if _, err := rand.Read(secretB); err != nil {
		t.Fatalf("rand: %v", err)
	}
	clientB, _ := api.New(api.Config{BaseURL: srv.URL, Token: "tok-b"})
	if ok, err := Approve(context.Background(), clientB, secretB, parsed.PublicKey); err != nil || !ok {
		t.Fatalf("approve: ok=%v err=%v", ok, err)
	}

	if _, err := linker.Poll(context.Background()); err == nil {
		t.Fatal("expected persistence failure to surface")
	}
	// the attempt is spent: identity destroyed, state back to idle, and a
	// second poll cannot ride the dead keypair
	if linker.State() != Idle {
		t.Fatalf("state = %v, want idle", linker.State())
	}
	if _, err := linker.Poll(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("second poll: %v, want ErrNotStarted", err)
	}
}

func TestPollForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/link/wait" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, _ := api.New(api.Config{BaseURL: srv.URL})
	linker, _ := New(Config{API: client, Policy: fastPolicy()})
	if _, err := linker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := linker.Poll(context.Background())
	if !errors.Is(err, ErrLinkingForbidden) {
		t.Fatalf("got %v, want ErrLinkingForbidden", err)
	}
	if linker.State() != Rejected {
		t.Fatalf("state = %v", linker.State())
	}
}

func TestPollExpires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.LinkStatus{State: api.LinkStatePending})
	}))
	defer srv.Close()

	client, _ := api.New(api.Config{BaseURL: srv.URL})
	linker, _ := New(Config{API: client, Policy: api.RetryPolicy{
		Interval:    2 * time.Millisecond,
		MaxDuration: 30 * time.Millisecond,
	}})
	if _, err := linker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := linker.Poll(context.Background())
	if !errors.Is(err, ErrLinkingExpired) {
		t.Fatalf("got %v, want ErrLinkingExpired", err)
	}
	if linker.State() != Expired {
		t.Fatalf("state = %v", linker.State())
	}
}

func TestPollContinuesThroughClientErrors(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/link/wait" {
			w.Write([]byte(`{}`))
			return
		}
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			http.Error(w, "malformed request", http.StatusBadRequest)
		case 2:
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		default:
			_ = json.NewEncoder(w).Encode(api.LinkStatus{State: api.LinkStateRejected})
		}
	}))
	defer srv.Close()

	var surfaced []error
	client, _ := api.New(api.Config{BaseURL: srv.URL})
	linker, _ := New(Config{
		API:     client,
		Policy:  fastPolicy(),
		OnError: func(err error) { surfaced = append(surfaced, err) },
	})
	if _, err := linker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := linker.Poll(context.Background())
	if !errors.Is(err, ErrLinkingForbidden) {
		t.Fatalf("got %v, want ErrLinkingForbidden", err)
	}
	if len(surfaced) != 2 {
		t.Fatalf("surfaced %d errors, want 2 (4xx then 5xx)", len(surfaced))
	}
}

func TestPollWithoutStart(t *testing.T) {
	client, _ := api.New(api.Config{BaseURL: "http://localhost:0"})
	linker, _ := New(Config{API: client, Policy: fastPolicy()})
	if _, err := linker.Poll(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("got %v, want ErrNotStarted", err)
	}
}
