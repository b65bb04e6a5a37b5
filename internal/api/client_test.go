package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func TestBearerHeaderSent(t *testing.T) {
	var got string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"sessions":[]}`))
	}))
	if _, err := c.Sessions(context.Background()); err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if got != "Bearer tok" {
		t.Fatalf("authorization header = %q", got)
	}
}

func TestStatusErrorCarriesBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such account", http.StatusBadRequest)
	}))
	_, err := c.Profile(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("got %T, want StatusError", err)
	}
	if se.Status != http.StatusBadRequest || se.Body != "no such account" {
		t.Fatalf("unexpected error: %+v", se)
	}
}

func TestAuthErrorClassification(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	err := c.VerifyToken(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("403 not classified as auth error: %v", err)
	}
	if IsTransient(err) {
		t.Fatal("auth error must not be transient")
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	err := c.VerifyToken(context.Background())
	if !IsServerError(err) || !IsTransient(err) {
		t.Fatalf("502 should be transient server error: %v", err)
	}
}

func TestTLSErrorClassification(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	// default transport does not trust the test server's certificate
	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = c.VerifyToken(context.Background())
	if err == nil {
		t.Fatal("expected certificate error")
	}
	if !IsTLSError(err) {
		t.Fatalf("certificate failure not classified as TLS error: %v", err)
	}
	if IsTransient(err) {
		t.Fatal("TLS failure must not be retryable")
	}
}

func TestKVGetAbsentKey(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	rec, err := c.KVGet(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("absent key yielded %+v", rec)
	}
}

func TestRetryPolicyDeadline(t *testing.T) {
	p := RetryPolicy{Interval: time.Millisecond, MaxDuration: 20 * time.Millisecond}
	calls := 0
	err := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("got %v, want ErrDeadline", err)
	}
	if calls < 2 {
		t.Fatalf("expected multiple attempts, got %d", calls)
	}
}

func TestRetryPolicyStopsOnNonTransient(t *testing.T) {
	p := RetryPolicy{Interval: time.Millisecond, MaxDuration: time.Second}
	calls := 0
	wantErr := &StatusError{Status: http.StatusForbidden}
	err := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return false, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-transient error retried %d times", calls)
	}
}
