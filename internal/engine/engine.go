// Package engine keeps local state consistent with the server: one
// invalidate-sync controller per resource type, fed by push events, pulling
// through the REST API and decrypting through the encryption manager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/denysvitali/happy-flutter-sub000/internal/api"
	"github.com/denysvitali/happy-flutter-sub000/internal/creds"
	"github.com/denysvitali/happy-flutter-sub000/internal/enc"
	"github.com/denysvitali/happy-flutter-sub000/internal/kv"
	"github.com/denysvitali/happy-flutter-sub000/internal/syncx"
)

// Resource names, one controller each.
const (
	resSessions       = "sessions"
	resSettings       = "settings"
	resProfile        = "profile"
	resPurchases      = "purchases"
	resMachines       = "machines"
	resPushToken      = "push-token"
	resNativeUpdate   = "native-update"
	resArtifacts      = "artifacts"
	resFriends        = "friends"
	resFriendRequests = "friend-requests"
	resFeed           = "feed"
	resTodos          = "todos"
)

var ErrShutdown = errors.New("engine: shut down")

type Config struct {
	API   *api.Client
	Enc   *enc.Manager
	KV    *kv.Client
	Creds creds.Credentials

	// SocketURL is the push channel endpoint. Empty disables the socket;
	// events can still be injected with HandleEvent (tests, platforms with
	// their own transport).
	SocketURL string

	Logger      *zap.Logger
	SendTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
}

type Engine struct {
	cfg    Config
	logger *zap.Logger

	controllers map[string]*syncx.Controller

	mu         sync.RWMutex
	sessions   map[string]*Session
	machines   map[string]*Machine
	artifacts  map[string]*Artifact
	friends    []Friend
	requests   []Friend
	feed       []FeedItem
	todos      []Todo
	profile    Profile
	settings   Settings
	purchases  Purchases
	nativeUpd  NativeUpdate
	pushToken  string
	msgCtls    map[string]*syncx.Controller
	messages   map[string][]MessageEntry
	received   map[string]map[string]struct{} // session id -> seen server msg ids
	shutdown   bool
	sendLimit  *rate.Limiter
	sock       *socket
	shutdownCh chan struct{}
}

func New(cfg Config) (*Engine, error) {
	cfg.setDefaults()
	if cfg.API == nil || cfg.Enc == nil {
		return nil, errors.New("engine: API client and encryption manager required")
	}
	e := &Engine{
		cfg:        cfg,
		logger:     cfg.Logger,
		sessions:   map[string]*Session{},
		machines:   map[string]*Machine{},
		artifacts:  map[string]*Artifact{},
		msgCtls:    map[string]*syncx.Controller{},
		messages:   map[string][]MessageEntry{},
		received:   map[string]map[string]struct{}{},
		sendLimit:  rate.NewLimiter(rate.Limit(10), 20),
		shutdownCh: make(chan struct{}),
	}
	e.controllers = map[string]*syncx.Controller{
		resSessions:       syncx.NewController(resSessions, e.fetchSessions, cfg.Logger),
		resSettings:       syncx.NewController(resSettings, e.fetchSettings, cfg.Logger),
		resProfile:        syncx.NewController(resProfile, e.fetchProfile, cfg.Logger),
		resPurchases:      syncx.NewController(resPurchases, e.fetchPurchases, cfg.Logger),
		resMachines:       syncx.NewController(resMachines, e.fetchMachines, cfg.Logger),
		resPushToken:      syncx.NewController(resPushToken, e.fetchPushToken, cfg.Logger),
		resNativeUpdate:   syncx.NewController(resNativeUpdate, e.fetchNativeUpdate, cfg.Logger),
		resArtifacts:      syncx.NewController(resArtifacts, e.fetchArtifacts, cfg.Logger),
		resFriends:        syncx.NewController(resFriends, e.fetchFriends, cfg.Logger),
		resFriendRequests: syncx.NewController(resFriendRequests, e.fetchFriendRequests, cfg.Logger),
		resFeed:           syncx.NewController(resFeed, e.fetchFeed, cfg.Logger),
		resTodos:          syncx.NewController(resTodos, e.fetchTodos, cfg.Logger),
	}
	return e, nil
}

// Start connects the push channel, kicks every controller once, and blocks
// until the session and machine lists have completed their first fetch, so
// "ready" is a deterministic point rather than a race.
func (e *Engine) Start(ctx context.Context) error {
	if e.cfg.SocketURL != "" {
		e.sock = newSocket(e.cfg.SocketURL, e.cfg.Creds.Token, e, e.logger)
		e.sock.start()
	}
	e.invalidateAll()

	if err := e.controllers[resSessions].AwaitQueue(ctx); err != nil {
		return fmt.Errorf("engine: waiting for first session fetch: %w", err)
	}
	if err := e.controllers[resMachines].AwaitQueue(ctx); err != nil {
		return fmt.Errorf("engine: waiting for first machine fetch: %w", err)
	}
	return nil
}

// invalidateAll kicks every resource controller, including per-session
// message controllers. Used at startup and after a transport reconnect,
// since missed events cannot be replayed individually.
func (e *Engine) invalidateAll() {
	for _, c := range e.controllers {
		c.Invalidate()
	}
	e.mu.RLock()
	ctls := make([]*syncx.Controller, 0, len(e.msgCtls))
	for _, c := range e.msgCtls {
		ctls = append(ctls, c)
	}
	e.mu.RUnlock()
	for _, c := range ctls {
		c.Invalidate()
	}
}

// HandleEvent dispatches one inbound push event to the controllers it
// invalidates. Unknown event types are ignored.
func (e *Engine) HandleEvent(data []byte) {
	switch ev := parseEvent(data).(type) {
	case UpdateEvent:
		e.handleUpdate(ev)
	case EphemeralEvent:
		// high-frequency session-scoped signal: touches only the viewed
		// conversation, never the full session list
		if c := e.messageController(ev.SessionID); c != nil {
			c.Invalidate()
		}
	case UnknownEvent:
		e.logger.Debug("engine: ignoring unknown event", zap.String("kind", ev.Kind))
	}
}

func (e *Engine) handleUpdate(ev UpdateEvent) {
	switch ev.Type {
	case evNewMessage:
		if c := e.messageController(ev.SessionID); c != nil {
			c.Invalidate()
		}
		e.controllers[resSessions].Invalidate()
	case evUpdateSession:
		e.controllers[resSessions].Invalidate()
	case evDeleteSession:
		e.DeleteSession(ev.SessionID)
	case evUpdateMachine:
		e.controllers[resMachines].Invalidate()
	case evUpdateAccount:
		e.controllers[resProfile].Invalidate()
		e.controllers[resSettings].Invalidate()
	case evRelationshipUpdated:
		e.controllers[resFriends].Invalidate()
		e.controllers[resFriendRequests].Invalidate()
		e.controllers[resFeed].Invalidate()
	case evNewArtifact, evUpdateArtifact:
		e.controllers[resArtifacts].Invalidate()
	case evUpdateTodo:
		e.controllers[resTodos].Invalidate()
	case evUpdatePurchases:
		e.controllers[resPurchases].Invalidate()
	case evNativeUpdate:
		e.controllers[resNativeUpdate].Invalidate()
	default:
		e.logger.Debug("engine: ignoring unknown update type", zap.String("type", ev.Type))
	}
}

// SetPushToken stores the platform push token and schedules registration.
func (e *Engine) SetPushToken(token string) {
	e.mu.Lock()
	e.pushToken = token
	e.mu.Unlock()
	e.controllers[resPushToken].Invalidate()
}

// Refresh forces a refetch of one resource and waits for it.
func (e *Engine) Refresh(ctx context.Context, resource string) error {
	c, ok := e.controllers[resource]
	if !ok {
		return fmt.Errorf("engine: unknown resource %q", resource)
	}
	return c.InvalidateAndAwait(ctx)
}

// install applies a snapshot write unless the engine shut down while the
// fetch was in flight; a fetch completing after Shutdown must not resurrect
// cleared state.
func (e *Engine) install(apply func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return
	}
	apply()
}

// Shutdown disposes every controller before clearing in-memory state, so a
// completing fetch cannot resurrect cleared data.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	close(e.shutdownCh)
	msgCtls := e.msgCtls
	e.msgCtls = map[string]*syncx.Controller{}
	e.mu.Unlock()

	if e.sock != nil {
		e.sock.stop()
	}
	for _, c := range e.controllers {
		c.Dispose()
	}
	for _, c := range msgCtls {
		c.Dispose()
	}

	e.mu.Lock()
	e.sessions = map[string]*Session{}
	e.machines = map[string]*Machine{}
	e.artifacts = map[string]*Artifact{}
	e.messages = map[string][]MessageEntry{}
	e.received = map[string]map[string]struct{}{}
	e.friends, e.requests, e.feed, e.todos = nil, nil, nil, nil
	e.mu.Unlock()
}
