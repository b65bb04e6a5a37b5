package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// socket maintains the push channel: a single websocket with automatic
// reconnect. Every reconnect triggers a full invalidation, since events
// missed while disconnected cannot be replayed.
type socket struct {
	url    string
	token  string
	eng    *Engine
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func newSocket(url, token string, e *Engine, logger *zap.Logger) *socket {
	return &socket{url: url, token: token, eng: e, logger: logger}
}

func (s *socket) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	go s.run(ctx)
}

func (s *socket) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *socket) run(ctx context.Context) {
	defer close(s.done)
	backoff := time.Second
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("socket: dial failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		if !first {
			s.logger.Info("socket: reconnected, refreshing all resources")
			s.eng.invalidateAll()
		}
		first = false

		s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (s *socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+s.token)
	conn, _, err := websocket.Dial(dctx, s.url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func (s *socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("socket: read failed", zap.Error(err))
			}
			return
		}
		s.eng.HandleEvent(data)
	}
}

// send transmits one outbound frame. Fails immediately when disconnected;
// the caller's optimistic entry reconciles after the next fetch regardless.
func (s *socket) send(ctx context.Context, msg outboundMessage) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoPushChannel
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
