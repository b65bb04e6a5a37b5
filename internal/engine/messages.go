package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/denysvitali/happy-flutter-sub000/internal/enc"
	"github.com/denysvitali/happy-flutter-sub000/internal/syncx"
)

var (
	ErrSessionNotReady = errors.New("engine: session not ready")
	ErrNoPushChannel   = errors.New("engine: push channel not connected")
)

// WatchSession creates (or returns) the message controller for an actively
// viewed conversation and kicks its first fetch.
func (e *Engine) WatchSession(sessionID string) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	c, ok := e.msgCtls[sessionID]
	if !ok {
		sid := sessionID
		c = syncx.NewController("messages:"+sid, func(ctx context.Context) error {
			return e.fetchMessagesFor(ctx, sid)
		}, e.logger)
		e.msgCtls[sessionID] = c
		if _, seen := e.received[sessionID]; !seen {
			e.received[sessionID] = map[string]struct{}{}
		}
	}
	e.mu.Unlock()
	c.Invalidate()
}

func (e *Engine) messageController(sessionID string) *syncx.Controller {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.msgCtls[sessionID]
}

func (e *Engine) fetchMessagesFor(ctx context.Context, sessionID string) error {
	raw, err := e.cfg.API.SessionMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	ectx := e.cfg.Enc.Entity(enc.KindSession, sessionID)
	if ectx == nil {
		// key not established yet; content stays pending
		return nil
	}

	batch := make([][]byte, len(raw))
	for i, m := range raw {
		batch[i] = m.Content
	}
	opened := ectx.DecryptMessages(batch)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return nil
	}
	// the session may have been deleted while this fetch was in flight;
	// writing anyway would leave an orphaned cache behind
	if _, live := e.msgCtls[sessionID]; !live {
		return nil
	}
	seen := e.received[sessionID]
	if seen == nil {
		seen = map[string]struct{}{}
		e.received[sessionID] = seen
	}
	entries := e.messages[sessionID]

	for i, m := range raw {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if opened[i] == nil {
			e.logger.Warn("engine: message failed to decrypt",
				zap.String("session", sessionID), zap.String("message", m.ID))
			continue
		}
		seen[m.ID] = struct{}{}

		// a confirmed entry replaces its optimistic twin by client id
		if m.LocalID != "" {
			replaced := false
			for j := range entries {
				if entries[j].Pending && entries[j].LocalID == m.LocalID {
					entries[j] = MessageEntry{
						ID: m.ID, LocalID: m.LocalID, SessionID: sessionID,
						Seq: m.Seq, CreatedAt: m.Created,
						Body: json.RawMessage(opened[i]),
					}
					replaced = true
					break
				}
			}
			if replaced {
				continue
			}
		}
		entries = append(entries, MessageEntry{
			ID: m.ID, LocalID: m.LocalID, SessionID: sessionID,
			Seq: m.Seq, CreatedAt: m.Created,
			Body: json.RawMessage(opened[i]),
		})
	}
	e.messages[sessionID] = entries
	return nil
}

// SendMessage encrypts a structured text record under the session's context,
// appends an optimistic pending entry visible to the UI immediately, waits
// (bounded) for the session to be ready, then transmits over the push
// channel. The pending entry and the later confirmed entry reconcile by the
// client-generated local id.
func (e *Engine) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	ectx := e.cfg.Enc.Entity(enc.KindSession, sessionID)
	if ectx == nil {
		return "", ErrSessionNotReady
	}
	localID := newLocalID()
	record, err := json.Marshal(map[string]any{
		"role": "user",
		"text": text,
		"time": time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	sealed, err := ectx.EncryptRecord(record)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return "", ErrShutdown
	}
	e.messages[sessionID] = append(e.messages[sessionID], MessageEntry{
		LocalID:   localID,
		SessionID: sessionID,
		CreatedAt: time.Now().UnixMilli(),
		Body:      json.RawMessage(record),
		Pending:   true,
	})
	e.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	if err := e.waitSessionReady(waitCtx, sessionID); err != nil {
		return localID, fmt.Errorf("engine: session %s not ready: %w", sessionID, err)
	}
	if err := e.sendLimit.Wait(waitCtx); err != nil {
		return localID, err
	}

	if e.sock == nil {
		return localID, ErrNoPushChannel
	}
	err = e.sock.send(waitCtx, outboundMessage{
		Kind:      "message",
		SessionID: sessionID,
		LocalID:   localID,
		Content:   sealed,
	})
	return localID, err
}

// waitSessionReady blocks until the session appears active in the snapshot.
func (e *Engine) waitSessionReady(ctx context.Context, sessionID string) error {
	for {
		e.mu.RLock()
		s := e.sessions[sessionID]
		ready := s != nil && s.Active
		e.mu.RUnlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.shutdownCh:
			return ErrShutdown
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// DeleteSession removes every trace of a session in one step: its message
// controller, dedupe set, message cache, decrypted record, cached DEK and
// encryption context. The session list is invalidated exactly once.
func (e *Engine) DeleteSession(sessionID string) {
	e.mu.Lock()
	ctl := e.msgCtls[sessionID]
	delete(e.msgCtls, sessionID)
	delete(e.received, sessionID)
	delete(e.messages, sessionID)
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	if ctl != nil {
		ctl.Dispose()
	}
	e.cfg.Enc.RemoveEntity(enc.KindSession, sessionID)
	e.controllers[resSessions].Invalidate()
}

func newLocalID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
