package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/denysvitali/happy-flutter-sub000/internal/api"
	"github.com/denysvitali/happy-flutter-sub000/internal/enc"
)

// Fetch routines. Each pulls one resource, decrypts every record
// independently, and swaps the snapshot in one assignment. A record that
// fails to decrypt is kept as an undecryptable shell with a logged warning;
// it never aborts the rest of the fetch. Errors returned here are absorbed
// by the controller, so a failed fetch leaves the previous snapshot intact.

func (e *Engine) fetchSessions(ctx context.Context) error {
	raw, err := e.cfg.API.Sessions(ctx)
	if err != nil {
		return err
	}

	wrapped := make(map[string][]byte, len(raw))
	for _, s := range raw {
		wrapped[s.ID] = s.DataKey
	}
	if err := e.cfg.Enc.InitializeEntities(enc.KindSession, wrapped); err != nil {
		return err
	}

	next := make(map[string]*Session, len(raw))
	for _, s := range raw {
		snap := &Session{ID: s.ID, Seq: s.Seq, Active: s.Active, UpdatedAt: s.UpdatedAt}
		ectx := e.cfg.Enc.Entity(enc.KindSession, s.ID)
		if ectx == nil {
			snap.Undecryptable = s.DataKey != nil
			next[s.ID] = snap
			continue
		}
		if meta, err := ectx.DecryptMetadata(s.MetadataVersion, s.Metadata); err == nil {
			snap.Metadata = json.RawMessage(meta)
		} else {
			e.logger.Warn("engine: session metadata failed to decrypt",
				zap.String("session", s.ID), zap.Error(err))
			snap.Undecryptable = true
		}
		if state, err := ectx.DecryptState(s.AgentStateVer, s.AgentState); err == nil {
			snap.AgentState = json.RawMessage(state)
		} else {
			e.logger.Warn("engine: session state failed to decrypt",
				zap.String("session", s.ID), zap.Error(err))
		}
		next[s.ID] = snap
	}

	e.install(func() { e.sessions = next })
	return nil
}

func (e *Engine) fetchMachines(ctx context.Context) error {
	raw, err := e.cfg.API.Machines(ctx)
	if err != nil {
		return err
	}
	wrapped := make(map[string][]byte, len(raw))
	for _, m := range raw {
		wrapped[m.ID] = m.DataKey
	}
	if err := e.cfg.Enc.InitializeEntities(enc.KindMachine, wrapped); err != nil {
		return err
	}

	next := make(map[string]*Machine, len(raw))
	for _, m := range raw {
		snap := &Machine{ID: m.ID, Active: m.Active}
		if ectx := e.cfg.Enc.Entity(enc.KindMachine, m.ID); ectx != nil {
			if meta, err := ectx.DecryptMetadata(m.MetadataVersion, m.Metadata); err == nil {
				snap.Metadata = json.RawMessage(meta)
			} else {
				e.logger.Warn("engine: machine metadata failed to decrypt",
					zap.String("machine", m.ID), zap.Error(err))
				snap.Undecryptable = true
			}
		} else {
			snap.Undecryptable = m.DataKey != nil
		}
		next[m.ID] = snap
	}

	e.install(func() { e.machines = next })
	return nil
}

func (e *Engine) fetchArtifacts(ctx context.Context) error {
	raw, err := e.cfg.API.Artifacts(ctx)
	if err != nil {
		return err
	}
	wrapped := make(map[string][]byte, len(raw))
	for _, a := range raw {
		wrapped[a.ID] = a.DataKey
	}
	if err := e.cfg.Enc.InitializeEntities(enc.KindArtifact, wrapped); err != nil {
		return err
	}

	next := make(map[string]*Artifact, len(raw))
	for _, a := range raw {
		snap := &Artifact{ID: a.ID, UpdatedAt: a.UpdatedAt}
		ectx := e.cfg.Enc.Entity(enc.KindArtifact, a.ID)
		if ectx == nil {
			snap.Undecryptable = a.DataKey != nil
			next[a.ID] = snap
			continue
		}
		if hdr, err := ectx.DecryptMetadata(a.HeaderVersion, a.Header); err == nil {
			snap.Header = json.RawMessage(hdr)
		} else {
			e.logger.Warn("engine: artifact header failed to decrypt",
				zap.String("artifact", a.ID), zap.Error(err))
			snap.Undecryptable = true
		}
		if body, err := ectx.DecryptState(a.BodyVersion, a.Body); err == nil {
			snap.Body = json.RawMessage(body)
		}
		next[a.ID] = snap
	}

	e.install(func() { e.artifacts = next })
	return nil
}

func (e *Engine) fetchProfile(ctx context.Context) error {
	p, err := e.cfg.API.Profile(ctx)
	if err != nil {
		return err
	}
	next := Profile{
		ID:        p.ID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Avatar:    p.Avatar,
		Timestamp: p.Timestamp,
	}
	e.install(func() { e.profile = next })
	return nil
}

func (e *Engine) fetchSettings(ctx context.Context) error {
	s, err := e.cfg.API.Settings(ctx)
	if err != nil {
		return err
	}
	var data json.RawMessage
	if s.Settings != nil {
		if pt := e.cfg.Enc.DecryptRaw(s.Settings); pt != nil {
			data = json.RawMessage(pt)
		} else {
			e.logger.Warn("engine: settings payload failed to decrypt")
		}
	}
	e.install(func() { e.settings = Settings{Data: data, Version: s.Version} })
	return nil
}

func (e *Engine) fetchPurchases(ctx context.Context) error {
	p, err := e.cfg.API.Purchases(ctx)
	if err != nil {
		return err
	}
	e.install(func() { e.purchases = Purchases{Entitlements: p.Entitlements, Active: p.Active} })
	return nil
}

func (e *Engine) fetchFriends(ctx context.Context) error {
	raw, err := e.cfg.API.Friends(ctx)
	if err != nil {
		return err
	}
	next := convertFriends(raw)
	e.install(func() { e.friends = next })
	return nil
}

func (e *Engine) fetchFriendRequests(ctx context.Context) error {
	raw, err := e.cfg.API.FriendRequests(ctx)
	if err != nil {
		return err
	}
	next := convertFriends(raw)
	e.install(func() { e.requests = next })
	return nil
}

func convertFriends(raw []api.Friend) []Friend {
	out := make([]Friend, len(raw))
	for i, f := range raw {
		out[i] = Friend{ID: f.ID, Username: f.Username, Status: f.Status}
	}
	return out
}

func (e *Engine) fetchFeed(ctx context.Context) error {
	raw, err := e.cfg.API.Feed(ctx)
	if err != nil {
		return err
	}
	next := make([]FeedItem, 0, len(raw))
	for _, it := range raw {
		item := FeedItem{ID: it.ID, Counter: it.Counter, CreatedAt: it.Created}
		if it.Body != nil {
			if pt := e.cfg.Enc.DecryptRaw(it.Body); pt != nil {
				item.Body = json.RawMessage(pt)
			} else {
				e.logger.Warn("engine: feed item failed to decrypt", zap.String("id", it.ID))
				item.Undecryptable = true
			}
		}
		next = append(next, item)
	}
	e.install(func() { e.feed = next })
	return nil
}

func (e *Engine) fetchTodos(ctx context.Context) error {
	if e.cfg.KV == nil {
		return nil
	}
	recs, err := e.cfg.KV.List(ctx, "todo/", 0)
	if err != nil {
		return err
	}
	next := make([]Todo, 0, len(recs))
	for _, r := range recs {
		if r.Value == nil {
			// tombstone or tampered value, already logged by the kv client
			continue
		}
		next = append(next, Todo{Key: r.Key, Version: r.Version, Body: json.RawMessage(r.Value)})
	}
	e.install(func() { e.todos = next })
	return nil
}

func (e *Engine) fetchPushToken(ctx context.Context) error {
	e.mu.RLock()
	token := e.pushToken
	e.mu.RUnlock()
	if token == "" {
		return nil
	}
	return e.cfg.API.RegisterPushToken(ctx, token)
}

func (e *Engine) fetchNativeUpdate(ctx context.Context) error {
	u, err := e.cfg.API.NativeUpdate(ctx)
	if err != nil {
		return err
	}
	e.install(func() { e.nativeUpd = NativeUpdate{Available: u.Available, Version: u.Version, URL: u.URL} })
	return nil
}
