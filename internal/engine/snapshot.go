package engine

// Read-only snapshot accessors. Every accessor copies under the read lock;
// callers never see a map or slice that a fetch can mutate underneath them.

func (e *Engine) Sessions() []Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, *s)
	}
	return out
}

func (e *Engine) Session(id string) (Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (e *Engine) Machines() []Machine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Machine, 0, len(e.machines))
	for _, m := range e.machines {
		out = append(out, *m)
	}
	return out
}

func (e *Engine) Artifacts() []Artifact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Artifact, 0, len(e.artifacts))
	for _, a := range e.artifacts {
		out = append(out, *a)
	}
	return out
}

func (e *Engine) Profile() Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

func (e *Engine) Purchases() Purchases {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.purchases
}

func (e *Engine) NativeUpdate() NativeUpdate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nativeUpd
}

func (e *Engine) Friends() []Friend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Friend(nil), e.friends...)
}

func (e *Engine) FriendRequests() []Friend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Friend(nil), e.requests...)
}

func (e *Engine) Feed() []FeedItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]FeedItem(nil), e.feed...)
}

func (e *Engine) Todos() []Todo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Todo(nil), e.todos...)
}

func (e *Engine) Messages(sessionID string) []MessageEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]MessageEntry(nil), e.messages[sessionID]...)
}
