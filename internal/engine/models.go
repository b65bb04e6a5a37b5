package engine

import "encoding/json"

// Decrypted snapshots. Each is derived from the latest successfully opened
// server payload; a record that failed to decrypt keeps its shell with
// Undecryptable set instead of vanishing from the collection.

type Session struct {
	ID            string
	Seq           int64
	Active        bool
	UpdatedAt     int64
	Metadata      json.RawMessage
	AgentState    json.RawMessage
	Undecryptable bool
}

type Machine struct {
	ID            string
	Active        bool
	Metadata      json.RawMessage
	Undecryptable bool
}

type Artifact struct {
	ID            string
	UpdatedAt     int64
	Header        json.RawMessage
	Body          json.RawMessage
	Undecryptable bool
}

type Profile struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
	Avatar    string
	Timestamp int64
}

type Settings struct {
	Data    json.RawMessage
	Version int64
}

type Friend struct {
	ID       string
	Username string
	Status   string
}

type FeedItem struct {
	ID            string
	Counter       int64
	CreatedAt     int64
	Body          json.RawMessage
	Undecryptable bool
}

type Purchases struct {
	Entitlements []string
	Active       bool
}

type NativeUpdate struct {
	Available bool
	Version   string
	URL       string
}

type Todo struct {
	Key     string
	Version int64
	Body    json.RawMessage
}

// MessageEntry is one conversation entry. Pending entries are optimistic
// local sends; the server-confirmed entry for the same logical message is
// matched by LocalID, never by position.
type MessageEntry struct {
	ID        string // server id, empty while pending
	LocalID   string
	SessionID string
	Seq       int64
	CreatedAt int64
	Body      json.RawMessage
	Pending   bool
}
