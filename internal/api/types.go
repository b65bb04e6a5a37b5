package api

// Wire types. Byte fields are base64 in JSON; encrypted blobs stay opaque
// until the encryption manager opens them.

type LinkRequest struct {
	PublicKey []byte `json:"publicKey"`
	Kind      string `json:"kind"` // "account" or "device"
}

const (
	LinkStatePending    = "pending"
	LinkStateAuthorized = "authorized"
	LinkStateRejected   = "rejected"
)

type LinkStatus struct {
	State string `json:"state"`
	Token string `json:"token,omitempty"`
	// Response is BoxSeal(accountSecret) under the requester's public key.
	Response  []byte `json:"response,omitempty"`
	SenderKey []byte `json:"senderKey,omitempty"`
}

type LinkResponse struct {
	PublicKey []byte `json:"publicKey"`
	Response  []byte `json:"response"`
	SenderKey []byte `json:"senderKey"`
	Accept    bool   `json:"accept"`
}

type Session struct {
	ID              string `json:"id"`
	Seq             int64  `json:"seq"`
	Metadata        []byte `json:"metadata"`
	MetadataVersion int64  `json:"metadataVersion"`
	AgentState      []byte `json:"agentState"`
	AgentStateVer   int64  `json:"agentStateVersion"`
	DataKey         []byte `json:"dataEncryptionKey"`
	Active          bool   `json:"active"`
	UpdatedAt       int64  `json:"updatedAt"`
}

type Message struct {
	ID      string `json:"id"`
	Seq     int64  `json:"seq"`
	LocalID string `json:"localId,omitempty"`
	Content []byte `json:"content"`
	Created int64  `json:"createdAt"`
}

type Machine struct {
	ID              string `json:"id"`
	Metadata        []byte `json:"metadata"`
	MetadataVersion int64  `json:"metadataVersion"`
	DataKey         []byte `json:"dataEncryptionKey"`
	Active          bool   `json:"active"`
}

type Artifact struct {
	ID            string `json:"id"`
	Header        []byte `json:"header"`
	HeaderVersion int64  `json:"headerVersion"`
	Body          []byte `json:"body"`
	BodyVersion   int64  `json:"bodyVersion"`
	DataKey       []byte `json:"dataEncryptionKey"`
	UpdatedAt     int64  `json:"updatedAt"`
}

type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type Settings struct {
	Settings []byte `json:"settings"` // SealRaw envelope
	Version  int64  `json:"version"`
}

type Friend struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type FeedItem struct {
	ID      string `json:"id"`
	Counter int64  `json:"counter"`
	Body    []byte `json:"body"`
	Created int64  `json:"createdAt"`
}

type Purchases struct {
	Entitlements []string `json:"entitlements"`
	Active       bool     `json:"active"`
}

type NativeUpdate struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	URL       string `json:"url,omitempty"`
}

type KVRecord struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Version int64  `json:"version"`
}

type KVMutation struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"` // nil means delete
	Version int64  `json:"version"`         // expected; -1 means create
}

type KVMutateOutcome struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Error   string `json:"error,omitempty"` // "version-mismatch", ...
}

type KVMutateResult struct {
	Success bool              `json:"success"`
	Results []KVMutateOutcome `json:"results"`
}
