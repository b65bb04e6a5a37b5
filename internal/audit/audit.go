// Package audit keeps a hash-chained log of security-relevant events:
// device linked, linking approved or rejected, account secret restored,
// session key removed. Each entry's hash covers the previous hash, so a
// truncated or edited log fails Verify.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/denysvitali/happy-flutter-sub000/internal/store"
)

var ErrChainBroken = errors.New("audit: chain broken")

// Event names recorded by the rest of the client.
const (
	EventDeviceLinked    = "device-linked"
	EventLinkApproved    = "link-approved"
	EventLinkRejected    = "link-rejected"
	EventSecretRestored  = "secret-restored"
	EventSessionRemoved  = "session-removed"
	EventCredentialsGone = "credentials-cleared"
)

type Entry struct {
	Seq  uint64 `json:"seq"`
	TS   int64  `json:"ts"`
	What string `json:"what"`
	Hash string `json:"hash"`
}

type Log struct {
	mu       sync.Mutex
	local    store.Local // optional
	lastHash []byte
	nextSeq  uint64
	entries  []Entry
}

// New opens the log, replaying any entries persisted in the local store so
// the chain continues across launches.
func New(local store.Local) (*Log, error) {
	l := &Log{local: local}
	if local == nil {
		return l, nil
	}
	err := local.Scan("audit/", func(key string, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("audit: corrupt entry %s: %w", key, err)
		}
		l.entries = append(l.entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		h, err := hex.DecodeString(last.Hash)
		if err != nil {
			return nil, fmt.Errorf("audit: corrupt hash in entry %d: %w", last.Seq, err)
		}
		l.lastHash = h
		l.nextSeq = last.Seq + 1
	}
	return l, nil
}

// entryDigest chains over every field of the entry, so editing the sequence
// number or timestamp breaks Verify just like editing the event name.
func entryDigest(prev []byte, seq uint64, ts int64, what string) []byte {
	h := sha256.New()
	h.Write(prev)
	fmt.Fprintf(h, "%d\n%d\n%s", seq, ts, what)
	return h.Sum(nil)
}

// Append records one event and persists it.
func (l *Log) Append(what string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.nextSeq
	ts := time.Now().Unix()
	sum := entryDigest(l.lastHash, seq, ts, what)

	e := Entry{
		Seq:  seq,
		TS:   ts,
		What: what,
		Hash: hex.EncodeToString(sum),
	}
	if l.local != nil {
		raw, err := json.Marshal(e)
		if err != nil {
			return Entry{}, err
		}
		if err := l.local.Put(fmt.Sprintf("audit/%016d", e.Seq), raw); err != nil {
			return Entry{}, err
		}
	}
	l.lastHash = sum
	l.nextSeq++
	l.entries = append(l.entries, e)
	return e, nil
}

// Verify recomputes the chain from the first entry.
func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var prev []byte
	for _, e := range l.entries {
		sum := entryDigest(prev, e.Seq, e.TS, e.What)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("%w at seq %d", ErrChainBroken, e.Seq)
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
