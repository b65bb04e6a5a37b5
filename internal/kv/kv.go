// Package kv is the client side of the versioned key-value protocol:
// optimistic-concurrency mutations over encrypted values. The server is the
// sole arbiter of version numbers; this client only carries the caller's
// expectations and reports conflicts with enough detail to retry.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/denysvitali/happy-flutter-sub000/internal/api"
	"github.com/denysvitali/happy-flutter-sub000/internal/enc"
)

// MaxBatch is the hard cap on bulk reads and mutation batches, enforced
// before any network call.
const MaxBatch = 100

// VersionCreate is the expected version meaning "create, must not exist".
const VersionCreate int64 = -1

var ErrBatchTooLarge = fmt.Errorf("kv: batch exceeds %d entries", MaxBatch)

// Record is the decrypted view of one key. Value is nil when the key holds
// no value or the stored ciphertext failed authentication.
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

// Conflict describes one key that failed its version check.
type Conflict struct {
	Key            string
	CurrentVersion int64
	Reason         string
}

// ConflictError reports a rejected mutation batch. No mutation in the batch
// may be assumed applied; re-read and retry with fresh versions.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	keys := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		keys[i] = fmt.Sprintf("%s@%d", c.Key, c.CurrentVersion)
	}
	return "kv: version conflict on " + strings.Join(keys, ", ")
}

// Mutation is one entry of a Mutate batch. A nil Value deletes the key.
type Mutation struct {
	Key             string
	Value           []byte
	ExpectedVersion int64
}

type Client struct {
	api    *api.Client
	enc    *enc.Manager
	logger *zap.Logger
}

func New(apiClient *api.Client, manager *enc.Manager, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: apiClient, enc: manager, logger: logger}
}

// Get fetches one record. An absent key yields (nil, nil).
func (c *Client) Get(ctx context.Context, key string) (*Record, error) {
	rec, err := c.api.KVGet(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return c.decode(*rec), nil
}

// List fetches records under a prefix. limit <= 0 means server default.
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]Record, error) {
	raw, err := c.api.KVList(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(raw), nil
}

// BulkGet fetches up to MaxBatch keys in one call.
func (c *Client) BulkGet(ctx context.Context, keys []string) ([]Record, error) {
	if len(keys) > MaxBatch {
		return nil, ErrBatchTooLarge
	}
	raw, err := c.api.KVBulkGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(raw), nil
}

// Mutate applies up to MaxBatch optimistic-concurrency mutations atomically.
// On success the returned map holds the new version per key. On any version
// mismatch a *ConflictError is returned and nothing may be assumed applied.
func (c *Client) Mutate(ctx context.Context, muts []Mutation) (map[string]int64, error) {
	if len(muts) > MaxBatch {
		return nil, ErrBatchTooLarge
	}
	wire := make([]api.KVMutation, len(muts))
	for i, m := range muts {
		var value []byte
		if m.Value != nil {
			sealed, err := c.enc.EncryptRaw(m.Value)
			if err != nil {
				return nil, err
			}
			value = sealed
		}
		wire[i] = api.KVMutation{Key: m.Key, Value: value, Version: m.ExpectedVersion}
	}

	res, err := c.api.KVMutate(ctx, wire)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		conflict := &ConflictError{}
		for _, r := range res.Results {
			if r.Error != "" {
				conflict.Conflicts = append(conflict.Conflicts, Conflict{
					Key:            r.Key,
					CurrentVersion: r.Version,
					Reason:         r.Error,
				})
			}
		}
		return nil, conflict
	}
	versions := make(map[string]int64, len(res.Results))
	for _, r := range res.Results {
		versions[r.Key] = r.Version
	}
	return versions, nil
}

// Set writes one key. version -1 creates; otherwise it is the expected
// current version. A mismatch surfaces as *ConflictError carrying the
// authoritative version.
func (c *Client) Set(ctx context.Context, key string, value []byte, version int64) (int64, error) {
	versions, err := c.Mutate(ctx, []Mutation{{Key: key, Value: value, ExpectedVersion: version}})
	if err != nil {
		return 0, err
	}
	return versions[key], nil
}

// Delete removes one key at the expected version.
func (c *Client) Delete(ctx context.Context, key string, version int64) error {
	_, err := c.Mutate(ctx, []Mutation{{Key: key, Value: nil, ExpectedVersion: version}})
	return err
}

// CurrentVersion extracts the authoritative version for key from a conflict
// error, for re-deriving intent without a separate re-fetch.
func CurrentVersion(err error, key string) (int64, bool) {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return 0, false
	}
	for _, c := range ce.Conflicts {
		if c.Key == key {
			return c.CurrentVersion, true
		}
	}
	return 0, false
}

func (c *Client) decode(rec api.KVRecord) *Record {
	out := &Record{Key: rec.Key, Version: rec.Version}
	if rec.Value != nil {
		out.Value = c.enc.DecryptRaw(rec.Value)
		if out.Value == nil {
			c.logger.Warn("kv: value failed authentication, treating as absent",
				zap.String("key", rec.Key))
		}
	}
	return out
}

func (c *Client) decodeAll(raw []api.KVRecord) []Record {
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		out = append(out, *c.decode(r))
	}
	return out
}
