package api

import (
	"context"
	"encoding/base64"
	"net/url"
	"strconv"
)

func encodeKey(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Linking.

func (c *Client) LinkRegister(ctx context.Context, req LinkRequest) error {
	return c.post(ctx, "/v1/link/request", req, nil)
}

func (c *Client) LinkWait(ctx context.Context, publicKey []byte) (LinkStatus, error) {
	var out LinkStatus
	q := url.Values{"publicKey": {encodeKey(publicKey)}}
	err := c.get(ctx, "/v1/link/wait", q, &out)
	return out, err
}

func (c *Client) LinkRespond(ctx context.Context, resp LinkResponse) (bool, error) {
	var out struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.post(ctx, "/v1/link/response", resp, &out); err != nil {
		return false, err
	}
	return out.Accepted, nil
}

func (c *Client) VerifyToken(ctx context.Context) error {
	return c.get(ctx, "/v1/auth/verify", nil, nil)
}

// Resource listings.

func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	err := c.get(ctx, "/v1/sessions", nil, &out)
	return out.Sessions, err
}

func (c *Client) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.get(ctx, "/v1/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &out)
	return out.Messages, err
}

func (c *Client) Machines(ctx context.Context) ([]Machine, error) {
	var out struct {
		Machines []Machine `json:"machines"`
	}
	err := c.get(ctx, "/v1/machines", nil, &out)
	return out.Machines, err
}

func (c *Client) Artifacts(ctx context.Context) ([]Artifact, error) {
	var out struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	err := c.get(ctx, "/v1/artifacts", nil, &out)
	return out.Artifacts, err
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var out Profile
	err := c.get(ctx, "/v1/account/profile", nil, &out)
	return out, err
}

func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := c.get(ctx, "/v1/account/settings", nil, &out)
	return out, err
}

func (c *Client) Purchases(ctx context.Context) (Purchases, error) {
	var out Purchases
	err := c.get(ctx, "/v1/account/purchases", nil, &out)
	return out, err
}

func (c *Client) Friends(ctx context.Context) ([]Friend, error) {
	var out struct {
		Friends []Friend `json:"friends"`
	}
	err := c.get(ctx, "/v1/friends", nil, &out)
	return out.Friends, err
}

func (c *Client) FriendRequests(ctx context.Context) ([]Friend, error) {
	var out struct {
		Requests []Friend `json:"requests"`
	}
	err := c.get(ctx, "/v1/friends/requests", nil, &out)
	return out.Requests, err
}

func (c *Client) Feed(ctx context.Context) ([]FeedItem, error) {
	var out struct {
		Items []FeedItem `json:"items"`
	}
	err := c.get(ctx, "/v1/feed", nil, &out)
	return out.Items, err
}

func (c *Client) NativeUpdate(ctx context.Context) (NativeUpdate, error) {
	var out NativeUpdate
	err := c.get(ctx, "/v1/app/update", nil, &out)
	return out, err
}

func (c *Client) RegisterPushToken(ctx context.Context, token string) error {
	return c.post(ctx, "/v1/push/register", map[string]string{"token": token}, nil)
}

// Versioned key-value store.

func (c *Client) KVGet(ctx context.Context, key string) (*KVRecord, error) {
	var out KVRecord
	err := c.get(ctx, "/v1/kv/"+url.PathEscape(key), nil, &out)
	if se, ok := err.(*StatusError); ok && se.Status == 404 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) KVList(ctx context.Context, prefix string, limit int) ([]KVRecord, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Records []KVRecord `json:"records"`
	}
	err := c.get(ctx, "/v1/kv", q, &out)
	return out.Records, err
}

func (c *Client) KVBulkGet(ctx context.Context, keys []string) ([]KVRecord, error) {
	var out struct {
		Records []KVRecord `json:"records"`
	}
	err := c.post(ctx, "/v1/kv/bulk", map[string][]string{"keys": keys}, &out)
	return out.Records, err
}

func (c *Client) KVMutate(ctx context.Context, muts []KVMutation) (KVMutateResult, error) {
	var out KVMutateResult
	err := c.post(ctx, "/v1/kv/mutate", map[string][]KVMutation{"mutations": muts}, &out)
	return out, err
}
