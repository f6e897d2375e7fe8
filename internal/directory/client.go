// Package directory talks to the social directory service: the follower
// list that defines membership, and the notification feed that drives
// on-demand assignment.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrUpstream wraps any failed call to the directory service.
var ErrUpstream = errors.New("directory: upstream error")

const (
	followersPageSize = 100
	defaultPageDelay  = 100 * time.Millisecond
)

// Client is what the reconciliation engine and the poller need.
type Client interface {
	// Followers returns subject -> handle for every current member. A
	// failed page fails the whole call.
	Followers(ctx context.Context) (map[string]string, error)
	Notifications(ctx context.Context, limit int) ([]Notification, error)
	UpdateSeen(ctx context.Context, seenAt time.Time) error
}

type Actor struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type Notification struct {
	Reason    string `json:"reason"`
	Author    Actor  `json:"author"`
	IndexedAt string `json:"indexedAt"`
}

// XRPCClient implements Client over the service's XRPC HTTP API with a
// password session.
type XRPCClient struct {
	base       string
	identifier string
	password   string
	hc         *http.Client
	pages      *rate.Limiter

	mu     sync.Mutex
	access string
	did    string
}

func NewXRPCClient(base, identifier, password string, hc *http.Client) *XRPCClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &XRPCClient{
		base:       strings.TrimRight(base, "/"),
		identifier: identifier,
		password:   password,
		hc:         hc,
		pages:      rate.NewLimiter(rate.Every(defaultPageDelay), 1),
	}
}

// SetPageDelay changes the pause between follower pages.
func (c *XRPCClient) SetPageDelay(d time.Duration) {
	if d <= 0 {
		c.pages = rate.NewLimiter(rate.Inf, 1)
		return
	}
	c.pages = rate.NewLimiter(rate.Every(d), 1)
}

// Login opens a session. Other calls log in lazily.
func (c *XRPCClient) Login(ctx context.Context) error {
	if c.password == "" {
		return fmt.Errorf("%w: no password configured", ErrUpstream)
	}
	var out struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	in := map[string]string{"identifier": c.identifier, "password": c.password}
	if err := c.do(ctx, http.MethodPost, "com.atproto.server.createSession", nil, in, &out, ""); err != nil {
		return err
	}
	c.mu.Lock()
	c.access, c.did = out.AccessJwt, out.DID
	c.mu.Unlock()
	return nil
}

func (c *XRPCClient) session(ctx context.Context) (token, did string, err error) {
	c.mu.Lock()
	token, did = c.access, c.did
	c.mu.Unlock()
	if token != "" {
		return token, did, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.did, nil
}

func (c *XRPCClient) Followers(ctx context.Context) (map[string]string, error) {
	_, did, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	members := make(map[string]string)
	cursor := ""
	for {
		if err := c.pages.Wait(ctx); err != nil {
			return nil, err
		}
		q := url.Values{"actor": {did}, "limit": {strconv.Itoa(followersPageSize)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page struct {
			Followers []Actor `json:"followers"`
			Cursor    string  `json:"cursor"`
		}
		if err := c.authed(ctx, http.MethodGet, "app.bsky.graph.getFollowers", q, nil, &page); err != nil {
			return nil, fmt.Errorf("followers page: %w", err)
		}
		for _, f := range page.Followers {
			members[f.DID] = f.Handle
		}
		if page.Cursor == "" || len(page.Followers) == 0 {
			return members, nil
		}
		cursor = page.Cursor
	}
}

func (c *XRPCClient) Notifications(ctx context.Context, limit int) ([]Notification, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	var out struct {
		Notifications []Notification `json:"notifications"`
	}
	if err := c.authed(ctx, http.MethodGet, "app.bsky.notification.listNotifications", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

func (c *XRPCClient) UpdateSeen(ctx context.Context, seenAt time.Time) error {
	in := map[string]string{"seenAt": seenAt.UTC().Format(time.RFC3339Nano)}
	return c.authed(ctx, http.MethodPost, "app.bsky.notification.updateSeen", nil, in, nil)
}

// PutRecord writes record at collection/rkey in the session's own repo and
// returns the record URI.
func (c *XRPCClient) PutRecord(ctx context.Context, collection, rkey string, record any) (string, error) {
	_, did, err := c.session(ctx)
	if err != nil {
		return "", err
	}
	in := map[string]any{
		"repo":       did,
		"collection": collection,
		"rkey":       rkey,
		"record":     record,
		"validate":   true,
	}
	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := c.authed(ctx, http.MethodPost, "com.atproto.repo.putRecord", nil, in, &out); err != nil {
		return "", err
	}
	return out.URI, nil
}

// authed runs a call with the session token, logging in again once when
// the token is rejected.
func (c *XRPCClient) authed(ctx context.Context, method, nsid string, q url.Values, in, out any) error {
	token, _, err := c.session(ctx)
	if err != nil {
		return err
	}
	err = c.do(ctx, method, nsid, q, in, out, token)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		c.mu.Lock()
		c.access = ""
		c.mu.Unlock()
		if token, _, err = c.session(ctx); err != nil {
			return err
		}
		return c.do(ctx, method, nsid, q, in, out, token)
	}
	return err
}

// StatusError is a non-2xx XRPC response.
type StatusError struct {
	NSID    string
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s: %s", e.NSID, e.Status, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

func (c *XRPCClient) do(ctx context.Context, method, nsid string, q url.Values, in, out any, token string) error {
	u := c.base + "/xrpc/" + nsid
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, nsid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &StatusError{NSID: nsid, Status: resp.StatusCode, Code: e.Error, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrUpstream, nsid, err)
	}
	return nil
}
