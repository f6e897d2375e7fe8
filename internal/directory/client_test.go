package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	logins     atomic.Int32
	failPage   int
	rejectOnce atomic.Bool
	seen       atomic.Value
	put        atomic.Value
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "AuthenticationRequired", "message": "bad password"})
			return
		}
		f.logins.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"accessJwt": "tok", "did": "did:plc:labeler"})
	})
	mux.HandleFunc("/xrpc/app.bsky.graph.getFollowers", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.rejectOnce.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "ExpiredToken"})
			return
		}
		assert.Equal(t, "did:plc:labeler", r.URL.Query().Get("actor"))
		page := 0
		switch r.URL.Query().Get("cursor") {
		case "":
			page = 1
		case "p2":
			page = 2
		}
		if page == f.failPage {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch page {
		case 1:
			json.NewEncoder(w).Encode(map[string]any{
				"followers": []Actor{{DID: "did:plc:a", Handle: "a.test"}, {DID: "did:plc:b", Handle: "b.test"}},
				"cursor":    "p2",
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"followers": []Actor{{DID: "did:plc:c", Handle: "c.test"}},
			})
		}
	})
	mux.HandleFunc("/xrpc/app.bsky.notification.listNotifications", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"notifications": []Notification{{Reason: "follow", Author: Actor{DID: "did:plc:a"}, IndexedAt: "2026-01-29T00:00:00.000Z"}},
		})
	})
	mux.HandleFunc("/xrpc/app.bsky.notification.updateSeen", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		f.seen.Store(in["seenAt"])
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.putRecord", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		f.put.Store(in)
		json.NewEncoder(w).Encode(map[string]string{
			"uri": "at://" + in["repo"].(string) + "/" + in["collection"].(string) + "/" + in["rkey"].(string),
			"cid": "bafyrei",
		})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeService, password string) *XRPCClient {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := NewXRPCClient(srv.URL+"/", "labeler.test", password, srv.Client())
	c.SetPageDelay(0)
	return c
}

func TestFollowers_Paginates(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f, "secret")

	got, err := c.Followers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"did:plc:a": "a.test",
		"did:plc:b": "b.test",
		"did:plc:c": "c.test",
	}, got)
	assert.EqualValues(t, 1, f.logins.Load())
}

func TestFollowers_FailedPageFailsWholeFetch(t *testing.T) {
	f := &fakeService{failPage: 2}
	c := newTestClient(t, f, "secret")

	got, err := c.Followers(context.Background())
	require.ErrorIs(t, err, ErrUpstream)
	assert.Nil(t, got)
}

func TestFollowers_RelogsInOnExpiredToken(t *testing.T) {
	f := &fakeService{}
	f.rejectOnce.Store(true)
	c := newTestClient(t, f, "secret")

	got, err := c.Followers(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.EqualValues(t, 2, f.logins.Load())
}

func TestLogin_BadPassword(t *testing.T) {
	c := newTestClient(t, &fakeService{}, "wrong")

	err := c.Login(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Equal(t, "AuthenticationRequired", se.Code)
	require.ErrorIs(t, err, ErrUpstream)
}

func TestLogin_NoPassword(t *testing.T) {
	c := newTestClient(t, &fakeService{}, "")
	require.ErrorIs(t, c.Login(context.Background()), ErrUpstream)
}

func TestNotificationsAndUpdateSeen(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f, "secret")
	ctx := context.Background()

	notes, err := c.Notifications(ctx, 50)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "follow", notes[0].Reason)
	assert.Equal(t, "did:plc:a", notes[0].Author.DID)

	require.NoError(t, c.UpdateSeen(ctx, time.Date(2026, 1, 29, 9, 0, 0, 0, time.FixedZone("JST", 9*3600))))
	assert.Equal(t, "2026-01-29T00:00:00Z", f.seen.Load())
}

func TestPutRecord_WritesToOwnRepo(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f, "secret")

	uri, err := c.PutRecord(context.Background(), "app.bsky.labeler.service", "self",
		map[string]any{"$type": "app.bsky.labeler.service"})
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:labeler/app.bsky.labeler.service/self", uri)

	in := f.put.Load().(map[string]any)
	assert.Equal(t, "did:plc:labeler", in["repo"])
	assert.Equal(t, true, in["validate"])
	assert.Equal(t, map[string]any{"$type": "app.bsky.labeler.service"}, in["record"])
}

func TestPutRecord_NoSession(t *testing.T) {
	c := newTestClient(t, &fakeService{}, "")
	_, err := c.PutRecord(context.Background(), "app.bsky.labeler.service", "self", struct{}{})
	require.ErrorIs(t, err, ErrUpstream)
}
