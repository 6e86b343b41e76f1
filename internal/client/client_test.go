package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/model"
	"github.com/robosync/refsync/internal/rpcerr"
	"github.com/robosync/refsync/internal/wire"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string]json.RawMessage)} }

// assertionWindow/assertionTick bound require.Eventually waits on the
// background queue drain goroutine, which runs outside the calling
// goroutine in Add/Edit/Delete/UpdateScratchpad.
const (
	assertionWindow = 2 * time.Second
	assertionTick   = 10 * time.Millisecond
)

func (f *fakeStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStore) GetMany(_ context.Context, keys []string) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := f.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeStore) SetMany(_ context.Context, kvs map[string]json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range kvs {
		f.data[k] = v
	}
	return nil
}

func (f *fakeStore) Update(_ context.Context, key string, fn func(json.RawMessage, bool) (json.RawMessage, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.data[key]
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	f.data[key] = next
	return nil
}

func (f *fakeStore) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeStore) Close() error { return nil }

// newTestClient builds a Client with no live socket session, so every
// mutation falls straight through to the HTTP queue against srv.
func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *fakeStore) {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	store := newFakeStore()
	c := New(Config{
		Store:     store,
		Identity:  kp,
		PeerName:  "ref-1",
		ServerURL: srv.URL,
	})
	return c, store
}

func TestAddQueuesHTTPRequestWhenDisconnected(t *testing.T) {
	var seenPath string
	var seenMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		seenMethod = r.Method
		json.NewEncoder(w).Encode(rpcerr.OK(nil))
	}))
	defer srv.Close()

	c, store := newTestClient(t, srv)
	ctx := context.Background()

	inc, err := c.Add(ctx, "RE-VRC-24-0001", model.Incident{ID: "i1", Team: "90210A"})
	require.NoError(t, err)
	require.Equal(t, "i1", inc.ID)
	require.Equal(t, "RE-VRC-24-0001", inc.EventSKU)

	require.Eventually(t, func() bool {
		return seenPath != ""
	}, assertionWindow, assertionTick)
	require.Equal(t, "/api/RE-VRC-24-0001/incident", seenPath)
	require.Equal(t, http.MethodPut, seenMethod)

	r, err := loadReplica(ctx, store, "RE-VRC-24-0001")
	require.NoError(t, err)
	require.Contains(t, r.Incidents.Values, "i1")
	require.Equal(t, "90210A", r.Incidents.Values["i1"].Value.Team)
}

func TestEditRejectsUnknownIncident(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcerr.OK(nil))
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv)

	_, err := c.Edit(context.Background(), "RE-VRC-24-0002", "does-not-exist", map[string]any{"notes": "x"})
	require.Error(t, err)
	var rerr *rpcerr.Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, rpcerr.ReasonBadRequest, rerr.Reason)
}

func TestEditAfterDeleteIsForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcerr.OK(nil))
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.Add(ctx, "RE-VRC-24-0003", model.Incident{ID: "i1", Team: "1A"})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "RE-VRC-24-0003", "i1"))

	_, err = c.Edit(ctx, "RE-VRC-24-0003", "i1", map[string]any{"notes": "late edit"})
	require.Error(t, err)
	var rerr *rpcerr.Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, rpcerr.ReasonForbidden, rerr.Reason)
}

func TestUpdateScratchpadCreatesThenPatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcerr.OK(nil))
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv)
	ctx := context.Background()

	seed := model.Scratchpad{EventSKU: "RE-VRC-24-0004", GameTag: "q1"}
	pad, err := c.UpdateScratchpad(ctx, "RE-VRC-24-0004", "pad1", seed, map[string]any{"notes": "first"})
	require.NoError(t, err)
	require.Equal(t, "first", pad.Notes)

	pad, err = c.UpdateScratchpad(ctx, "RE-VRC-24-0004", "pad1", seed, map[string]any{"notes": "second"})
	require.NoError(t, err)
	require.Equal(t, "second", pad.Notes)
}

func TestReconcileAdoptsUnknownRemoteIncidentAndPushesLocalOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcerr.OK(nil))
	}))
	defer srv.Close()
	c, store := newTestClient(t, srv)
	ctx := context.Background()
	sku := "RE-VRC-24-0005"

	_, err := c.Add(ctx, sku, model.Incident{ID: "local-only", Team: "1A"})
	require.NoError(t, err)

	remote := model.Incident{ID: "remote-only", EventSKU: sku, Team: "2B"}
	frame := &wire.Frame{
		Type: wire.FrameServerShareInfo,
		Data: []*model.Incident{&remote},
	}
	require.NoError(t, c.reconcile(ctx, sku, frame))

	r, err := loadReplica(ctx, store, sku)
	require.NoError(t, err)
	require.Contains(t, r.Incidents.Values, "local-only")
	require.Contains(t, r.Incidents.Values, "remote-only")
	require.Equal(t, "2B", r.Incidents.Values["remote-only"].Value.Team)
}

func TestReconcileLeavesPendingQueuedIncidentUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c, store := newTestClient(t, srv)
	ctx := context.Background()
	sku := "RE-VRC-24-0006"

	// c's server always 500s, so the add's http fallback stays queued.
	_, err := c.Add(ctx, sku, model.Incident{ID: "i1", Team: "1A"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := loadReplica(ctx, store, sku)
		return err == nil && len(r.Queue) == 1
	}, assertionWindow, assertionTick)

	stale := model.Incident{ID: "i1", EventSKU: sku, Team: "STALE"}
	frame := &wire.Frame{Type: wire.FrameServerShareInfo, Data: []*model.Incident{&stale}}
	require.NoError(t, c.reconcile(ctx, sku, frame))

	r, err := loadReplica(ctx, store, sku)
	require.NoError(t, err)
	require.Equal(t, "1A", r.Incidents.Values["i1"].Value.Team, "pending local edit must survive reconcile")
}

func TestHandleFrameAppliesServerBroadcastDirectly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcerr.OK(nil))
	}))
	defer srv.Close()
	c, store := newTestClient(t, srv)
	sku := "RE-VRC-24-0007"

	incident := model.Incident{ID: "i1", EventSKU: sku, Team: "3C"}
	c.handleFrame(sku, &wire.Frame{Type: wire.FrameAddIncident, Incident: &incident})

	r, err := loadReplica(context.Background(), store, sku)
	require.NoError(t, err)
	require.Equal(t, "3C", r.Incidents.Values["i1"].Value.Team)

	c.handleFrame(sku, &wire.Frame{Type: wire.FrameRemoveIncident, ID: "i1"})
	r, err = loadReplica(context.Background(), store, sku)
	require.NoError(t, err)
	require.NotContains(t, r.Incidents.Values, "i1")
	require.True(t, r.Incidents.Deleted.Has("i1"))
}
