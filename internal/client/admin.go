package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/model"
	"github.com/robosync/refsync/internal/wire"
)

// sendSignedJSON is sendSigned's sibling for calls whose response payload
// the caller needs back, not just a success/fail signal.
func (c *Client) sendSignedJSON(ctx context.Context, method, path string, body []byte, out any) error {
	raw, err := c.doSigned(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || raw == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "client: decode response data")
}

// CreateInstance issues §6.2's POST /:sku/create, registering the local
// peer as the new instance's sole admin.
func (c *Client) CreateInstance(ctx context.Context, sku string) (*wire.InvitationView, error) {
	var inv wire.InvitationView
	if err := c.sendSignedJSON(ctx, "POST", "/api/"+sku+"/create", nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Invitation fetches the caller's own pending or accepted invitation for sku.
func (c *Client) Invitation(ctx context.Context, sku string) (*wire.InvitationView, error) {
	var inv wire.InvitationView
	if err := c.sendSignedJSON(ctx, "GET", "/api/"+sku+"/invitation", nil, &inv); err != nil {
		return nil, err
	}
	if inv.ID == "" {
		return nil, nil
	}
	return &inv, nil
}

// Accept redeems an invitation id, admitting the local peer to sku.
func (c *Client) Accept(ctx context.Context, sku, invitationID string) (*wire.InvitationView, error) {
	var inv wire.InvitationView
	path := "/api/" + sku + "/accept?invitation=" + url.QueryEscape(invitationID)
	if err := c.sendSignedJSON(ctx, "PUT", path, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Invite grants target admission to sku, with admin rights if admin is set.
func (c *Client) Invite(ctx context.Context, sku string, target identity.PeerId, admin bool) (*wire.InvitationView, error) {
	var inv wire.InvitationView
	path := "/api/" + sku + "/invite?user=" + url.QueryEscape(string(target)) + "&admin=" + strconv.FormatBool(admin)
	if err := c.sendSignedJSON(ctx, "PUT", path, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Revoke removes target's admission to sku.
func (c *Client) Revoke(ctx context.Context, sku string, target identity.PeerId) error {
	path := "/api/" + sku + "/invite?user=" + url.QueryEscape(string(target))
	return c.sendSignedJSON(ctx, "DELETE", path, nil, nil)
}

// RequestCode mints a short-lived admission code bound to the local peer,
// which a prospective teammate can read aloud over the radio instead of
// spelling out their full peer id.
func (c *Client) RequestCode(ctx context.Context, sku string) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	if err := c.sendSignedJSON(ctx, "PUT", "/api/"+sku+"/request", nil, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

// ResolveCode looks up which peer requested code, for an admin deciding
// whether to invite them.
func (c *Client) ResolveCode(ctx context.Context, sku, code string) (identity.PeerId, error) {
	var out struct {
		ID identity.PeerId `json:"id"`
	}
	path := "/api/" + sku + "/request?code=" + url.QueryEscape(code)
	if err := c.sendSignedJSON(ctx, "GET", path, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// SetName records the local peer's display name server-wide.
func (c *Client) SetName(ctx context.Context, name string) error {
	body, err := json.Marshal(struct {
		Name string `json:"name"`
	}{Name: name})
	if err != nil {
		return errors.Wrap(err, "client: encode name")
	}
	return c.sendSignedJSON(ctx, "POST", "/api/user", body, nil)
}

// FetchSnapshot issues GET /:sku/get and decodes the full server_share_info
// shape, including the ambient state (active users, invitations) that
// never gets persisted to the local replica.
func (c *Client) FetchSnapshot(ctx context.Context, sku string) (*wire.Frame, error) {
	raw, err := c.doSigned(ctx, "GET", "/api/"+sku+"/get", nil)
	if err != nil {
		return nil, err
	}
	var frame wire.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, errors.Wrap(err, "client: decode snapshot")
	}
	return &frame, nil
}

// FetchCSV issues GET /:sku/csv and returns the raw export, which (unlike
// every other endpoint) is plain text/csv rather than an rpcerr.Envelope.
func (c *Client) FetchCSV(ctx context.Context, sku string) ([]byte, error) {
	return c.fetchRaw(ctx, "/api/"+sku+"/csv")
}

func (c *Client) fetchRaw(ctx context.Context, path string) ([]byte, error) {
	url := strings.TrimRight(c.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "client: build request")
	}
	h, err := c.identity.Sign(http.MethodGet, path, nil, c.sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "client: sign request")
	}
	req.Header.Set("X-Refsync-Signature", h.Signature)
	req.Header.Set("X-Refsync-Peer", string(h.PeerID))
	req.Header.Set("X-Refsync-Date", h.Date)
	req.Header.Set("X-Refsync-Session", h.SessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "client: http request")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "client: read response")
	}
	if resp.StatusCode != http.StatusOK {
		var env struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &env)
		return nil, errors.Newf("client: %s returned %d: %s", path, resp.StatusCode, env.Message)
	}
	return raw, nil
}

// Incidents returns the local replica's live incidents for sku.
func (c *Client) Incidents(ctx context.Context, sku string) (map[string]model.Incident, error) {
	r, err := loadReplica(ctx, c.store, sku)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Incident, len(r.Incidents.Values))
	for id, env := range r.Incidents.Values {
		out[id] = env.Value
	}
	return out, nil
}

// Scratchpads returns the local replica's live scratchpads for sku.
func (c *Client) Scratchpads(ctx context.Context, sku string) (map[string]model.Scratchpad, error) {
	r, err := loadReplica(ctx, c.store, sku)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Scratchpad, len(r.Scratchpads.Values))
	for id, env := range r.Scratchpads.Values {
		out[id] = env.Value
	}
	return out, nil
}
