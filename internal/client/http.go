package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/robosync/refsync/internal/rpcerr"
)

// sendSigned issues a signed HTTP request against the configured server,
// mirroring the canonical-string scheme the server's signatureMiddleware
// verifies.
func (c *Client) sendSigned(ctx context.Context, method, path string, body []byte) error {
	_, err := c.doSigned(ctx, method, path, body)
	return err
}

// doSigned performs one signed request/response round trip and returns the
// envelope's decoded Data as raw JSON, for callers (getSnapshot,
// admin.go's membership calls) that need the response body, not just a
// success/fail signal.
func (c *Client) doSigned(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	url := strings.TrimRight(c.serverURL, "/") + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err, "client: build request")
	}

	h, err := c.identity.Sign(method, path, body, c.sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "client: sign request")
	}
	req.Header.Set("X-Refsync-Signature", h.Signature)
	req.Header.Set("X-Refsync-Peer", string(h.PeerID))
	req.Header.Set("X-Refsync-Date", h.Date)
	req.Header.Set("X-Refsync-Session", h.SessionID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "client: http request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "client: read response")
	}

	var env rpcerr.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrapf(err, "client: decode response (status %d)", resp.StatusCode)
	}
	if !env.Success {
		return nil, rpcerr.New(env.Reason, env.Message).WithDetails(env.Details)
	}
	if env.Data == nil {
		return nil, nil
	}
	return json.Marshal(env.Data)
}

// getSnapshot issues a signed GET /get and returns the raw server_share_info
// payload for ForceSync to feed into the reconcile pipeline.
func (c *Client) getSnapshot(ctx context.Context, sku string) (json.RawMessage, error) {
	return c.doSigned(ctx, http.MethodGet, "/api/"+sku+"/get", nil)
}
