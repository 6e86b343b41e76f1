package client

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/robosync/refsync/internal/rpcerr"
)

// queuedOp is one outbound HTTP mutation the client couldn't deliver over
// the socket, persisted so it survives a process restart.
//
// Target/EntityID aren't needed to replay the op (Method/Path/Body are
// self-sufficient) but let reconcile recognize "this id has a mutation
// still in flight" without parsing bodies, so a server_share_info arriving
// mid-queue-drain doesn't overwrite an edit that just hasn't landed yet.
type queuedOp struct {
	Method   string          `json:"method"`
	Path     string          `json:"path"`
	Body     json.RawMessage `json:"body,omitempty"`
	Target   string          `json:"target,omitempty"` // "incident" | "scratchpad"
	EntityID string          `json:"entityId,omitempty"`
}

const (
	backoffStart  = time.Second
	backoffFactor = 2
	backoffCap    = 30 * time.Second
	backoffJitter = 0.2
)

// nextBackoff computes the HTTP retry delay: start 1s, factor 2, capped
// at 30s, jittered ±20%.
func nextBackoff(attempt int) time.Duration {
	d := backoffStart
	for i := 0; i < attempt; i++ {
		d *= backoffFactor
		if d > backoffCap {
			d = backoffCap
			break
		}
	}
	jitter := 1 + (rand.Float64()*2-1)*backoffJitter
	return time.Duration(float64(d) * jitter)
}

// pendingIDs returns the set of entity ids with an undelivered queued
// mutation of the given target, so reconcile can leave them alone rather
// than clobber an edit that simply hasn't reached the server yet.
func (c *Client) pendingIDs(ctx context.Context, sku, target string) map[string]bool {
	r, err := loadReplica(ctx, c.store, sku)
	if err != nil {
		return nil
	}
	ids := make(map[string]bool, len(r.Queue))
	for _, op := range r.Queue {
		if op.Target == target && op.EntityID != "" {
			ids[op.EntityID] = true
		}
	}
	return ids
}

// enqueue appends op to sku's persisted outbound queue.
func (c *Client) enqueue(ctx context.Context, sku string, op queuedOp) error {
	err := withReplica(ctx, c.store, sku, func(r *replica) error {
		r.Queue = append(r.Queue, op)
		return nil
	})
	if err != nil {
		return err
	}
	c.kickQueue(sku)
	return nil
}

// kickQueue starts (or is a no-op if already running) the background
// drain loop for sku's outbound queue.
func (c *Client) kickQueue(sku string) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.queueRunning[sku] {
		return
	}
	c.queueRunning[sku] = true
	go c.drainQueue(sku)
}

func (c *Client) drainQueue(sku string) {
	defer func() {
		c.queueMu.Lock()
		delete(c.queueRunning, sku)
		c.queueMu.Unlock()
	}()

	attempt := 0
	for {
		r, err := loadReplica(context.Background(), c.store, sku)
		if err != nil || len(r.Queue) == 0 {
			return
		}
		op := r.Queue[0]

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = c.sendSigned(ctx, op.Method, op.Path, op.Body)
		cancel()
		var rerr *rpcerr.Error
		stale := errors.As(err, &rerr) && rerr.Reason == rpcerr.ReasonStale
		if err != nil && !stale {
			c.logger.Warnw("queued request failed, backing off", "sku", sku, "path", op.Path, "error", err)
			time.Sleep(nextBackoff(attempt))
			attempt++
			continue
		}

		attempt = 0
		if err := withReplica(context.Background(), c.store, sku, func(r *replica) error {
			if len(r.Queue) > 0 {
				r.Queue = r.Queue[1:]
			}
			return nil
		}); err != nil {
			c.logger.Errorw("failed to persist queue drain", "sku", sku, "error", err)
			return
		}
		if stale {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := c.ForceSync(ctx, sku); err != nil {
				c.logger.Warnw("force-sync after stale write failed", "sku", sku, "error", err)
			}
			cancel()
		}
	}
}
