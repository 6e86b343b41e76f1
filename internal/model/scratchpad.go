package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AWP is the "autonomous win point" flag pair used by one supported game.
type AWP struct {
	Red  bool `json:"red"`
	Blue bool `json:"blue"`
}

// AutoResult is the autonomous-period winner for one supported game.
type AutoResult string

const (
	AutoNone AutoResult = "none"
	AutoRed  AutoResult = "red"
	AutoBlue AutoResult = "blue"
	AutoTie  AutoResult = "tie"
)

// Scratchpad is the per-match annotation record. Its id is derived
// deterministically so that any referee annotating the same match
// converges on the same record without coordination.
type Scratchpad struct {
	ID       string `json:"id"`
	EventSKU string `json:"event_sku"` // immutable
	GameTag  string `json:"game_tag"`

	AWP   *AWP       `json:"awp,omitempty"`
	Auto  AutoResult `json:"auto,omitempty"`
	Notes string     `json:"notes"`
}

// ScratchpadImmutableKeys are Scratchpad's identity fields.
var ScratchpadImmutableKeys = []string{"id", "event_sku", "game_tag"}

// ScratchpadID derives the deterministic id from
// (event-sku, division, match-name).
func ScratchpadID(eventSKU string, division uint32, matchName string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%s", eventSKU, division, matchName)))
	return hex.EncodeToString(sum[:16])
}
