package server

import (
	"bytes"
	"encoding/json"

	"github.com/robosync/refsync/internal/lww"
)

// diffUpdate builds the envelope to merge for a socket frame that carries
// only the plain value, not a full lww.Envelope. It starts from current
// (the server's real baseline, with real counts and history) and applies
// lww.Update per field that actually changed between current.Value and
// value, so a first-time edit to a field untouched since current was
// created gets a real incremented count instead of a fabricated
// lww.Init(value, ...) baseline that would tie at count 0 with the
// server's copy and risk losing to the tie-break.
func diffUpdate[T any](current *lww.Envelope[T], value T, peer string, immutable []string) (*lww.Envelope[T], error) {
	oldRaw, err := json.Marshal(current.Value)
	if err != nil {
		return nil, err
	}
	newRaw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var oldFields, newFields map[string]json.RawMessage
	if err := json.Unmarshal(oldRaw, &oldFields); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(newRaw, &newFields); err != nil {
		return nil, err
	}

	imm := make(map[string]bool, len(immutable))
	for _, k := range immutable {
		imm[k] = true
	}

	env := current
	for key, next := range newFields {
		if imm[key] {
			continue
		}
		if prev, ok := oldFields[key]; ok && bytes.Equal(prev, next) {
			continue
		}
		updated, err := lww.Update(env, key, next, peer)
		if err != nil {
			return nil, err
		}
		env = updated
	}
	return env, nil
}
