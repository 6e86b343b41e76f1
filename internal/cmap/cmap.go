// Package cmap implements a consistent map: a keyed collection of
// lww.Envelope values paired with a growset.Set of tombstones, with a
// three-way merge that produces both a resolved state and the
// directional diffs needed to drive a peer back to a fixed point.
package cmap

import (
	"sort"

	"github.com/robosync/refsync/internal/growset"
	"github.com/robosync/refsync/internal/lww"
)

// Side is one half of a consistent map: the live envelopes and the
// tombstone set.
type Side[Id comparable, T any] struct {
	Values  map[Id]*lww.Envelope[T]
	Deleted growset.Set[Id]
}

// NewSide returns an empty Side.
func NewSide[Id comparable, T any]() Side[Id, T] {
	return Side[Id, T]{Values: make(map[Id]*lww.Envelope[T]), Deleted: growset.Set[Id]{}}
}

// Diff names the ids to apply (values) and hard-delete (deleted) on one
// side as a result of a merge.
type Diff[Id comparable] struct {
	Values  []Id
	Deleted []Id
}

// MergeResult is the outcome of a consistent-map merge.
type MergeResult[Id comparable, T any] struct {
	Resolved Side[Id, T]
	Local    Diff[Id]
	Remote   Diff[Id]
}

// Merge performs the three-way (really: two-way-with-directional-diffs)
// merge, given the set of immutable keys for T.
func Merge[Id comparable, T any](local, remote Side[Id, T], immutable []string) (MergeResult[Id, T], error) {
	resolved := NewSide[Id, T]()

	deleted := growset.Merge(local.Deleted, remote.Deleted)
	resolved.Deleted = deleted.Resolved

	var localChangedIds, remoteRejectedIds []Id

	seen := make(map[Id]bool, len(local.Values)+len(remote.Values))
	for id, lv := range local.Values {
		seen[id] = true
		rv, inRemote := remote.Values[id]
		if !inRemote {
			// LO: local-only id. It belongs to the resolved state (subject
			// to tombstone dominance below) and must be pushed remote-wards.
			resolved.Values[id] = lv.Clone()
			continue
		}
		mr, err := lww.MergeLWW(lv, rv)
		if err != nil {
			return MergeResult[Id, T]{}, err
		}
		resolved.Values[id] = mr.Resolved
		if len(mr.Changed) > 0 {
			localChangedIds = append(localChangedIds, id)
		}
		if len(mr.Rejected) > 0 {
			remoteRejectedIds = append(remoteRejectedIds, id)
		}
	}
	for id, rv := range remote.Values {
		if seen[id] {
			continue
		}
		// RO: remote-only id.
		resolved.Values[id] = rv.Clone()
	}

	// Tombstone dominance: an id in deleted.Resolved never survives in
	// resolved.Values, regardless of any envelope state. This makes
	// tombstones permanent — a resurrection attempt never re-admits the id.
	for id := range resolved.Deleted {
		delete(resolved.Values, id)
	}

	result := MergeResult[Id, T]{Resolved: resolved}

	// remote.values = LO ∪ {ids whose merge produced non-empty rejected}
	for id := range local.Values {
		if _, inRemote := remote.Values[id]; !inRemote {
			result.Remote.Values = append(result.Remote.Values, id)
		}
	}
	result.Remote.Values = append(result.Remote.Values, remoteRejectedIds...)

	// local.values = RO ∪ {ids whose merge produced non-empty changed}
	for id := range remote.Values {
		if _, inLocal := local.Values[id]; !inLocal {
			result.Local.Values = append(result.Local.Values, id)
		}
	}
	result.Local.Values = append(result.Local.Values, localChangedIds...)

	result.Remote.Deleted = deleted.RemoteOnly
	result.Local.Deleted = deleted.LocalOnly

	// Never instruct a peer to upsert an id that tombstone dominance just
	// removed from the resolved state.
	result.Local.Values = dropDominated(result.Local.Values, resolved.Deleted)
	result.Remote.Values = dropDominated(result.Remote.Values, resolved.Deleted)

	sortIds(result.Local.Values)
	sortIds(result.Local.Deleted)
	sortIds(result.Remote.Values)
	sortIds(result.Remote.Deleted)

	return result, nil
}

func dropDominated[Id comparable](ids []Id, deleted growset.Set[Id]) []Id {
	if len(deleted) == 0 {
		return ids
	}
	out := ids[:0:0]
	for _, id := range ids {
		if !deleted.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

func sortIds[Id comparable](ids []Id) {
	sort.Slice(ids, func(i, j int) bool {
		return anyLess(ids[i], ids[j])
	})
}

// anyLess provides a best-effort, deterministic ordering over comparable Id
// types for stable test output; it is not used for merge semantics.
func anyLess[Id comparable](a, b Id) bool {
	as, aok := any(a).(string)
	bs, bok := any(b).(string)
	if aok && bok {
		return as < bs
	}
	return false
}
