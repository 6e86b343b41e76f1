package cmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robosync/refsync/internal/lww"
)

type rec struct {
	ID    string `json:"id"`
	Notes string `json:"notes"`
}

var immutable = []string{"id"}

func envelope(t *testing.T, id, notes, peer string) *lww.Envelope[rec] {
	t.Helper()
	env, err := lww.Init(rec{ID: id, Notes: notes}, peer, immutable)
	require.NoError(t, err)
	return env
}

// Scenario A – local add then remote delete wins nothing back.
func TestScenarioA_TombstoneWinsOverLocalAdd(t *testing.T) {
	p := NewSide[string, rec]()
	i1 := envelope(t, "i1", "hello", "P")
	p.Values["i1"] = i1

	q := NewSide[string, rec]()
	q.Deleted.Add("i1")

	res, err := Merge(p, q, immutable)
	require.NoError(t, err)
	require.True(t, res.Resolved.Deleted.Has("i1"))
	require.NotContains(t, res.Resolved.Values, "i1")
	require.Equal(t, []string{"i1"}, res.Local.Deleted)
	require.Empty(t, res.Local.Values)
}

func TestTombstonePermanence(t *testing.T) {
	p := NewSide[string, rec]()
	p.Values["i1"] = envelope(t, "i1", "v1", "P")

	q := NewSide[string, rec]()
	q.Deleted.Add("i1")

	res, err := Merge(p, q, immutable)
	require.NoError(t, err)
	require.NotContains(t, res.Resolved.Values, "i1")

	// Even if a "newer" envelope for i1 shows up later, it must not resurrect.
	r := NewSide[string, rec]()
	newer, _ := lww.Update(p.Values["i1"], "notes", "v2", "P")
	r.Values["i1"] = newer
	res2, err := Merge(res.Resolved, r, immutable)
	require.NoError(t, err)
	require.NotContains(t, res2.Resolved.Values, "i1")
}

func TestMergeCommutative(t *testing.T) {
	p := NewSide[string, rec]()
	p.Values["i1"] = envelope(t, "i1", "a", "AAA")

	q := NewSide[string, rec]()
	shared, _ := lww.Init(rec{ID: "i1", Notes: "a"}, "AAA", immutable)
	q.Values["i1"], _ = lww.Update(shared, "notes", "b", "ZZZ")

	r1, err := Merge(p, q, immutable)
	require.NoError(t, err)
	r2, err := Merge(q, p, immutable)
	require.NoError(t, err)
	require.Equal(t, r1.Resolved.Values["i1"].Value, r2.Resolved.Values["i1"].Value)
}

func TestMergeIdempotent(t *testing.T) {
	p := NewSide[string, rec]()
	p.Values["i1"] = envelope(t, "i1", "a", "P")
	p.Deleted.Add("i2")

	res, err := Merge(p, p, immutable)
	require.NoError(t, err)
	require.Equal(t, p.Values["i1"].Value, res.Resolved.Values["i1"].Value)
	require.True(t, res.Resolved.Deleted.Has("i2"))
	require.Empty(t, res.Local.Values)
	require.Empty(t, res.Remote.Values)
}

// Property: driving — after applying result.local locally and result.remote
// remotely, a second merge yields empty local/remote diffs.
func TestMergeIsDriving(t *testing.T) {
	p := NewSide[string, rec]()
	base, _ := lww.Init(rec{ID: "i1", Notes: "a"}, "AAA", immutable)
	p.Values["i1"] = base.Clone()

	q := NewSide[string, rec]()
	q.Values["i1"], _ = lww.Update(base.Clone(), "notes", "b", "ZZZ")

	res, err := Merge(p, q, immutable)
	require.NoError(t, err)

	// apply result.local to p, result.remote to q
	pNext := NewSide[string, rec]()
	for id := range p.Values {
		pNext.Values[id] = p.Values[id]
	}
	for _, id := range res.Local.Values {
		pNext.Values[id] = res.Resolved.Values[id]
	}
	qNext := NewSide[string, rec]()
	for id := range q.Values {
		qNext.Values[id] = q.Values[id]
	}
	for _, id := range res.Remote.Values {
		qNext.Values[id] = res.Resolved.Values[id]
	}

	res2, err := Merge(pNext, qNext, immutable)
	require.NoError(t, err)
	require.Empty(t, res2.Local.Values)
	require.Empty(t, res2.Local.Deleted)
	require.Empty(t, res2.Remote.Values)
	require.Empty(t, res2.Remote.Deleted)
}
