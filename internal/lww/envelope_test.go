package lww

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type rec struct {
	ID    string   `json:"id"`
	Notes string   `json:"notes"`
	Rules []string `json:"rules"`
}

var immutable = []string{"id"}

func mustInit(t *testing.T, v rec, peer string) *Envelope[rec] {
	t.Helper()
	env, err := Init(v, peer, immutable)
	require.NoError(t, err)
	return env
}

func TestInitHasZeroCounts(t *testing.T) {
	env := mustInit(t, rec{ID: "i1", Notes: "a", Rules: []string{"<SG1>"}}, "P")
	require.Equal(t, uint32(0), env.Consistency["notes"].Count)
	require.Empty(t, env.Consistency["notes"].History)
	_, ok := env.Consistency["id"]
	require.False(t, ok, "immutable key must carry no FieldMeta")
}

func TestUpdateNoopOnEqualValue(t *testing.T) {
	env := mustInit(t, rec{ID: "i1", Notes: "a"}, "P")
	out, err := Update(env, "notes", "a", "P")
	require.NoError(t, err)
	require.Equal(t, uint32(0), out.Consistency["notes"].Count)
}

func TestUpdateIncrementsAndRecordsHistory(t *testing.T) {
	env := mustInit(t, rec{ID: "i1", Notes: "a"}, "P")
	out, err := Update(env, "notes", "b", "P")
	require.NoError(t, err)
	require.Equal(t, uint32(1), out.Consistency["notes"].Count)
	require.Equal(t, "b", out.Value.Notes)
	require.Len(t, out.Consistency["notes"].History, 1)
	require.Equal(t, `"a"`, string(out.Consistency["notes"].History[0].Prev))
}

// Scenario B – concurrent edits to disjoint fields merge.
func TestScenarioB_DisjointFieldsMerge(t *testing.T) {
	base := rec{ID: "i1", Notes: "a", Rules: []string{"<SG1>"}}
	p, err := Init(base, "P", immutable)
	require.NoError(t, err)
	q := p.Clone()

	p, err = Update(p, "notes", "b", "P")
	require.NoError(t, err)
	q, err = Update(q, "rules", []string{"<SG2>"}, "Q")
	require.NoError(t, err)

	res, err := MergeLWW(p, q)
	require.NoError(t, err)
	require.Equal(t, "b", res.Resolved.Value.Notes)
	require.Equal(t, []string{"<SG2>"}, res.Resolved.Value.Rules)
	require.Equal(t, uint32(1), res.Resolved.Consistency["notes"].Count)
	require.Equal(t, uint32(1), res.Resolved.Consistency["rules"].Count)
}

// Scenario C – concurrent edits to same field, tie on count: larger peer id wins.
func TestScenarioC_TieBreakByPeerID(t *testing.T) {
	base := rec{ID: "i1", Notes: "a"}
	p, _ := Init(base, "AAA", immutable)
	q := p.Clone()

	p, _ = Update(p, "notes", "b", "AAA")
	q, _ = Update(q, "notes", "c", "ZZZ")

	res, err := MergeLWW(p, q)
	require.NoError(t, err)
	require.Equal(t, "c", res.Resolved.Value.Notes)
	require.Contains(t, res.Changed, "notes")
}

// Scenario D – higher count dominates regardless of peer ids.
func TestScenarioD_HigherCountWins(t *testing.T) {
	base := rec{ID: "i1", Notes: "a"}
	p, _ := Init(base, "ZZZ", immutable)
	q := p.Clone()

	p, _ = Update(p, "notes", "b1", "ZZZ")
	p, _ = Update(p, "notes", "b2", "ZZZ")
	q, _ = Update(q, "notes", "c", "AAA")

	res, err := MergeLWW(p, q)
	require.NoError(t, err)
	require.Equal(t, "b2", res.Resolved.Value.Notes)
	require.Contains(t, res.Rejected, "notes")
}

// Property: field independence — editing k1 never touches k2's consistency.
func TestFieldIndependence(t *testing.T) {
	env := mustInit(t, rec{ID: "i1", Notes: "a", Rules: []string{"x"}}, "P")
	before := env.Consistency["rules"].clone()
	out, err := Update(env, "notes", "b", "P")
	require.NoError(t, err)
	require.Equal(t, before.Count, out.Consistency["rules"].Count)
}

// Property: idempotence.
func TestMergeIdempotent(t *testing.T) {
	env := mustInit(t, rec{ID: "i1", Notes: "a"}, "P")
	env, _ = Update(env, "notes", "b", "P")
	res, err := MergeLWW(env, env)
	require.NoError(t, err)
	require.Equal(t, env.Value, res.Resolved.Value)
}

// Property: commutativity.
func TestMergeCommutative(t *testing.T) {
	base := rec{ID: "i1", Notes: "a"}
	p, _ := Init(base, "AAA", immutable)
	q := p.Clone()
	p, _ = Update(p, "notes", "b", "AAA")
	q, _ = Update(q, "notes", "c", "ZZZ")

	r1, err := MergeLWW(p, q)
	require.NoError(t, err)
	r2, err := MergeLWW(q, p)
	require.NoError(t, err)
	require.Equal(t, r1.Resolved.Value, r2.Resolved.Value)
}

// Property: associativity over resolved state across three replicas.
func TestMergeAssociative(t *testing.T) {
	base := rec{ID: "i1", Notes: "a"}
	a, _ := Init(base, "AAA", immutable)
	b := a.Clone()
	c := a.Clone()
	a, _ = Update(a, "notes", "fromA", "AAA")
	b, _ = Update(b, "notes", "fromB", "BBB")
	c, _ = Update(c, "notes", "fromC", "CCC")

	ab, err := MergeLWW(a, b)
	require.NoError(t, err)
	abc1, err := MergeLWW(ab.Resolved, c)
	require.NoError(t, err)

	bc, err := MergeLWW(b, c)
	require.NoError(t, err)
	abc2, err := MergeLWW(a, bc.Resolved)
	require.NoError(t, err)

	require.Equal(t, abc1.Resolved.Value, abc2.Resolved.Value)
}

func TestMergeNullRules(t *testing.T) {
	res, err := MergeLWW[rec](nil, nil)
	require.NoError(t, err)
	require.Nil(t, res.Resolved)

	x := mustInit(t, rec{ID: "i1"}, "P")
	res, err = MergeLWW(x, nil)
	require.NoError(t, err)
	require.Equal(t, x.Value, res.Resolved.Value)
	require.Empty(t, res.Changed)

	res, err = MergeLWW[rec](nil, x)
	require.NoError(t, err)
	require.Equal(t, x.Value, res.Resolved.Value)
	require.NotEmpty(t, res.Changed)
}

func TestImmutableDivergenceIsPrecondition(t *testing.T) {
	a := mustInit(t, rec{ID: "i1"}, "P")
	b := mustInit(t, rec{ID: "i2"}, "Q")
	_, err := MergeLWW(a, b)
	require.Error(t, err)
}
