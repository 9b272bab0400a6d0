package graph

import (
	"sort"
	"testing"

	"arbor/internal/revision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond:  A <- B <- D, A <- C <- D, D <- E, C <- F
func diamond() DictProvider {
	return DictProvider{
		"A": {revision.Null},
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
		"E": {"D"},
		"F": {"C"},
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestAncestors(t *testing.T) {
	g := New(diamond())

	anc, err := g.Ancestors("E")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, keys(anc))

	anc, err = g.Ancestors(revision.Null)
	require.NoError(t, err)
	assert.Empty(t, anc)
}

func TestAncestorsIncludesGhostAsLeaf(t *testing.T) {
	g := New(DictProvider{
		"A": {},
		"C": {"A", "ghost"},
	})

	anc, err := g.Ancestors("C")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "ghost"}, keys(anc))
	assert.True(t, g.IsGhost("ghost"))
}

func TestFindDifference(t *testing.T) {
	g := New(diamond())

	onlyE, onlyF, err := g.FindDifference("E", "F")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "D", "E"}, keys(onlyE))
	assert.Equal(t, []string{"F"}, keys(onlyF))

	same1, same2, err := g.FindDifference("D", "D")
	require.NoError(t, err)
	assert.Empty(t, same1)
	assert.Empty(t, same2)

	all, none, err := g.FindDifference("E", revision.Null)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Empty(t, none)
}

func TestFindDifferenceMatchesAncestrySets(t *testing.T) {
	// Long unique chain on one side that shares history through a node the
	// other side only reaches late.
	p := DictProvider{
		"r":  {},
		"x1": {"r"},
		"x2": {"x1"},
		"x3": {"x2"},
		"y1": {"r"},
		"y2": {"y1", "x1"},
		"a":  {"x3"},
		"b":  {"y2"},
	}
	tips := []string{"r", "x1", "x2", "x3", "y1", "y2", "a", "b"}
	for _, left := range tips {
		for _, right := range tips {
			g := New(p)
			la, err := g.Ancestors(left)
			require.NoError(t, err)
			ra, err := g.Ancestors(right)
			require.NoError(t, err)

			wantL, wantR := map[string]bool{}, map[string]bool{}
			for id := range la {
				if !ra[id] {
					wantL[id] = true
				}
			}
			for id := range ra {
				if !la[id] {
					wantR[id] = true
				}
			}

			gotL, gotR, err := New(p).FindDifference(left, right)
			require.NoError(t, err)
			assert.Equal(t, keys(wantL), keys(gotL), "%s vs %s", left, right)
			assert.Equal(t, keys(wantR), keys(gotR), "%s vs %s", left, right)
		}
	}
}

func TestFindDifferenceToleratesGhosts(t *testing.T) {
	g := New(DictProvider{
		"A": {},
		"C": {"A", "ghost"},
		"D": {"A"},
	})

	onlyC, onlyD, err := g.FindDifference("C", "D")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "ghost"}, keys(onlyC))
	assert.Equal(t, []string{"D"}, keys(onlyD))
}

func TestFindUniqueLCA(t *testing.T) {
	g := New(diamond())

	lca, err := g.FindUniqueLCA("E", "F")
	require.NoError(t, err)
	assert.Equal(t, "C", lca)

	lca, err = g.FindUniqueLCA("B", "C")
	require.NoError(t, err)
	assert.Equal(t, "A", lca)

	lca, err = g.FindUniqueLCA("D", "E")
	require.NoError(t, err)
	assert.Equal(t, "D", lca)
}

func TestFindUniqueLCACrissCross(t *testing.T) {
	// Two merges of the same pair leave two candidate ancestors that
	// narrow to their own common base.
	g := New(DictProvider{
		"base": {},
		"l":    {"base"},
		"r":    {"base"},
		"m1":   {"l", "r"},
		"m2":   {"r", "l"},
	})

	lca, err := g.FindUniqueLCA("m1", "m2")
	require.NoError(t, err)
	assert.Equal(t, "base", lca)
}

func TestFindUniqueLCADisjoint(t *testing.T) {
	g := New(DictProvider{"a": {}, "b": {}})

	lca, err := g.FindUniqueLCA("a", "b")
	require.NoError(t, err)
	assert.Equal(t, revision.Null, lca)
}

func TestHeadsAndIsAncestor(t *testing.T) {
	g := New(diamond())

	heads, err := g.Heads([]string{"A", "B", "C", "F"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "F"}, keys(heads))

	heads, err = g.Heads([]string{"D"})
	require.NoError(t, err)
	assert.Equal(t, []string{"D"}, keys(heads))

	ok, err := g.IsAncestor("A", "E")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsAncestor("F", "E")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopoSort(t *testing.T) {
	g := New(diamond())

	order, err := g.TopoSort([]string{"E", "D", "C", "B", "A", "F"})
	require.NoError(t, err)
	require.Len(t, order, 6)

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for child, parents := range diamond() {
		for _, p := range parents {
			if p == revision.Null {
				continue
			}
			assert.Less(t, pos[p], pos[child], "%s before %s", p, child)
		}
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	g := New(DictProvider{"a": {"b"}, "b": {"a"}})

	_, err := g.TopoSort([]string{"a", "b"})
	assert.Error(t, err)
}
