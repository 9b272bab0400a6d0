// Package graph answers ancestry questions over a revision parent map.
package graph

import (
	"fmt"
	"iter"
	"sort"

	"arbor/internal/errors"
	"arbor/internal/revision"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/emirpasic/gods/stacks/arraystack"
)

// ParentsProvider returns the parents of the ids it knows. Ids it has no
// record of (ghosts) are simply absent from the result.
type ParentsProvider interface {
	ParentMap(ids []string) (map[string][]string, error)
}

// DictProvider is a ParentsProvider over an in-memory map.
type DictProvider map[string][]string

func (d DictProvider) ParentMap(ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		if parents, ok := d[id]; ok {
			out[id] = parents
		}
	}
	return out, nil
}

// Union asks each provider in turn; the first one that knows an id wins.
type Union []ParentsProvider

func (u Union) ParentMap(ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	todo := ids
	for _, p := range u {
		if len(todo) == 0 {
			break
		}
		found, err := p.ParentMap(todo)
		if err != nil {
			return nil, err
		}
		var rest []string
		for _, id := range todo {
			if parents, ok := found[id]; ok {
				out[id] = parents
			} else {
				rest = append(rest, id)
			}
		}
		todo = rest
	}
	return out, nil
}

// Graph wraps a ParentsProvider with ancestry algorithms. It caches parent
// lists it has already fetched.
type Graph struct {
	provider ParentsProvider
	cache    map[string][]string
	ghosts   map[string]bool
}

func New(provider ParentsProvider) *Graph {
	return &Graph{
		provider: provider,
		cache:    make(map[string][]string),
		ghosts:   make(map[string]bool),
	}
}

// ParentMap returns parents for the present ids among ids, batching lookups.
func (g *Graph) ParentMap(ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	var query []string
	for _, id := range ids {
		if revision.IsNull(id) || g.ghosts[id] {
			continue
		}
		if parents, ok := g.cache[id]; ok {
			out[id] = parents
			continue
		}
		query = append(query, id)
	}
	if len(query) == 0 {
		return out, nil
	}
	found, err := g.provider.ParentMap(query)
	if err != nil {
		return nil, fmt.Errorf("reading parent map: %w", err)
	}
	for _, id := range query {
		parents, ok := found[id]
		if !ok {
			g.ghosts[id] = true
			continue
		}
		clean := make([]string, 0, len(parents))
		for _, p := range parents {
			if !revision.IsNull(p) {
				clean = append(clean, p)
			}
		}
		g.cache[id] = clean
		out[id] = clean
	}
	return out, nil
}

// IsGhost reports whether id was referenced but found to have no record.
func (g *Graph) IsGhost(id string) bool {
	return g.ghosts[id]
}

// IterAncestry lazily yields every ancestor of tips, tips included, breadth
// first, one batched parent lookup per generation. Ghosts are yielded as
// leaves. The null revision is never yielded.
func (g *Graph) IterAncestry(tips []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		seen := make(map[string]bool)
		frontier := linkedhashset.New()
		for _, t := range tips {
			if !revision.IsNull(t) && !seen[t] {
				seen[t] = true
				frontier.Add(t)
			}
		}
		for !frontier.Empty() {
			ids := toStrings(frontier.Values())
			for _, id := range ids {
				if !yield(id, nil) {
					return
				}
			}
			parents, err := g.ParentMap(ids)
			if err != nil {
				yield("", err)
				return
			}
			next := linkedhashset.New()
			for _, id := range ids {
				for _, p := range parents[id] {
					if !seen[p] {
						seen[p] = true
						next.Add(p)
					}
				}
			}
			frontier = next
		}
	}
}

// Ancestors collects the full ancestry of id, id included.
func (g *Graph) Ancestors(id string) (map[string]bool, error) {
	out := make(map[string]bool)
	for a, err := range g.IterAncestry([]string{id}) {
		if err != nil {
			return nil, err
		}
		out[a] = true
	}
	return out, nil
}

const (
	seenA uint8 = 1 << iota
	seenB
	seenBoth = seenA | seenB
)

// FindDifference returns the revisions reachable from a but not b, and from
// b but not a. Both tips are searched one generation at a time; nodes seen
// from both sides are not searched further by either side, and a final
// sweep from those common nodes demotes any candidate that turns out to be
// shared through a path neither side walked.
func (g *Graph) FindDifference(a, b string) (map[string]bool, map[string]bool, error) {
	onlyA, onlyB := make(map[string]bool), make(map[string]bool)
	if a == b {
		return onlyA, onlyB, nil
	}

	seen := make(map[string]uint8)
	var fa, fb []string
	if !revision.IsNull(a) {
		seen[a] |= seenA
		fa = []string{a}
	}
	if !revision.IsNull(b) {
		seen[b] |= seenB
		fb = []string{b}
	}

	for len(fa)+len(fb) > 0 {
		parents, err := g.ParentMap(append(append([]string{}, fa...), fb...))
		if err != nil {
			return nil, nil, err
		}
		expand := func(frontier []string, bit uint8) []string {
			var next []string
			for _, n := range frontier {
				if seen[n] == seenBoth {
					continue
				}
				for _, p := range parents[n] {
					old := seen[p]
					seen[p] |= bit
					if old&bit == 0 && seen[p] != seenBoth {
						next = append(next, p)
					}
				}
			}
			return next
		}
		fa, fb = expand(fa, seenA), expand(fb, seenB)
	}

	unresolved := 0
	var common []string
	for id, bits := range seen {
		if bits == seenBoth {
			common = append(common, id)
		} else {
			unresolved++
		}
	}
	for len(common) > 0 && unresolved > 0 {
		parents, err := g.ParentMap(common)
		if err != nil {
			return nil, nil, err
		}
		var next []string
		for _, c := range common {
			for _, p := range parents[c] {
				bits := seen[p]
				if bits == seenBoth {
					continue
				}
				if bits != 0 {
					unresolved--
				}
				seen[p] = seenBoth
				next = append(next, p)
			}
		}
		common = next
	}

	for id, bits := range seen {
		switch bits {
		case seenA:
			onlyA[id] = true
		case seenB:
			onlyB[id] = true
		}
	}
	return onlyA, onlyB, nil
}

// Heads returns the members of ids that are not ancestors of another member.
func (g *Graph) Heads(ids []string) (map[string]bool, error) {
	candidates := make(map[string]bool)
	for _, id := range ids {
		if !revision.IsNull(id) {
			candidates[id] = true
		}
	}
	if len(candidates) < 2 {
		return candidates, nil
	}

	start := make([]string, 0, len(candidates))
	for id := range candidates {
		start = append(start, id)
	}
	parents, err := g.ParentMap(start)
	if err != nil {
		return nil, err
	}
	var tips []string
	for _, id := range start {
		tips = append(tips, parents[id]...)
	}

	heads := make(map[string]bool, len(candidates))
	for id := range candidates {
		heads[id] = true
	}
	for a, err := range g.IterAncestry(tips) {
		if err != nil {
			return nil, err
		}
		if heads[a] {
			delete(heads, a)
			if len(heads) == 1 {
				break
			}
		}
	}
	return heads, nil
}

// IsAncestor reports whether candidate is descendant or one of its ancestors.
func (g *Graph) IsAncestor(candidate, descendant string) (bool, error) {
	if revision.IsNull(candidate) {
		return true, nil
	}
	for a, err := range g.IterAncestry([]string{descendant}) {
		if err != nil {
			return false, err
		}
		if a == candidate {
			return true, nil
		}
	}
	return false, nil
}

// FindUniqueLCA returns the single lowest common ancestor of a and b,
// narrowing repeatedly when there are several. Disjoint histories yield the
// null revision.
func (g *Graph) FindUniqueLCA(a, b string) (string, error) {
	current := []string{a, b}
	for {
		lca, err := g.findLCA(current)
		if err != nil {
			return "", err
		}
		switch len(lca) {
		case 0:
			return revision.Null, nil
		case 1:
			return lca[0], nil
		}
		current = lca
	}
}

// findLCA returns the heads of the ancestry shared by every id.
func (g *Graph) findLCA(ids []string) ([]string, error) {
	var common map[string]bool
	for _, id := range ids {
		anc, err := g.Ancestors(id)
		if err != nil {
			return nil, err
		}
		if common == nil {
			common = anc
			continue
		}
		for c := range common {
			if !anc[c] {
				delete(common, c)
			}
		}
	}
	if len(common) == 0 {
		return nil, nil
	}

	members := make([]string, 0, len(common))
	for c := range common {
		members = append(members, c)
	}
	parents, err := g.ParentMap(members)
	if err != nil {
		return nil, err
	}
	// common is closed under ancestry, so its heads are exactly the members
	// that no other member names as a parent.
	isParent := make(map[string]bool)
	for _, c := range members {
		for _, p := range parents[c] {
			isParent[p] = true
		}
	}
	var heads []string
	for _, c := range members {
		if !isParent[c] {
			heads = append(heads, c)
		}
	}
	sort.Strings(heads)
	return heads, nil
}

// TopoSort orders ids so that every parent within ids precedes its
// children. Parents outside ids are ignored. Ties break by id.
func (g *Graph) TopoSort(ids []string) ([]string, error) {
	members := make(map[string]bool, len(ids))
	for _, id := range ids {
		members[id] = true
	}
	sorted := make([]string, 0, len(members))
	for id := range members {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	parents, err := g.ParentMap(sorted)
	if err != nil {
		return nil, err
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(members))
	out := make([]string, 0, len(members))

	type frame struct {
		id   string
		next int
	}
	for _, root := range sorted {
		if state[root] != 0 {
			continue
		}
		stack := arraystack.New()
		stack.Push(&frame{id: root})
		state[root] = visiting
		for !stack.Empty() {
			top, _ := stack.Peek()
			f := top.(*frame)
			ps := parents[f.id]
			if f.next < len(ps) {
				p := ps[f.next]
				f.next++
				if !members[p] {
					continue
				}
				switch state[p] {
				case visiting:
					return nil, errors.Internal(fmt.Sprintf("revision graph has a cycle through %s", p))
				case 0:
					state[p] = visiting
					stack.Push(&frame{id: p})
				}
				continue
			}
			stack.Pop()
			state[f.id] = done
			out = append(out, f.id)
		}
	}
	return out, nil
}

func toStrings(values []interface{}) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.(string)
	}
	return out
}
