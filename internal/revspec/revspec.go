// Package revspec turns user revision specifiers such as "revno:3" or
// "before:revid:x" into revision ids.
package revspec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"arbor/internal/branch"
	"arbor/internal/errors"
	"arbor/internal/graph"
	"arbor/internal/revision"
)

// Resolver resolves the argument that follows a prefix. ok is false when
// the argument is well formed but names no revision on b.
type Resolver func(r *Registry, b *branch.Branch, arg string) (id string, ok bool, err error)

// OtherTip locates another branch's tip for ancestor:, returning a parents
// provider able to describe its history.
type OtherTip func(name string) (string, graph.ParentsProvider, error)

// Registry maps prefixes to resolvers. The zero value has none; New
// installs the built-ins.
type Registry struct {
	resolvers map[string]Resolver
}

// New returns a registry with revid:, revno:, last: and before:, plus
// ancestor: when other is non-nil.
func New(other OtherTip) *Registry {
	r := &Registry{}
	r.Register("revid", resolveRevid)
	r.Register("revno", resolveRevno)
	r.Register("last", resolveLast)
	r.Register("before", resolveBefore)
	if other != nil {
		r.Register("ancestor", ancestorResolver(other))
	}
	return r
}

func (r *Registry) Register(prefix string, fn Resolver) {
	if r.resolvers == nil {
		r.resolvers = make(map[string]Resolver)
	}
	r.resolvers[strings.TrimSuffix(prefix, ":")] = fn
}

// Prefixes lists the registered prefixes, sorted.
func (r *Registry) Prefixes() []string {
	out := make([]string, 0, len(r.resolvers))
	for p := range r.resolvers {
		out = append(out, p+":")
	}
	sort.Strings(out)
	return out
}

// Resolve interprets spec against b. A bare integer is a revno and any
// other string without a prefix is a revision id.
func (r *Registry) Resolve(b *branch.Branch, spec string) (string, bool, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", false, errors.ValidationError("empty revision specifier", nil)
	}
	if spec == revision.Null {
		return revision.Null, true, nil
	}
	if _, err := strconv.Atoi(spec); err == nil {
		return resolveRevno(r, b, spec)
	}

	prefix, arg, found := strings.Cut(spec, ":")
	if !found {
		return resolveRevid(r, b, spec)
	}
	fn, ok := r.resolvers[prefix]
	if !ok {
		return "", false, errors.ValidationError(fmt.Sprintf("unknown revision specifier prefix %q", prefix),
			map[string]interface{}{"known": r.Prefixes()})
	}
	return fn(r, b, arg)
}

// MustResolve is Resolve with an absent revision reported as an error.
func (r *Registry) MustResolve(b *branch.Branch, spec string) (string, error) {
	id, ok, err := r.Resolve(b, spec)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NotFound(fmt.Sprintf("revision specifier %q matches nothing on branch %s", spec, b.Name()))
	}
	return id, nil
}

// ResolveRange splits "A..B" and resolves both ends; a missing start is
// the null revision and a missing end is the branch tip.
func (r *Registry) ResolveRange(b *branch.Branch, spec string) (string, string, error) {
	from, to, isRange := strings.Cut(spec, "..")
	if !isRange {
		id, err := r.MustResolve(b, spec)
		return id, id, err
	}
	start, end := revision.Null, ""
	var err error
	if from != "" {
		if start, err = r.MustResolve(b, from); err != nil {
			return "", "", err
		}
	}
	if to == "" {
		end, err = b.Tip()
	} else {
		end, err = r.MustResolve(b, to)
	}
	if err != nil {
		return "", "", err
	}
	return start, end, nil
}

func resolveRevid(_ *Registry, b *branch.Branch, arg string) (string, bool, error) {
	if arg == "" {
		return "", false, errors.ValidationError("revid: needs a revision id", nil)
	}
	ok, err := b.Repository().HasRevision(arg)
	if err != nil || !ok {
		return "", false, err
	}
	return arg, true, nil
}

// resolveRevno accepts 1-based numbers and negative numbers counting back
// from the tip.
func resolveRevno(_ *Registry, b *branch.Branch, arg string) (string, bool, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "", false, errors.ValidationError(fmt.Sprintf("revno %q is not a number", arg), nil)
	}
	if n < 0 {
		revno, err := b.Revno()
		if err != nil {
			return "", false, err
		}
		n = revno + 1 + n
		if n < 1 {
			return "", false, nil
		}
	}
	return b.RevisionForRevno(n)
}

func resolveLast(r *Registry, b *branch.Branch, arg string) (string, bool, error) {
	n := 1
	if arg != "" {
		var err error
		if n, err = strconv.Atoi(arg); err != nil || n < 1 {
			return "", false, errors.ValidationError(fmt.Sprintf("last:%s needs a positive count", arg), nil)
		}
	}
	return resolveRevno(r, b, strconv.Itoa(-n))
}

// resolveBefore returns the left-hand parent of what arg resolves to.
func resolveBefore(r *Registry, b *branch.Branch, arg string) (string, bool, error) {
	id, ok, err := r.Resolve(b, arg)
	if err != nil || !ok {
		return "", ok, err
	}
	if revision.IsNull(id) {
		return "", false, nil
	}
	rev, ok, err := b.Repository().LookupRevision(id)
	if err != nil || !ok {
		return "", false, err
	}
	return rev.LeftParent(), true, nil
}

func ancestorResolver(other OtherTip) Resolver {
	return func(_ *Registry, b *branch.Branch, arg string) (string, bool, error) {
		if arg == "" {
			return "", false, errors.ValidationError("ancestor: needs a branch", nil)
		}
		otherTip, provider, err := other(arg)
		if err != nil {
			return "", false, err
		}
		tip, err := b.Tip()
		if err != nil {
			return "", false, err
		}
		g := graph.New(graph.Union{b.Repository(), provider})
		lca, err := g.FindUniqueLCA(tip, otherTip)
		if err != nil {
			return "", false, err
		}
		return lca, true, nil
	}
}
