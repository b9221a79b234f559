// Package application provides the core orchestration logic for rollout
// collection: configuration resolution, service discovery, the
// multi-turn agent loop, and the concurrent collection pipeline.
package application

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// Service categories form a small closed set so service references can
// be validated structurally at resolve time instead of failing as late
// string lookups at call time.
const (
	CategoryModel    = "model"
	CategoryResource = "resource"
	CategoryAgent    = "agent"
)

// Reserved top-level configuration keys that do not declare services.
const (
	DefaultHostKey = "default_host"
	HeadServerKey  = "head_server"
)

// reservedTopLevelKeys lists keys skipped during service discovery.
// Any other top-level mapping is treated as a service declaration;
// top-level scalars are interpolation variables.
var reservedTopLevelKeys = map[string]struct{}{
	DefaultHostKey: {},
	HeadServerKey:  {},
}

// Tree is a nested configuration mapping built by merging layered
// sources. It is mutable during resolution and must be treated as
// immutable once validated into a ResolvedConfig.
type Tree map[string]any

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	return Tree(cloneValue(map[string]any(t)).(map[string]any))
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}

// MergeTrees deep-merges override into base and returns a new tree.
// Mapping keys from both sides are unioned; on a scalar or sequence
// conflict at a matching path the override side wins. Neither input is
// modified, so layered sources keep their original contents.
func MergeTrees(base, override Tree) Tree {
	return Tree(domain.MergeMaps(map[string]any(base), map[string]any(override)))
}

// YAML renders the tree as YAML, the form served by the head server.
func (t Tree) YAML() ([]byte, error) {
	out, err := yaml.Marshal(map[string]any(t))
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// varPattern matches ${name} interpolation markers in leaf values.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveVariables substitutes every ${name} marker anywhere in the
// tree with the value of the top-level key name. Resolution is
// transitive: a substituted value may itself contain markers. Circular
// references and markers naming absent keys are fatal errors naming the
// offending key. Resolving an already-resolved tree is a no-op.
func ResolveVariables(tree Tree) (Tree, error) {
	r := &varResolver{
		tree:     tree,
		state:    make(map[string]int),
		resolved: make(map[string]any),
	}

	out := make(Tree, len(tree))
	for _, k := range sortedKeys(tree) {
		v, err := r.resolveKey(k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// varResolver performs memoized depth-first variable resolution with
// cycle detection over the tree's top-level keys.
type varResolver struct {
	tree     Tree
	state    map[string]int // 0 unvisited, 1 visiting, 2 done
	resolved map[string]any
}

func (r *varResolver) resolveKey(name string) (any, error) {
	switch r.state[name] {
	case 2:
		return r.resolved[name], nil
	case 1:
		return nil, fmt.Errorf("%w: circular variable reference through %q",
			domain.ErrInvalidConfiguration, name)
	}

	raw, ok := r.tree[name]
	if !ok {
		return nil, fmt.Errorf("%w: unresolved variable ${%s}",
			domain.ErrInvalidConfiguration, name)
	}

	r.state[name] = 1
	v, err := r.resolveValue(raw)
	if err != nil {
		return nil, err
	}
	r.state[name] = 2
	r.resolved[name] = v
	return v, nil
}

func (r *varResolver) resolveValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.expandString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			resolved, err := r.resolveValue(child)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			resolved, err := r.resolveValue(child)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// expandString substitutes markers in one leaf string. A leaf that is
// exactly one marker adopts the referenced value with its type intact;
// markers embedded in larger strings stringify scalar referents only.
func (r *varResolver) expandString(s string) (any, error) {
	if m := varPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		return r.resolveKey(m[1])
	}

	var expandErr error
	out := varPattern.ReplaceAllStringFunc(s, func(marker string) string {
		if expandErr != nil {
			return marker
		}
		name := varPattern.FindStringSubmatch(marker)[1]
		v, err := r.resolveKey(name)
		if err != nil {
			expandErr = err
			return marker
		}
		switch v.(type) {
		case map[string]any, []any:
			expandErr = fmt.Errorf("%w: variable ${%s} expands to a non-scalar inside a string",
				domain.ErrInvalidConfiguration, name)
			return marker
		}
		return fmt.Sprintf("%v", v)
	})
	if expandErr != nil {
		return nil, expandErr
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
