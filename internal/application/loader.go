package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// LoadOptions names the layered configuration inputs in precedence
// order: base sources < secrets overlay < CLI overrides. The three
// layers separate version-controlled structure, non-committed secrets,
// and ephemeral experiment overrides.
type LoadOptions struct {
	// BaseSources are YAML file paths merged left to right, with later
	// files overriding earlier ones at matching leaf paths.
	BaseSources []string

	// OverlaySource is an optional secrets/environment YAML file merged
	// over every base source. Empty means no overlay.
	OverlaySource string

	// Overrides are dotted-path key=value assignments applied last,
	// e.g. "policy.model.vllm.port=8000". Values are parsed as YAML
	// scalars so numbers and booleans keep their types.
	Overrides []string
}

// Loader merges, resolves, and validates layered configuration into an
// immutable ResolvedConfig. Identical input layers resolve to the same
// cached configuration, so concurrent components starting from the same
// sources share one tree and one set of auto-assigned ports.
type Loader struct {
	// validator checks service reference shape and declaration basics.
	validator *validator.Validate
	// cache stores resolved configurations indexed by the SHA256 hash
	// of the merged tree. Cached configs must not be mutated.
	cache   map[string]*ResolvedConfig
	cacheMu sync.RWMutex
	// sf prevents duplicate resolution when multiple goroutines load
	// the same configuration simultaneously.
	sf singleflight.Group
}

// NewLoader creates a configuration loader with an empty cache.
func NewLoader() *Loader {
	return &Loader{
		validator: newConfigValidator(),
		cache:     make(map[string]*ResolvedConfig),
	}
}

// Load runs the full pipeline: merge all layers, resolve ${name}
// variables, and validate service declarations and references.
// Any failure is fatal and names the offending source, key, or
// reference; a bad config never starts a run.
func (l *Loader) Load(opts LoadOptions) (*ResolvedConfig, error) {
	tree, err := l.LoadAndMerge(opts.BaseSources, opts.OverlaySource, opts.Overrides)
	if err != nil {
		return nil, err
	}
	return l.resolve(tree)
}

// resolve runs variable resolution and validation over a merged tree,
// deduplicating concurrent loads of the same tree through the cache.
func (l *Loader) resolve(tree Tree) (*ResolvedConfig, error) {
	hash, err := treeHash(tree)
	if err != nil {
		return nil, err
	}

	v, err, _ := l.sf.Do(hash, func() (any, error) {
		if cfg, ok := l.cachedConfig(hash); ok {
			return cfg, nil
		}

		resolved, err := ResolveVariables(tree)
		if err != nil {
			return nil, err
		}

		cfg, err := l.Validate(resolved)
		if err != nil {
			return nil, err
		}

		l.cacheConfig(hash, cfg)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResolvedConfig), nil
}

// LoadBytes resolves a configuration from raw YAML, the form the head
// server serves at /v1/config. The served tree carries the ports the
// head process assigned, so validation here binds to those endpoints
// instead of probing fresh ones.
func (l *Loader) LoadBytes(data []byte) (*ResolvedConfig, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: parse fetched configuration: %v",
			domain.ErrInvalidConfiguration, err)
	}
	if tree == nil {
		tree = make(map[string]any)
	}
	return l.resolve(Tree(tree))
}

// LoadAndMerge reads every source and produces one merged tree without
// resolving variables. Merge order is base₁ < base₂ < … < overlay < CLI
// overrides; the right side wins on scalar conflicts at matching paths
// while mapping keys from both sides are preserved.
func (l *Loader) LoadAndMerge(baseSources []string, overlaySource string, overrides []string) (Tree, error) {
	merged := make(Tree)

	for _, src := range baseSources {
		layer, err := loadTreeFile(src)
		if err != nil {
			return nil, err
		}
		merged = MergeTrees(merged, layer)
	}

	if overlaySource != "" {
		layer, err := loadTreeFile(overlaySource)
		if err != nil {
			return nil, err
		}
		merged = MergeTrees(merged, layer)
	}

	for _, ov := range overrides {
		layer, err := overrideTree(ov)
		if err != nil {
			return nil, err
		}
		merged = MergeTrees(merged, layer)
	}

	return merged, nil
}

// loadTreeFile parses one YAML source into a tree, attributing parse
// failures to the source path.
func loadTreeFile(path string) (Tree, error) {
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read config source %s: %v",
			domain.ErrInvalidConfiguration, cleanPath, err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: parse config source %s: %v",
			domain.ErrInvalidConfiguration, cleanPath, err)
	}
	if tree == nil {
		tree = make(map[string]any)
	}
	return Tree(tree), nil
}

// overrideTree expands one dotted-path key=value assignment into a
// single-leaf tree suitable for merging over the base layers.
func overrideTree(assignment string) (Tree, error) {
	key, rawValue, ok := strings.Cut(assignment, "=")
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: override %q is not of the form path.to.key=value",
			domain.ErrInvalidConfiguration, assignment)
	}

	// Parse the value as a YAML scalar so 8000 stays an int and true a bool.
	var value any
	if err := yaml.Unmarshal([]byte(rawValue), &value); err != nil {
		return nil, fmt.Errorf("%w: override %q value: %v",
			domain.ErrInvalidConfiguration, assignment, err)
	}

	segments := strings.Split(key, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: override %q has an empty path segment",
				domain.ErrInvalidConfiguration, assignment)
		}
	}

	leaf := value
	for i := len(segments) - 1; i >= 0; i-- {
		leaf = map[string]any{segments[i]: leaf}
	}
	return Tree(leaf.(map[string]any)), nil
}

// treeHash computes the SHA256 of the canonical YAML encoding, so
// semantically identical trees hash identically regardless of the key
// order of their sources.
func treeHash(tree Tree) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(tree)); err != nil {
		return "", fmt.Errorf("encode config for hashing: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func (l *Loader) cachedConfig(hash string) (*ResolvedConfig, bool) {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	cfg, ok := l.cache[hash]
	return cfg, ok
}

func (l *Loader) cacheConfig(hash string, cfg *ResolvedConfig) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache[hash] = cfg
}

// ClearCache drops all cached configurations, forcing subsequent loads
// to resolve from source again.
func (l *Loader) ClearCache() {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache = make(map[string]*ResolvedConfig)
}
