package application

import (
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// DefaultHeadServerPort is used when no head_server block is declared.
const DefaultHeadServerPort = 11000

// defaultHost is the bind host when neither the declaration nor the
// default_host key provides one.
const defaultHost = "127.0.0.1"

// Settings keys with reserved meaning inside every declaration.
const (
	settingsHostKey = "host"
	settingsPortKey = "port"
)

// newConfigValidator builds the struct validator used on service
// references and endpoints parsed out of the tree.
func newConfigValidator() *validator.Validate {
	return validator.New()
}

// Validate confirms every service reference in the tree targets a
// declared service, checks required fields per category, and populates
// defaults for omitted hosts and ports. It reports every invalid
// reference and missing field found, not just the first, to minimize
// fix-iterate cycles. The returned configuration is immutable.
func (l *Loader) Validate(tree Tree) (*ResolvedConfig, error) {
	verr := domain.NewValidationError("configuration")
	out := tree.Clone()

	host := defaultHost
	if v, ok := out[DefaultHostKey]; ok {
		s, isString := v.(string)
		if !isString {
			verr.Addf("%s must be a string, got %T", DefaultHostKey, v)
		} else {
			host = s
		}
	}

	head := HostPort{Host: host, Port: DefaultHeadServerPort}
	if v, ok := out[HeadServerKey]; ok {
		m, isMap := v.(map[string]any)
		if !isMap {
			verr.Addf("%s must be a mapping, got %T", HeadServerKey, v)
		} else {
			if h, ok := m[settingsHostKey].(string); ok {
				head.Host = h
			}
			if p, ok := asInt(m[settingsPortKey]); ok {
				head.Port = p
			}
			m[settingsHostKey] = head.Host
			m[settingsPortKey] = head.Port
		}
	} else {
		out[HeadServerKey] = map[string]any{
			settingsHostKey: head.Host,
			settingsPortKey: head.Port,
		}
	}
	if err := l.validator.Struct(head); err != nil {
		verr.Addf("%s: %v", HeadServerKey, err)
	}

	services := make(map[string]ServiceDecl)
	for _, name := range sortedKeys(out) {
		if _, reserved := reservedTopLevelKeys[name]; reserved {
			continue
		}
		raw, isMap := out[name].(map[string]any)
		if !isMap {
			// Top-level scalars and sequences are interpolation
			// variables, not declarations.
			continue
		}

		decl, ok := l.parseDeclaration(name, raw, host, verr)
		if !ok {
			continue
		}
		services[name] = decl
	}

	// Reference integrity across the whole tree: every reference must
	// point at a declaration with the matching category.
	for _, name := range sortedKeys(services) {
		decl := services[name]
		for _, key := range sortedKeys(decl.Refs) {
			ref := decl.Refs[key]
			target, declared := services[ref.Name]
			switch {
			case !declared:
				verr.Addf("%s.%s references undeclared service %s", name, key, ref)
			case target.Category != ref.Category:
				verr.Addf("%s.%s references %s but %q is declared as category %s",
					name, key, ref, ref.Name, target.Category)
			}
		}
	}

	if verr.HasErrors() {
		return nil, verr
	}

	return &ResolvedConfig{tree: out, services: services, head: head}, nil
}

// parseDeclaration interprets one top-level mapping as a service
// declaration with the three-level identity name.category.kind,
// assigning endpoint defaults and collecting every shape error.
func (l *Loader) parseDeclaration(name string, raw map[string]any, host string, verr *domain.ValidationError) (ServiceDecl, bool) {
	if len(raw) != 1 {
		verr.Addf("service %q must have exactly one category key, found %d", name, len(raw))
		return ServiceDecl{}, false
	}

	var category string
	for k := range raw {
		category = k
	}
	switch category {
	case CategoryModel, CategoryResource, CategoryAgent:
	default:
		verr.Addf("service %q has unknown category %q", name, category)
		return ServiceDecl{}, false
	}

	kinds, isMap := raw[category].(map[string]any)
	if !isMap || len(kinds) != 1 {
		verr.Addf("service %q category %q must hold exactly one implementation kind", name, category)
		return ServiceDecl{}, false
	}

	var kind string
	for k := range kinds {
		kind = k
	}
	settings, isMap := kinds[kind].(map[string]any)
	if !isMap {
		if kinds[kind] == nil {
			settings = make(map[string]any)
			kinds[kind] = settings
		} else {
			verr.Addf("service %q settings block must be a mapping", name)
			return ServiceDecl{}, false
		}
	}

	endpoint := HostPort{Host: host}
	if h, ok := settings[settingsHostKey].(string); ok {
		endpoint.Host = h
	}
	if p, ok := asInt(settings[settingsPortKey]); ok {
		endpoint.Port = p
	}
	autoAssigned := endpoint.Port == 0
	if autoAssigned {
		port, err := findFreePort(endpoint.Host)
		if err != nil {
			verr.Addf("service %q: assign port: %v", name, err)
			return ServiceDecl{}, false
		}
		endpoint.Port = port
	}
	// Write assigned values back so the served tree reflects reality.
	settings[settingsHostKey] = endpoint.Host
	settings[settingsPortKey] = endpoint.Port

	if err := l.validator.Struct(endpoint); err != nil {
		verr.Addf("service %q endpoint: %v", name, err)
		return ServiceDecl{}, false
	}

	decl := ServiceDecl{
		Name:             name,
		Category:         category,
		Kind:             kind,
		Endpoint:         endpoint,
		AutoAssignedPort: autoAssigned,
		Settings:         settings,
		Refs:             make(map[string]ServiceRef),
	}
	l.collectRefs(name, "", settings, decl.Refs, verr)
	l.checkRequiredFields(decl, verr)

	return decl, true
}

// collectRefs walks a settings block and gathers every service
// reference: a mapping with exactly the keys category and name.
func (l *Loader) collectRefs(service, prefix string, node map[string]any, refs map[string]ServiceRef, verr *domain.ValidationError) {
	for _, key := range sortedKeys(node) {
		child, isMap := node[key].(map[string]any)
		if !isMap {
			continue
		}

		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if isRefShape(child) {
			ref := ServiceRef{
				Category: child["category"].(string),
				Name:     child["name"].(string),
			}
			if err := l.validator.Struct(ref); err != nil {
				verr.Addf("%s.%s: invalid service reference: %v", service, path, err)
				continue
			}
			refs[path] = ref
			continue
		}
		l.collectRefs(service, path, child, refs, verr)
	}
}

// isRefShape reports whether a mapping is a service reference literal.
func isRefShape(m map[string]any) bool {
	if len(m) != 2 {
		return false
	}
	_, hasCategory := m["category"].(string)
	_, hasName := m["name"].(string)
	return hasCategory && hasName
}

// Settings keys agents use to name their collaborators.
const (
	ModelServerRefKey    = "model_server"
	ResourceServerRefKey = "resources_server"
)

// checkRequiredFields enforces the per-category required settings.
func (l *Loader) checkRequiredFields(decl ServiceDecl, verr *domain.ValidationError) {
	switch decl.Category {
	case CategoryModel:
		if s, ok := decl.Settings["provider"].(string); !ok || s == "" {
			verr.Addf("model service %q requires a provider setting", decl.Name)
		}
	case CategoryAgent:
		if ref, ok := decl.Refs[ModelServerRefKey]; !ok {
			verr.Addf("agent %q requires a %s reference", decl.Name, ModelServerRefKey)
		} else if ref.Category != CategoryModel {
			verr.Addf("agent %q %s must reference category model, got %s",
				decl.Name, ModelServerRefKey, ref.Category)
		}
		if ref, ok := decl.Refs[ResourceServerRefKey]; !ok {
			verr.Addf("agent %q requires a %s reference", decl.Name, ResourceServerRefKey)
		} else if ref.Category != CategoryResource {
			verr.Addf("agent %q %s must reference category resource, got %s",
				decl.Name, ResourceServerRefKey, ref.Category)
		}
	}
}

// asInt coerces YAML-decoded numeric values to int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// findFreePort binds to port 0 and reports the kernel-assigned port.
// The listener is closed immediately; the service binds it for real at
// startup, the same reservation strategy the rest of the stack uses.
func findFreePort(host string) (int, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return 0, fmt.Errorf("probe free port on %s: %w", host, err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
