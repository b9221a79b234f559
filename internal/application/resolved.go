package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// ServiceRef is a typed pointer from one service declaration to
// another: a category plus an instance name. References are discovered
// structurally during validation, so a dangling reference fails at
// resolve time instead of surfacing as a connection error mid-run.
type ServiceRef struct {
	Category string `yaml:"category" json:"category" validate:"required,oneof=model resource agent"`
	Name     string `yaml:"name" json:"name" validate:"required"`
}

func (r ServiceRef) String() string {
	return fmt.Sprintf("%s/%s", r.Category, r.Name)
}

// HostPort is a network endpoint in the configuration tree.
type HostPort struct {
	Host string `yaml:"host" json:"host" validate:"required"`
	Port int    `yaml:"port" json:"port" validate:"required,min=1,max=65535"`
}

// BaseURL renders the endpoint as an http base URL.
func (hp HostPort) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", hp.Host, hp.Port)
}

// ServiceDecl is one validated service declaration: the three-level
// identity <instance name>.<category>.<implementation kind>, the bound
// or auto-assigned endpoint, the implementation-specific settings
// block, and the references it holds to other services.
type ServiceDecl struct {
	// Name is the globally unique instance name.
	Name string
	// Category is one of model, resource, or agent.
	Category string
	// Kind names the implementation within the category.
	Kind string
	// Endpoint is where the service binds; auto-assigned when the
	// declaration omits host or port.
	Endpoint HostPort
	// AutoAssignedPort records that the port was kernel-assigned during
	// validation rather than declared. An auto-assigned port is only
	// meaningful inside the process that performed the assignment;
	// other processes must learn it from the head server.
	AutoAssignedPort bool
	// Settings holds the remaining implementation-specific keys.
	Settings map[string]any
	// Refs are the service references found inside Settings, each
	// keyed by the settings field that declared it.
	Refs map[string]ServiceRef
}

// BaseURL returns the declaration's http base URL.
func (d ServiceDecl) BaseURL() string { return d.Endpoint.BaseURL() }

// DecodeSettings unmarshals the settings block into a typed
// implementation config via a YAML round trip, so implementations keep
// using the same struct tags they use for files. Decoding is strict:
// after the reserved endpoint keys and service references are stripped,
// every remaining key must map to a field of out, so a typoed setting
// fails loudly instead of silently taking its default.
func (d ServiceDecl) DecodeSettings(out any) error {
	trimmed := make(map[string]any, len(d.Settings))
	for k, v := range d.Settings {
		if k == settingsHostKey || k == settingsPortKey {
			continue
		}
		if _, isRef := d.Refs[k]; isRef {
			continue
		}
		trimmed[k] = v
	}

	raw, err := yaml.Marshal(trimmed)
	if err != nil {
		return fmt.Errorf("encode settings for %s: %w", d.Name, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode settings for %s: %w", d.Name, err)
	}
	return nil
}

// Ref returns the reference stored under the given settings key.
func (d ServiceDecl) Ref(key string) (ServiceRef, bool) {
	ref, ok := d.Refs[key]
	return ref, ok
}

// ResolvedConfig is the immutable product of configuration resolution:
// the fully merged, variable-resolved tree plus the parsed service
// declarations. It is constructed once per process invocation and
// passed explicitly to every component that needs it.
type ResolvedConfig struct {
	tree     Tree
	services map[string]ServiceDecl
	head     HostPort
}

// Tree returns a deep copy of the resolved tree. Copying keeps the
// resolved configuration immutable even if callers mutate the result.
func (c *ResolvedConfig) Tree() Tree { return c.tree.Clone() }

// YAML renders the resolved tree, the representation the head server
// hands to independently started processes.
func (c *ResolvedConfig) YAML() ([]byte, error) { return c.tree.YAML() }

// Head returns the head server endpoint.
func (c *ResolvedConfig) Head() HostPort { return c.head }

// Service looks up a declaration by instance name.
func (c *ResolvedConfig) Service(name string) (ServiceDecl, bool) {
	d, ok := c.services[name]
	return d, ok
}

// ServiceByRef resolves a reference to its declaration, checking that
// the declared category matches the reference's.
func (c *ResolvedConfig) ServiceByRef(ref ServiceRef) (ServiceDecl, error) {
	d, ok := c.services[ref.Name]
	if !ok {
		return ServiceDecl{}, fmt.Errorf("%w: %s", domain.ErrServiceNotDeclared, ref)
	}
	if d.Category != ref.Category {
		return ServiceDecl{}, fmt.Errorf("%w: %s is declared as category %s",
			domain.ErrServiceNotDeclared, ref, d.Category)
	}
	return d, nil
}

// Declared reports the category of a declared instance name.
func (c *ResolvedConfig) Declared(name string) (string, bool) {
	d, ok := c.services[name]
	if !ok {
		return "", false
	}
	return d.Category, true
}

// Services returns every declaration sorted by instance name.
func (c *ResolvedConfig) Services() []ServiceDecl {
	out := make([]ServiceDecl, 0, len(c.services))
	for _, name := range sortedKeys(c.services) {
		out = append(out, c.services[name])
	}
	return out
}
