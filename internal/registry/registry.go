// Package registry manages role descriptors for the developer CLI.
//
// A registry file is YAML: a versioned list of role descriptors, each
// naming a role implementation (its kind, entrypoint, and the tools it may
// use). The CLI scaffolds new descriptors, validates registries, and
// renders previews; nothing here touches the invocation bridge at runtime.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/playbookd/internal/roles"
)

// Errors for registry operations.
var (
	ErrInvalidName       = errors.New("invalid name: must be alphanumeric with hyphens/underscores")
	ErrPathTraversal     = errors.New("path traversal detected")
	ErrDuplicateName     = errors.New("duplicate descriptor name")
	ErrUnknownRole       = errors.New("unknown role kind")
	ErrRegistryCorrupted = errors.New("registry file corrupted")
)

// namePattern validates descriptor names.
// Allows alphanumeric, hyphens, underscores, and dots.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Descriptor describes one registered role implementation.
type Descriptor struct {
	Name        string    `yaml:"name"`
	Version     string    `yaml:"version"`
	Role        string    `yaml:"role"` // producer, critic, or curator
	Description string    `yaml:"description,omitempty"`
	Entrypoint  string    `yaml:"entrypoint"`
	Tools       []string  `yaml:"tools,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at"`
}

// Validate checks one descriptor for structural problems.
func (d *Descriptor) Validate() error {
	if err := ValidateName(d.Name); err != nil {
		return fmt.Errorf("descriptor %q: %w", d.Name, err)
	}
	switch roles.Name(d.Role) {
	case roles.RoleProducer, roles.RoleCritic, roles.RoleCurator:
	default:
		return fmt.Errorf("descriptor %q: %w: %q", d.Name, ErrUnknownRole, d.Role)
	}
	if d.Entrypoint == "" {
		return fmt.Errorf("descriptor %q: entrypoint must not be empty", d.Name)
	}
	if d.Version == "" {
		return fmt.Errorf("descriptor %q: version must not be empty", d.Name)
	}
	return nil
}

// document is the persisted registry shape.
type document struct {
	Version     int           `yaml:"version"`
	Descriptors []*Descriptor `yaml:"descriptors"`
}

// Registry holds role descriptors loaded from a YAML file.
type Registry struct {
	mu   sync.RWMutex
	path string
	doc  document
}

// Open loads a registry file, creating an empty registry when the file
// does not exist yet.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path: path,
		doc:  document{Version: 1},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &r.doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRegistryCorrupted, path, err)
	}
	return r, nil
}

// ValidateName checks if a name is safe for filesystem paths.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: name too long (max 255)", ErrInvalidName)
	}
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}

	if name == "." || name == ".." {
		return ErrPathTraversal
	}
	for _, c := range name {
		if c == '/' || c == '\\' || c == '\x00' {
			return ErrPathTraversal
		}
	}
	if filepath.Clean(name) != name {
		return ErrPathTraversal
	}

	return nil
}

// Descriptors returns the descriptors sorted by name.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.doc.Descriptors))
	copy(out, r.doc.Descriptors)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the descriptor with the given name, or nil.
func (r *Registry) Get(name string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.doc.Descriptors {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Add validates a descriptor and appends it. Names are unique.
func (r *Registry) Add(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.doc.Descriptors {
		if existing.Name == d.Name {
			return fmt.Errorf("%w: %q", ErrDuplicateName, d.Name)
		}
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	r.doc.Descriptors = append(r.doc.Descriptors, d)
	return nil
}

// Validate checks every descriptor plus registry-level invariants.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.doc.Descriptors))
	for _, d := range r.doc.Descriptors {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// Save writes the registry back to its file.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := yaml.Marshal(&r.doc)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create registry directory: %w", err)
		}
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("write registry %s: %w", r.path, err)
	}
	return nil
}

// Scaffold builds a descriptor skeleton for a new role implementation.
func Scaffold(name string, role roles.Name) *Descriptor {
	return &Descriptor{
		Name:        name,
		Version:     "0.1.0",
		Role:        string(role),
		Description: fmt.Sprintf("%s role implementation", role),
		Entrypoint:  fmt.Sprintf("./roles/%s/main.go", name),
		Tools:       []string{"read", "search"},
	}
}

// Preview renders a human-readable listing of the registry.
func (r *Registry) Preview() string {
	descriptors := r.Descriptors()
	if len(descriptors) == 0 {
		return "(registry is empty)\n"
	}

	var sb strings.Builder
	for _, d := range descriptors {
		fmt.Fprintf(&sb, "%s v%s (%s)\n", d.Name, d.Version, d.Role)
		if d.Description != "" {
			fmt.Fprintf(&sb, "  %s\n", d.Description)
		}
		fmt.Fprintf(&sb, "  entrypoint: %s\n", d.Entrypoint)
		if len(d.Tools) > 0 {
			fmt.Fprintf(&sb, "  tools: %s\n", strings.Join(d.Tools, ", "))
		}
	}
	return sb.String()
}
