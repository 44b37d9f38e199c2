package flow

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed flows/*.yaml
var builtinFlows embed.FS

// Registry holds the known flows by kind.
type Registry struct {
	flows map[string]*Flow
}

// NewRegistry creates a registry from already compiled flows.
func NewRegistry(flows ...*Flow) (*Registry, error) {
	r := &Registry{flows: make(map[string]*Flow)}
	for _, f := range flows {
		if err := r.add(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadBuiltin returns a registry holding the flows shipped with the binary.
func LoadBuiltin() (*Registry, error) {
	r := &Registry{flows: make(map[string]*Flow)}
	if err := r.loadFS(builtinFlows, "flows"); err != nil {
		return nil, fmt.Errorf("loading built-in flows: %w", err)
	}
	return r, nil
}

// Load returns the built-in flows, overridden or extended by every *.yaml
// file in dir. An empty dir yields the built-ins only.
func Load(dir string) (*Registry, error) {
	r, err := LoadBuiltin()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return r, nil
	}
	if err := r.loadFS(os.DirFS(dir), "."); err != nil {
		return nil, fmt.Errorf("loading flows from %s: %w", dir, err)
	}
	return r, nil
}

func (r *Registry) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := filepath.ToSlash(filepath.Join(dir, e.Name()))
		f, err := fsys.Open(name)
		if err != nil {
			return err
		}
		fl, err := Parse(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		r.flows[fl.Kind] = fl
	}
	return nil
}

func (r *Registry) add(f *Flow) error {
	if _, dup := r.flows[f.Kind]; dup {
		return fmt.Errorf("duplicate flow kind %q", f.Kind)
	}
	r.flows[f.Kind] = f
	return nil
}

// Parse decodes and compiles one flow definition.
func Parse(rd io.Reader) (*Flow, error) {
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	var f Flow
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding flow: %w", err)
	}
	if err := f.compile(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Lookup returns the flow of the given kind.
func (r *Registry) Lookup(kind string) (*Flow, bool) {
	f, ok := r.flows[kind]
	return f, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.flows))
	for k := range r.flows {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Flows returns every registered flow ordered by kind.
func (r *Registry) Flows() []*Flow {
	out := make([]*Flow, 0, len(r.flows))
	for _, k := range r.Kinds() {
		out = append(out, r.flows[k])
	}
	return out
}
