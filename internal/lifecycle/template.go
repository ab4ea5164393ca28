package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	docker "github.com/kandev/orchestrator/internal/container"
	"github.com/kandev/orchestrator/internal/store"
)

// templateDefinition is the YAML shape of one entry in the catalog file.
// Templates browsing/CRUD is explicitly out of scope for the core; this
// resolver only needs read access to whatever the deployer (out of scope)
// maintains the file as.
type templateDefinition struct {
	Image            string `yaml:"image"`
	Kind             string `yaml:"kind"`
	SharedFolderMode string `yaml:"sharedFolderMode"`
	Mounts           []struct {
		Source   string `yaml:"source"`
		Target   string `yaml:"target"`
		ReadOnly bool   `yaml:"readOnly"`
	} `yaml:"mounts"`
}

// CatalogResolver implements Template by reading a static YAML catalog file
// mapping a template reference to its image, shared-folder mounts, and
// runtime kind. It is re-read on every call so an operator editing the
// catalog file does not require a control-plane restart.
type CatalogResolver struct {
	path string
	mu   sync.Mutex
}

// NewCatalogResolver builds a Template backed by the YAML file at path.
func NewCatalogResolver(path string) *CatalogResolver {
	return &CatalogResolver{path: path}
}

// Resolve loads the catalog file and returns the entry named by templateRef.
func (c *CatalogResolver) Resolve(templateRef string) (TemplateSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return TemplateSpec{}, fmt.Errorf("lifecycle: read template catalog %q: %w", c.path, err)
	}
	var catalog map[string]templateDefinition
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return TemplateSpec{}, fmt.Errorf("lifecycle: parse template catalog %q: %w", c.path, err)
	}
	def, ok := catalog[templateRef]
	if !ok {
		return TemplateSpec{}, fmt.Errorf("lifecycle: unknown template %q", templateRef)
	}

	kind := store.RuntimeKindSandboxedLLM
	if def.Kind == string(store.RuntimeKindShell) {
		kind = store.RuntimeKindShell
	}

	spec := TemplateSpec{Image: def.Image, Kind: kind}
	for _, m := range def.Mounts {
		spec.Mounts = append(spec.Mounts, docker.MountConfig{
			Source:   expandMountSource(filepath.Dir(c.path), m.Source),
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return spec, nil
}

func expandMountSource(catalogDir, source string) string {
	if filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(catalogDir, source)
}
