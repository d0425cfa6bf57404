// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ledgerworks/modkernel/pkg/cueutil"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// FormatCUE is a CUE catalog validated against the embedded #Catalog schema.
	FormatCUE Format = "cue"
	// FormatTOML is a TOML catalog ([[modules]] tables).
	FormatTOML Format = "toml"
	// FormatYAML is a YAML catalog.
	FormatYAML Format = "yaml"
)

//go:embed catalog_schema.cue
var catalogSchema []byte

// ErrUnknownFormat is returned when a catalog file extension is not recognized.
var ErrUnknownFormat = errors.New("unknown catalog format")

type (
	// Format identifies a catalog file encoding.
	Format string

	// Catalog is the ordered, duplicate-free set of manifests known at boot.
	// Declaration order is preserved; lookups by id are O(1).
	Catalog struct {
		manifests []Manifest
		index     map[ModuleID]int
	}

	// fileCatalog is the on-disk shape shared by every catalog format.
	fileCatalog struct {
		Modules []fileManifest `json:"modules" yaml:"modules" toml:"modules"`
	}

	fileManifest struct {
		ID         string          `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
		Version    string          `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
		DependsOn  []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty" toml:"depends_on,omitempty"`
		Activation *ActivationSpec `json:"activation,omitempty" yaml:"activation,omitempty" toml:"activation,omitempty"`
		Hooks      *fileHooks      `json:"hooks,omitempty" yaml:"hooks,omitempty" toml:"hooks,omitempty"`
		Exports    map[string]any  `json:"exports,omitempty" yaml:"exports,omitempty" toml:"exports,omitempty"`
	}

	fileHooks struct {
		Provide []string `json:"provide,omitempty" yaml:"provide,omitempty" toml:"provide,omitempty"`
		Consume []string `json:"consume,omitempty" yaml:"consume,omitempty" toml:"consume,omitempty"`
	}
)

// FormatFromPath picks the catalog format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q (expected .cue, .toml, .yaml or .yml)", ErrUnknownFormat, filepath.Ext(path))
	}
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{index: make(map[ModuleID]int)}
}

// Add validates m and appends it. A malformed manifest or a duplicate id yields a
// *ConfigurationError and leaves the catalog unchanged.
func (c *Catalog) Add(m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, exists := c.index[m.ID]; exists {
		return &ConfigurationError{ModuleID: m.ID, Reason: "duplicate module id"}
	}
	c.index[m.ID] = len(c.manifests)
	c.manifests = append(c.manifests, m.Clone())
	return nil
}

// Get returns the manifest registered under id.
func (c *Catalog) Get(id ModuleID) (Manifest, bool) {
	i, ok := c.index[id]
	if !ok {
		return Manifest{}, false
	}
	return c.manifests[i].Clone(), true
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id ModuleID) bool {
	_, ok := c.index[id]
	return ok
}

// Len returns the number of manifests.
func (c *Catalog) Len() int {
	return len(c.manifests)
}

// Manifests returns copies of all manifests in declaration order.
func (c *Catalog) Manifests() []Manifest {
	out := make([]Manifest, len(c.manifests))
	for i, m := range c.manifests {
		out[i] = m.Clone()
	}
	return out
}

// IDs returns the module ids in declaration order.
func (c *Catalog) IDs() []ModuleID {
	ids := make([]ModuleID, len(c.manifests))
	for i, m := range c.manifests {
		ids[i] = m.ID
	}
	return ids
}

// LoadCatalog reads and parses the catalog file at path. The format follows the
// file extension. See ParseCatalog for the error contract.
func LoadCatalog(path string) (*Catalog, []error, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data, format, path)
}

// ParseCatalog decodes a catalog. The returned error is non-nil only when the
// file as a whole cannot be decoded. Per-manifest problems (malformed entries,
// duplicate ids) are returned in the []error slice as *ConfigurationError values
// and the offending manifests are left out of the catalog.
func ParseCatalog(data []byte, format Format, filename string) (*Catalog, []error, error) {
	fc, err := decodeCatalog(data, format, filename)
	if err != nil {
		return nil, nil, err
	}

	cat := NewCatalog()
	var configErrs []error
	for i, fm := range fc.Modules {
		source := fmt.Sprintf("%s: modules[%d]", filename, i)
		if fm.Activation != nil {
			if err := fm.Activation.Validate(); err != nil {
				configErrs = append(configErrs, &ConfigurationError{
					ModuleID:    ModuleID(fm.ID),
					Source:      source,
					Reason:      "malformed manifest",
					FieldErrors: []error{fmt.Errorf("activation: %w", err)},
				})
				continue
			}
		}
		if err := cat.Add(fm.manifest()); err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				cfgErr.Source = source
			}
			configErrs = append(configErrs, err)
		}
	}
	return cat, configErrs, nil
}

// EncodeCatalog renders manifests in the requested format. The output parses
// back into the same manifests.
func EncodeCatalog(ms []Manifest, format Format) ([]byte, error) {
	fc := fileCatalog{Modules: make([]fileManifest, 0, len(ms))}
	for _, m := range ms {
		fc.Modules = append(fc.Modules, toFileManifest(m))
	}
	switch format {
	case FormatCUE:
		return cueutil.Encode(fc)
	case FormatTOML:
		return toml.Marshal(fc)
	case FormatYAML:
		return yaml.Marshal(fc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func decodeCatalog(data []byte, format Format, filename string) (*fileCatalog, error) {
	switch format {
	case FormatCUE:
		return cueutil.Decode[fileCatalog](catalogSchema, "#Catalog", data, cueutil.WithFilename(filename))
	case FormatTOML:
		if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, filename); err != nil {
			return nil, err
		}
		var fc fileCatalog
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		return &fc, nil
	case FormatYAML:
		if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, filename); err != nil {
			return nil, err
		}
		var fc fileCatalog
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		return &fc, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func (fm fileManifest) manifest() Manifest {
	m := Manifest{
		ID:      ModuleID(fm.ID),
		Version: fm.Version,
		Exports: fm.Exports,
	}
	for _, dep := range fm.DependsOn {
		m.DependsOn = append(m.DependsOn, ModuleID(dep))
	}
	if fm.Activation != nil {
		m.Activation = fm.Activation.Normalize()
	} else {
		m.Activation = AlwaysOn()
	}
	if fm.Hooks != nil {
		for _, p := range fm.Hooks.Provide {
			m.Provides = append(m.Provides, HookPointID(p))
		}
		for _, p := range fm.Hooks.Consume {
			m.Consumes = append(m.Consumes, EventPattern(p))
		}
	}
	return m
}

func toFileManifest(m Manifest) fileManifest {
	spec := m.Activation.Spec()
	fm := fileManifest{
		ID:         string(m.ID),
		Version:    m.Version,
		Activation: &spec,
		Exports:    m.Exports,
	}
	for _, dep := range m.DependsOn {
		fm.DependsOn = append(fm.DependsOn, string(dep))
	}
	if len(m.Provides) > 0 || len(m.Consumes) > 0 {
		fm.Hooks = &fileHooks{}
		for _, p := range m.Provides {
			fm.Hooks.Provide = append(fm.Hooks.Provide, string(p))
		}
		for _, p := range m.Consumes {
			fm.Hooks.Consume = append(fm.Hooks.Consume, string(p))
		}
	}
	return fm
}

// SortedIDs returns the catalog ids in lexical order.
func (c *Catalog) SortedIDs() []ModuleID {
	ids := c.IDs()
	slices.Sort(ids)
	return ids
}
