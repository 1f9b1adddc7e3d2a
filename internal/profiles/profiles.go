// Package profiles holds the registry of generation model profiles and the
// typed parameter schema of each model family. The registry is loaded once at
// startup and validated before the server accepts requests.
package profiles

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default_models.yaml
var defaultModels []byte

// ErrInvalidParameter is returned when a generation payload does not satisfy
// its family schema.
var ErrInvalidParameter = errors.New("invalid generation parameter")

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// ParamSpec describes one parameter a model family accepts.
type ParamSpec struct {
	Type     ParamType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required,omitempty"`
	Min      *float64  `yaml:"min" json:"min,omitempty"`
	Max      *float64  `yaml:"max" json:"max,omitempty"`
	Enum     []string  `yaml:"enum" json:"enum,omitempty"`
}

type Family struct {
	Name   string               `yaml:"-" json:"name"`
	Params map[string]ParamSpec `yaml:"params" json:"params"`
}

// Profile is a concrete provider model together with its segmentation
// constraints and pricing.
type Profile struct {
	ID                     string         `yaml:"id" json:"id"`
	Family                 string         `yaml:"family" json:"family"`
	Version                string         `yaml:"version" json:"version,omitempty"`
	DisplayName            string         `yaml:"display_name" json:"display_name"`
	SupportsReferenceImage bool           `yaml:"supports_reference_image" json:"supports_reference_image"`
	PromptParam            string         `yaml:"prompt_param" json:"-"`
	ReferenceParam         string         `yaml:"reference_param" json:"-"`
	SeedParam              string         `yaml:"seed_param" json:"-"`
	DurationParam          string         `yaml:"duration_param" json:"-"`
	UnitDuration           int            `yaml:"unit_duration" json:"unit_duration"`
	MinDuration            int            `yaml:"min_duration" json:"min_duration"`
	MaxDuration            int            `yaml:"max_duration" json:"max_duration"`
	GenerationTime         int            `yaml:"generation_time" json:"generation_time"`
	CostPerSecond          float64        `yaml:"cost_per_second" json:"cost_per_second"`
	Defaults               map[string]any `yaml:"defaults" json:"defaults,omitempty"`
}

type document struct {
	Default  string            `yaml:"default"`
	Families map[string]Family `yaml:"families"`
	Profiles []Profile         `yaml:"profiles"`
}

// Registry is the immutable set of profiles known to the process.
type Registry struct {
	families  map[string]Family
	profiles  map[string]*Profile
	order     []string
	defaultID string
}

// Load reads the registry from path, or the embedded defaults when path is
// empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Parse(defaultModels)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profiles: read %s: %w", path, err)
	}
	reg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("profiles: %s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes and validates a registry document.
func Parse(data []byte) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("profiles: document is empty")
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("profiles: decode: %w", err)
	}
	return newRegistry(doc)
}

func newRegistry(doc document) (*Registry, error) {
	if len(doc.Profiles) == 0 {
		return nil, fmt.Errorf("profiles: no profiles defined")
	}

	r := &Registry{
		families: make(map[string]Family, len(doc.Families)),
		profiles: make(map[string]*Profile, len(doc.Profiles)),
	}

	for name, fam := range doc.Families {
		fam.Name = name
		for param, spec := range fam.Params {
			switch spec.Type {
			case TypeString, TypeInteger, TypeNumber, TypeBoolean:
			default:
				return nil, fmt.Errorf("profiles: family %s: param %s has unknown type %q", name, param, spec.Type)
			}
		}
		r.families[name] = fam
	}

	for i := range doc.Profiles {
		p := doc.Profiles[i]
		if p.ID == "" {
			return nil, fmt.Errorf("profiles: profile %d has no id", i)
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, fmt.Errorf("profiles: duplicate profile %s", p.ID)
		}
		if err := r.normalize(&p); err != nil {
			return nil, fmt.Errorf("profiles: %s: %w", p.ID, err)
		}
		r.profiles[p.ID] = &p
		r.order = append(r.order, p.ID)
	}

	r.defaultID = doc.Default
	if r.defaultID == "" {
		r.defaultID = r.order[0]
	}
	if _, ok := r.profiles[r.defaultID]; !ok {
		return nil, fmt.Errorf("profiles: default profile %s is not defined", r.defaultID)
	}
	return r, nil
}

func (r *Registry) normalize(p *Profile) error {
	fam, ok := r.families[p.Family]
	if !ok {
		return fmt.Errorf("unknown family %q", p.Family)
	}
	if p.PromptParam == "" {
		p.PromptParam = "prompt"
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	if p.SupportsReferenceImage && p.ReferenceParam == "" {
		return fmt.Errorf("reference_param is required when reference images are supported")
	}
	for _, name := range []string{p.PromptParam, p.ReferenceParam, p.SeedParam, p.DurationParam} {
		if name == "" {
			continue
		}
		if _, ok := fam.Params[name]; !ok {
			return fmt.Errorf("param %s is not declared by family %s", name, p.Family)
		}
	}
	if p.UnitDuration <= 0 || p.MinDuration <= 0 || p.MaxDuration <= 0 {
		return fmt.Errorf("unit, min and max durations must be positive")
	}
	if p.MinDuration > p.UnitDuration || p.UnitDuration > p.MaxDuration {
		return fmt.Errorf("durations must satisfy min <= unit <= max")
	}
	if p.CostPerSecond < 0 {
		return fmt.Errorf("cost_per_second must not be negative")
	}
	for name, v := range p.Defaults {
		spec, ok := fam.Params[name]
		if !ok {
			return fmt.Errorf("default %s is not declared by family %s", name, p.Family)
		}
		cv, err := coerce(name, spec, v)
		if err != nil {
			return err
		}
		p.Defaults[name] = cv
	}
	return nil
}

// Get returns the profile with the given id.
func (r *Registry) Get(id string) (*Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// Default returns the profile used when a request names none.
func (r *Registry) Default() *Profile {
	return r.profiles[r.defaultID]
}

// List returns profiles in declaration order.
func (r *Registry) List() []*Profile {
	out := make([]*Profile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// ParamNames returns the sorted whitelist of a profile's family.
func (r *Registry) ParamNames(p *Profile) []string {
	fam := r.families[p.Family]
	names := make([]string, 0, len(fam.Params))
	for name := range fam.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
