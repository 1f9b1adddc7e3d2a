package profiles

import (
	"fmt"
	"math"
	"slices"
	"strconv"
)

// UnitInput carries the unit-specific values merged over profile defaults.
type UnitInput struct {
	Prompt            string
	Seed              int64
	Duration          int
	ReferenceImageURL string
	Overrides         map[string]any
}

// BuildParameters produces the exact payload sent to the provider: profile
// defaults, then unit values and overrides, filtered to the family whitelist
// and checked against the family schema. The prompt always comes from the
// unit and cannot be overridden.
func (r *Registry) BuildParameters(p *Profile, in UnitInput) (map[string]any, error) {
	fam, ok := r.families[p.Family]
	if !ok {
		return nil, fmt.Errorf("%w: unknown family %q", ErrInvalidParameter, p.Family)
	}

	merged := make(map[string]any, len(p.Defaults)+len(in.Overrides)+4)
	for k, v := range p.Defaults {
		merged[k] = v
	}
	if p.SeedParam != "" {
		merged[p.SeedParam] = in.Seed
	}
	if p.DurationParam != "" && in.Duration > 0 {
		merged[p.DurationParam] = in.Duration
	}
	if p.SupportsReferenceImage && in.ReferenceImageURL != "" {
		merged[p.ReferenceParam] = in.ReferenceImageURL
	}
	for k, v := range in.Overrides {
		merged[k] = v
	}
	merged[p.PromptParam] = in.Prompt

	params := make(map[string]any, len(merged))
	for name, v := range merged {
		spec, ok := fam.Params[name]
		if !ok {
			continue
		}
		if v == nil {
			continue
		}
		cv, err := coerce(name, spec, v)
		if err != nil {
			return nil, err
		}
		params[name] = cv
	}

	for name, spec := range fam.Params {
		if !spec.Required {
			continue
		}
		v, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidParameter, name)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidParameter, name)
		}
	}
	return params, nil
}

// coerce checks v against spec and returns it in canonical form: int64 for
// integers, float64 for numbers.
func coerce(name string, spec ParamSpec, v any) (any, error) {
	switch spec.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidParameter, name)
		}
		if len(spec.Enum) > 0 && !slices.Contains(spec.Enum, s) {
			return nil, fmt.Errorf("%w: %s must be one of %v", ErrInvalidParameter, name, spec.Enum)
		}
		return s, nil

	case TypeInteger:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidParameter, name)
		}
		if err := checkRange(name, spec, f); err != nil {
			return nil, err
		}
		n := int64(f)
		if len(spec.Enum) > 0 && !slices.Contains(spec.Enum, strconv.FormatInt(n, 10)) {
			return nil, fmt.Errorf("%w: %s must be one of %v", ErrInvalidParameter, name, spec.Enum)
		}
		return n, nil

	case TypeNumber:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidParameter, name)
		}
		if err := checkRange(name, spec, f); err != nil {
			return nil, err
		}
		return f, nil

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameter, name)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s has unknown type %q", ErrInvalidParameter, name, spec.Type)
}

func checkRange(name string, spec ParamSpec, f float64) error {
	if spec.Min != nil && f < *spec.Min {
		return fmt.Errorf("%w: %s must be >= %v", ErrInvalidParameter, name, *spec.Min)
	}
	if spec.Max != nil && f > *spec.Max {
		return fmt.Errorf("%w: %s must be <= %v", ErrInvalidParameter, name, *spec.Max)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
