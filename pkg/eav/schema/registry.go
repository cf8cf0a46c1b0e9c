package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
)

// Registry holds the families and attribute types built from a Config
type Registry struct {
	types    map[string]eav.AttributeType
	families map[string]*Family
}

func NewRegistry(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, eaverrors.NewInvalidConfigurationError("no schema configuration")
	}

	r := &Registry{
		types:    builtinTypes(),
		families: map[string]*Family{},
	}

	for _, tc := range cfg.Types {
		if tc.Code == "" {
			return nil, eaverrors.NewInvalidConfigurationError("attribute types must have a code")
		}

		st, err := eav.ParseStorageType(tc.DatabaseType)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", tc.Code, err)
		}

		r.types[tc.Code] = NewAttributeType(tc.Code, st)
	}

	configs := map[string]FamilyConfig{}
	for _, fc := range cfg.Families {
		if fc.Code == "" {
			return nil, eaverrors.NewInvalidConfigurationError("families must have a code")
		}
		if _, ok := configs[fc.Code]; ok {
			return nil, eaverrors.NewInvalidConfigurationError(fmt.Sprintf("family %s is declared more than once", fc.Code))
		}
		configs[fc.Code] = fc
	}

	for _, fc := range cfg.Families {
		if _, err := r.resolve(fc.Code, configs, nil); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// resolve builds a family after its ancestors, failing on inheritance cycles
func (r *Registry) resolve(code string, configs map[string]FamilyConfig, path []string) (*Family, error) {
	if f, ok := r.families[code]; ok {
		return f, nil
	}

	if slices.Contains(path, code) {
		cycle := strings.Join(append(path, code), " -> ")
		return nil, eaverrors.NewInvalidConfigurationError("family inheritance cycle " + cycle)
	}

	fc, ok := configs[code]
	if !ok {
		return nil, eaverrors.NewUnknownFamilyError(code)
	}

	f, err := r.newFamily(fc)
	if err != nil {
		return nil, err
	}

	if fc.Parent != "" {
		parent, err := r.resolve(fc.Parent, configs, append(path, code))
		if err != nil {
			return nil, err
		}
		f.extend(parent)
	}

	if err := validate(f); err != nil {
		return nil, err
	}

	r.families[code] = f

	return f, nil
}

func (r *Registry) newFamily(fc FamilyConfig) (*Family, error) {
	f := &Family{
		code:           fc.Code,
		instantiable:   fc.IsInstantiable(),
		label:          fc.AttributeAsLabel,
		contextKeys:    slices.Clone(fc.ContextKeys),
		defaultContext: eav.Context{},
		attributes:     map[string]*Attribute{},
		order:          []string{},
	}

	for key, value := range fc.DefaultContext {
		f.defaultContext[key] = value
	}

	for _, ac := range fc.Attributes {
		if ac.Code == "" {
			return nil, eaverrors.NewInvalidConfigurationError(fmt.Sprintf("family %s has an attribute without code", fc.Code))
		}
		if _, ok := f.attributes[ac.Code]; ok {
			return nil, eaverrors.NewInvalidConfigurationError(fmt.Sprintf("attribute %s is declared more than once in family %s", ac.Code, fc.Code))
		}

		typeCode := ac.Type
		if typeCode == "" {
			typeCode = "string"
		}

		attributeType, ok := r.types[typeCode]
		if !ok {
			return nil, eaverrors.NewInvalidConfigurationError(fmt.Sprintf("attribute %s of family %s has unknown type %s", ac.Code, fc.Code, typeCode))
		}

		f.attributes[ac.Code] = &Attribute{
			code:          ac.Code,
			multiple:      ac.Multiple,
			attributeType: attributeType,
			contextMask:   slices.Clone(ac.ContextMask),
		}
		f.order = append(f.order, ac.Code)
	}

	return f, nil
}

func validate(f *Family) error {
	if f.label != "" && !f.HasAttribute(f.label) {
		return eaverrors.NewInvalidConfigurationError(fmt.Sprintf("label attribute %s is not an attribute of family %s", f.label, f.code))
	}

	for key := range f.defaultContext {
		if !slices.Contains(f.contextKeys, key) {
			return eaverrors.NewInvalidConfigurationError(fmt.Sprintf("default context key %s is not a context key of family %s", key, f.code))
		}
	}

	for _, a := range f.attributes {
		for _, key := range a.contextMask {
			if !slices.Contains(f.contextKeys, key) {
				return eaverrors.NewInvalidConfigurationError(fmt.Sprintf("attribute %s masks %s which is not a context key of family %s", a.code, key, f.code))
			}
		}
	}

	return nil
}

// Family returns the family with the given code, or ErrUnknownFamily
func (r *Registry) Family(code string) (eav.Family, error) {
	f, ok := r.families[code]
	if !ok {
		return nil, eaverrors.NewUnknownFamilyError(code)
	}
	return f, nil
}

// Families returns every configured family sorted by code
func (r *Registry) Families() []*Family {
	result := make([]*Family, 0, len(r.families))
	for _, f := range r.families {
		result = append(result, f)
	}

	slices.SortFunc(result, func(a, b *Family) int {
		return strings.Compare(a.code, b.code)
	})

	return result
}

func (r *Registry) Type(code string) (eav.AttributeType, bool) {
	t, ok := r.types[code]
	return t, ok
}
