package schema

import (
	"maps"
	"slices"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
)

// Family is a configured family with its parent's attributes, context keys
// and default context already merged in
type Family struct {
	code           string
	parent         string
	instantiable   bool
	label          string
	contextKeys    []string
	defaultContext eav.Context
	attributes     map[string]*Attribute
	order          []string
}

func (f *Family) Code() string {
	return f.code
}

// Parent returns the code of the family this one extends, if any
func (f *Family) Parent() string {
	return f.parent
}

func (f *Family) IsInstantiable() bool {
	return f.instantiable
}

func (f *Family) HasAttribute(code string) bool {
	_, ok := f.attributes[code]
	return ok
}

func (f *Family) Attribute(code string) eav.Attribute {
	a, ok := f.attributes[code]
	if !ok {
		return nil
	}
	return a
}

// Attributes returns the family's attributes, inherited ones first
func (f *Family) Attributes() []*Attribute {
	result := make([]*Attribute, 0, len(f.order))
	for _, code := range f.order {
		result = append(result, f.attributes[code])
	}
	return result
}

func (f *Family) AttributeAsLabel() eav.Attribute {
	if f.label == "" {
		return nil
	}
	return f.Attribute(f.label)
}

func (f *Family) ContextKeys() []string {
	return slices.Clone(f.contextKeys)
}

func (f *Family) DefaultContext() eav.Context {
	return f.defaultContext.Clone()
}

// CreateValue creates a value declaring the family's context keys, with the
// dimensions found in ctx set on it
func (f *Family) CreateValue(owner *eav.Data, attribute eav.Attribute, ctx eav.Context) (*eav.Value, error) {
	if attribute == nil || !f.HasAttribute(attribute.Code()) {
		code := ""
		if attribute != nil {
			code = attribute.Code()
		}
		return nil, eaverrors.NewUnknownAttributeError(code, f.code)
	}

	v := eav.NewValue(attribute.Code(), f.contextKeys...)

	err := v.SetContext(f.filterContext(ctx))
	if err != nil {
		return nil, err
	}

	return v, nil
}

// filterContext drops the dimensions this family does not know about
func (f *Family) filterContext(ctx eav.Context) eav.Context {
	filtered := eav.Context{}
	for _, key := range f.contextKeys {
		if value, ok := ctx[key]; ok && value != nil {
			filtered[key] = value
		}
	}
	return filtered
}

func (f *Family) extend(parent *Family) {
	f.parent = parent.code

	attributes := maps.Clone(parent.attributes)
	order := slices.Clone(parent.order)

	for _, code := range f.order {
		if _, inherited := attributes[code]; !inherited {
			order = append(order, code)
		}
		attributes[code] = f.attributes[code]
	}

	f.attributes = attributes
	f.order = order

	for _, key := range parent.contextKeys {
		if !slices.Contains(f.contextKeys, key) {
			f.contextKeys = append(f.contextKeys, key)
		}
	}

	defaults := parent.defaultContext.Clone()
	if defaults == nil {
		defaults = eav.Context{}
	}
	maps.Copy(defaults, f.defaultContext)
	f.defaultContext = defaults

	if f.label == "" {
		f.label = parent.label
	}
}
