package eav

import (
	"fmt"
	"strings"

	"github.com/diwise/eav-store/pkg/eav/errors"
)

// RawValueSuffix turns a property name into a request for the Value wrappers
// instead of their projected data, e.g. "titleValue" for attribute "title"
const RawValueSuffix string = "Value"

// Get reads a property named after an attribute code. Single valued
// attributes yield a scalar (or *Value with the raw suffix), multi valued
// attributes yield []any (or []*Value).
func (d *Data) Get(name string, ctx Context) (any, error) {
	attribute, raw, err := d.resolveProperty(name)
	if err != nil {
		return nil, err
	}

	if attribute.Multiple() {
		if raw {
			return d.Values(attribute, ctx)
		}
		return d.ValuesData(attribute, ctx)
	}

	if raw {
		v, err := d.Value(attribute, ctx)
		if err != nil || v == nil {
			return nil, err
		}
		return v, nil
	}

	return d.ValueData(attribute, ctx)
}

// Set writes a property named after an attribute code. With the raw suffix,
// the given *Value (or []*Value for multi valued attributes) is attached as is.
func (d *Data) Set(name string, value any, ctx Context) error {
	attribute, raw, err := d.resolveProperty(name)
	if err != nil {
		return err
	}

	if !raw {
		if attribute.Multiple() {
			return d.SetValuesData(attribute, value, ctx)
		}
		return d.SetValueData(attribute, value, ctx)
	}

	switch v := value.(type) {
	case *Value:
		d.AddValue(v)
	case []*Value:
		if !attribute.Multiple() {
			return errors.NewInvalidValueError(fmt.Sprintf("attribute %s is single valued", attribute.Code()))
		}
		for _, item := range v {
			d.AddValue(item)
		}
	default:
		return errors.NewInvalidValueError(fmt.Sprintf("expected value wrappers for %s, got %T", name, value))
	}

	return nil
}

func (d *Data) resolveProperty(name string) (Attribute, bool, error) {
	if code, ok := strings.CutSuffix(name, RawValueSuffix); ok && code != "" {
		if attribute := d.family.Attribute(code); attribute != nil {
			return attribute, true, nil
		}
	}

	if attribute := d.family.Attribute(name); attribute != nil {
		return attribute, false, nil
	}

	return nil, false, errors.NewUnknownPropertyError(name, d.family.Code())
}

// Field gives typed access to a single valued attribute without going through
// the untyped property accessors at every call site
type Field[T any] struct {
	code string
}

func NewField[T any](code string) Field[T] {
	return Field[T]{code: code}
}

func (f Field[T]) Code() string {
	return f.code
}

// Get returns the attribute's data, with ok == false when nothing is stored
func (f Field[T]) Get(d *Data, ctx Context) (value T, ok bool, err error) {
	data, err := d.Get(f.code, ctx)
	if err != nil || data == nil {
		return value, false, err
	}

	value, ok = data.(T)
	if !ok {
		return value, false, errors.NewInvalidValueError(fmt.Sprintf("attribute %s holds %T, not %T", f.code, data, value))
	}

	return value, true, nil
}

func (f Field[T]) Set(d *Data, value T, ctx Context) error {
	return d.Set(f.code, value, ctx)
}
