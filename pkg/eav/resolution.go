package eav

import (
	"fmt"
	"iter"
	"reflect"
	"strconv"
	"time"

	"github.com/diwise/eav-store/pkg/eav/errors"
)

// Values returns the owned values of an attribute that match ctx, in collection
// order. A nil attribute selects the values of every attribute. An empty ctx
// means the current context.
func (d *Data) Values(attribute Attribute, ctx Context) ([]*Value, error) {
	ctx = d.resolveContext(ctx)
	result := []*Value{}

	if attribute == nil {
		for _, v := range d.values {
			a := d.family.Attribute(v.attributeCode)
			if a == nil {
				return nil, errors.NewUnknownAttributeError(v.attributeCode, d.family.Code())
			}

			if a.IsContextMatching(v, ctx) {
				result = append(result, v)
			}
		}

		return result, nil
	}

	if err := d.checkAttribute(attribute); err != nil {
		return nil, err
	}

	for _, v := range d.index[attribute.Code()] {
		if attribute.IsContextMatching(v, ctx) {
			result = append(result, v)
		}
	}

	return result, nil
}

// Value returns the first matching value, or nil when there is none
func (d *Data) Value(attribute Attribute, ctx Context) (*Value, error) {
	values, err := d.Values(attribute, ctx)
	if err != nil || len(values) == 0 {
		return nil, err
	}
	return values[0], nil
}

// ValuesData projects every matching value onto the column selected by the
// attribute's database type
func (d *Data) ValuesData(attribute Attribute, ctx Context) ([]any, error) {
	values, err := d.Values(attribute, ctx)
	if err != nil {
		return nil, err
	}

	result := make([]any, 0, len(values))

	for _, v := range values {
		a := attribute
		if a == nil {
			a = d.family.Attribute(v.attributeCode)
		}

		scalar, err := v.Get(a.Type().DatabaseType())
		if err != nil {
			return nil, err
		}

		result = append(result, scalar)
	}

	return result, nil
}

// ValueData returns the first projected scalar, or nil when there is none
func (d *Data) ValueData(attribute Attribute, ctx Context) (any, error) {
	data, err := d.ValuesData(attribute, ctx)
	if err != nil || len(data) == 0 {
		return nil, err
	}
	return data[0], nil
}

// SetValueData replaces the values of an attribute with a single one
func (d *Data) SetValueData(attribute Attribute, data any, ctx Context) error {
	return d.SetValuesData(attribute, []any{data}, ctx)
}

// SetValuesData replaces the values of an attribute with one value per item
// of an ordered sequence, positioned from zero. Accepted sequences are slices,
// arrays and iter.Seq[any].
func (d *Data) SetValuesData(attribute Attribute, data any, ctx Context) error {
	items, err := toSequence(data)
	if err != nil {
		return err
	}

	if err := d.EmptyValues(attribute, ctx); err != nil {
		return err
	}

	for position, item := range items {
		if err := d.createValueData(attribute, item, position, ctx); err != nil {
			return err
		}
	}

	return nil
}

// AddValueData appends a value positioned after the highest existing position
func (d *Data) AddValueData(attribute Attribute, data any, ctx Context) error {
	existing, err := d.Values(attribute, ctx)
	if err != nil {
		return err
	}

	position := -1
	for _, v := range existing {
		position = max(position, v.position)
	}

	return d.createValueData(attribute, data, position+1, ctx)
}

// EmptyValues removes every value selected by the same filter as Values
func (d *Data) EmptyValues(attribute Attribute, ctx Context) error {
	values, err := d.Values(attribute, ctx)
	if err != nil {
		return err
	}

	for _, v := range values {
		d.RemoveValue(v)
	}

	return nil
}

// IsEmpty reports whether every matching value holds nil or an empty string
func (d *Data) IsEmpty(attribute Attribute, ctx Context) (bool, error) {
	data, err := d.ValuesData(attribute, ctx)
	if err != nil {
		return false, err
	}

	for _, scalar := range data {
		if scalar != nil && scalar != "" {
			return false, nil
		}
	}

	return true, nil
}

// CreateValue asks the family for a new value of the attribute and attaches it
func (d *Data) CreateValue(attribute Attribute, ctx Context) (*Value, error) {
	if err := d.checkAttribute(attribute); err != nil {
		return nil, err
	}

	v, err := d.family.CreateValue(d, attribute, d.resolveContext(ctx))
	if err != nil {
		return nil, err
	}

	d.AddValue(v)

	return v, nil
}

func (d *Data) createValueData(attribute Attribute, data any, position int, ctx Context) error {
	v, err := d.CreateValue(attribute, ctx)
	if err != nil {
		return err
	}

	v.SetPosition(position)

	if err := v.Set(attribute.Type().DatabaseType(), data); err != nil {
		d.RemoveValue(v)
		return err
	}

	return nil
}

func (d *Data) checkAttribute(attribute Attribute) error {
	if attribute == nil {
		return errors.NewInvalidConfigurationError("attribute must not be nil")
	}

	if !d.family.HasAttribute(attribute.Code()) {
		return errors.NewUnknownAttributeError(attribute.Code(), d.family.Code())
	}

	return nil
}

func (d *Data) resolveContext(ctx Context) Context {
	if len(ctx) == 0 {
		return d.CurrentContext()
	}
	return ctx
}

func toSequence(data any) ([]any, error) {
	switch items := data.(type) {
	case []any:
		return items, nil
	case iter.Seq[any]:
		result := []any{}
		for item := range items {
			result = append(result, item)
		}
		return result, nil
	}

	if data == nil {
		return nil, errors.NewInvalidValueCollectionError(data)
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.NewInvalidValueCollectionError(data)
	}

	// a byte slice is a single string-like scalar, not a sequence
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, errors.NewInvalidValueCollectionError(data)
	}

	result := make([]any, rv.Len())
	for i := range rv.Len() {
		result[i] = rv.Index(i).Interface()
	}

	return result, nil
}

// FormatScalar renders a projected scalar the way labels display it
func FormatScalar(scalar any) string {
	switch value := scalar.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case time.Time:
		return value.Format(time.RFC3339)
	case *Data:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}
