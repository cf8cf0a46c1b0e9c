package eav

import (
	"slices"
	"time"

	"github.com/diwise/eav-store/pkg/eav/errors"
)

// Value is a single typed slot of a Data. All columns are independently
// nullable and the one holding "the" value is chosen by the attribute type.
type Value struct {
	id            ID
	data          *Data
	attributeCode string
	position      int

	boolValue     *bool
	integerValue  *int64
	decimalValue  *float64
	dateValue     *time.Time
	datetimeValue *time.Time
	stringValue   *string
	textValue     *string
	dataValue     *Data

	contextKeys []string
	context     Context
}

// NewValue creates an unattached value for an attribute. contextKeys declares
// the dimensions this value accepts, none by default.
func NewValue(attributeCode string, contextKeys ...string) *Value {
	return &Value{
		attributeCode: attributeCode,
		contextKeys:   slices.Clone(contextKeys),
		context:       Context{},
	}
}

func (v *Value) ID() ID {
	return v.id
}

func (v *Value) SetID(id ID) {
	v.id = id
}

// Data returns the owning Data, or nil for a detached value
func (v *Value) Data() *Data {
	return v.data
}

func (v *Value) AttributeCode() string {
	return v.attributeCode
}

func (v *Value) Position() int {
	return v.position
}

func (v *Value) SetPosition(position int) {
	v.position = position
}

// Get reads the column named by kind. Unset columns read as nil.
func (v *Value) Get(kind StorageType) (any, error) {
	acc, err := lookupAccessor(kind)
	if err != nil {
		return nil, err
	}
	return acc.get(v), nil
}

// Set writes x into the column named by kind, converting compatible Go types.
// A nil x clears the column.
func (v *Value) Set(kind StorageType, x any) error {
	acc, err := lookupAccessor(kind)
	if err != nil {
		return err
	}
	return acc.set(v, x)
}

func (v *Value) BoolValue() (bool, bool) {
	if v.boolValue == nil {
		return false, false
	}
	return *v.boolValue, true
}

func (v *Value) SetBoolValue(b bool) {
	v.boolValue = &b
}

func (v *Value) IntegerValue() (int64, bool) {
	if v.integerValue == nil {
		return 0, false
	}
	return *v.integerValue, true
}

func (v *Value) SetIntegerValue(i int64) {
	v.integerValue = &i
}

func (v *Value) DecimalValue() (float64, bool) {
	if v.decimalValue == nil {
		return 0, false
	}
	return *v.decimalValue, true
}

func (v *Value) SetDecimalValue(f float64) {
	v.decimalValue = &f
}

func (v *Value) DateValue() (time.Time, bool) {
	if v.dateValue == nil {
		return time.Time{}, false
	}
	return *v.dateValue, true
}

// SetDateValue accepts a time.Time, a unix timestamp or a parseable string.
// The time of day is dropped.
func (v *Value) SetDateValue(x any) error {
	t, ok, err := ParseTime(x)
	if err != nil {
		return err
	}
	if !ok {
		v.dateValue = nil
		return nil
	}

	t = truncateToDate(t)
	v.dateValue = &t
	return nil
}

func (v *Value) DatetimeValue() (time.Time, bool) {
	if v.datetimeValue == nil {
		return time.Time{}, false
	}
	return *v.datetimeValue, true
}

// SetDatetimeValue accepts a time.Time, a unix timestamp or a parseable string
func (v *Value) SetDatetimeValue(x any) error {
	t, ok, err := ParseTime(x)
	if err != nil {
		return err
	}
	if !ok {
		v.datetimeValue = nil
		return nil
	}

	v.datetimeValue = &t
	return nil
}

func (v *Value) StringValue() (string, bool) {
	if v.stringValue == nil {
		return "", false
	}
	return *v.stringValue, true
}

func (v *Value) SetStringValue(s string) {
	v.stringValue = &s
}

func (v *Value) TextValue() (string, bool) {
	if v.textValue == nil {
		return "", false
	}
	return *v.textValue, true
}

func (v *Value) SetTextValue(s string) {
	v.textValue = &s
}

// DataValue returns the referenced Data, if any
func (v *Value) DataValue() *Data {
	return v.dataValue
}

func (v *Value) SetDataValue(d *Data) {
	v.dataValue = d
}

// ContextKeys returns the dimension names this value accepts
func (v *Value) ContextKeys() []string {
	return slices.Clone(v.contextKeys)
}

// Context returns every declared dimension, unset ones mapped to nil
func (v *Value) Context() Context {
	ctx := make(Context, len(v.contextKeys))
	for _, key := range v.contextKeys {
		ctx[key] = v.context[key]
	}
	return ctx
}

// HasContext reports whether at least one dimension is set
func (v *Value) HasContext() bool {
	for _, key := range v.contextKeys {
		if v.context[key] != nil {
			return true
		}
	}
	return false
}

// SetContext replaces all dimension values. Keys outside ContextKeys fail
// with ErrInvalidContextKey, leaving the keys set before the failure in place.
func (v *Value) SetContext(ctx Context) error {
	v.ClearContext()

	for key, value := range ctx {
		if err := v.SetContextValue(key, value); err != nil {
			return err
		}
	}

	return nil
}

func (v *Value) ClearContext() {
	v.context = Context{}
}

func (v *Value) ContextValue(key string) (any, error) {
	if err := v.checkContextKey(key); err != nil {
		return nil, err
	}
	return v.context[key], nil
}

func (v *Value) SetContextValue(key string, value any) error {
	if err := v.checkContextKey(key); err != nil {
		return err
	}

	if v.context == nil {
		v.context = Context{}
	}
	v.context[key] = value

	return nil
}

func (v *Value) checkContextKey(key string) error {
	if !slices.Contains(v.contextKeys, key) {
		return errors.NewInvalidContextKeyError(key)
	}
	return nil
}

// assignContext copies the dimensions of ctx this value declares and
// silently ignores the others
func (v *Value) assignContext(ctx Context) {
	if v.context == nil {
		v.context = Context{}
	}

	for _, key := range v.contextKeys {
		if value, ok := ctx[key]; ok {
			v.context[key] = value
		}
	}
}

// copyTo duplicates every column and dimension into a new detached value
func (v *Value) copyTo() *Value {
	c := &Value{
		id:            v.id,
		attributeCode: v.attributeCode,
		position:      v.position,
		dataValue:     v.dataValue,
		contextKeys:   slices.Clone(v.contextKeys),
		context:       v.context.Clone(),
	}

	if c.context == nil {
		c.context = Context{}
	}

	c.boolValue = clonePtr(v.boolValue)
	c.integerValue = clonePtr(v.integerValue)
	c.decimalValue = clonePtr(v.decimalValue)
	c.dateValue = clonePtr(v.dateValue)
	c.datetimeValue = clonePtr(v.datetimeValue)
	c.stringValue = clonePtr(v.stringValue)
	c.textValue = clonePtr(v.textValue)

	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
