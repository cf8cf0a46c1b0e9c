package eav

import (
	"fmt"
	"slices"
	"time"

	"github.com/diwise/eav-store/pkg/eav/errors"
)

// Data is an entity whose attributes are declared by its Family and stored
// as an ordered collection of Values
type Data struct {
	id       ID
	family   Family
	parentID ID

	values []*Value
	index  map[string][]*Value

	createdAt      time.Time
	updatedAt      time.Time
	currentVersion int
	currentContext Context
}

type DataDecoratorFunc func(d *Data)

// New creates an empty Data for a family. It fails with ErrFamilyNotInstantiable
// if the family is abstract.
func New(family Family, decorators ...DataDecoratorFunc) (*Data, error) {
	if family == nil {
		return nil, errors.NewInvalidConfigurationError("a family is required to create data")
	}

	if !family.IsInstantiable() {
		return nil, errors.NewFamilyNotInstantiableError(family.Code())
	}

	now := time.Now()

	d := &Data{
		family:    family,
		values:    []*Value{},
		index:     map[string][]*Value{},
		createdAt: now,
		updatedAt: now,
	}

	for _, decorator := range decorators {
		decorator(d)
	}

	return d, nil
}

func CurrentContext(ctx Context) DataDecoratorFunc {
	return func(d *Data) {
		d.currentContext = ctx.Clone()
	}
}

func Parent(parentID ID) DataDecoratorFunc {
	return func(d *Data) {
		d.parentID = parentID
	}
}

func (d *Data) ID() ID {
	return d.id
}

// SetID is meant for stores assigning an identity on first persistence
func (d *Data) SetID(id ID) {
	d.id = id
}

func (d *Data) Family() Family {
	return d.family
}

func (d *Data) FamilyCode() string {
	return d.family.Code()
}

// ParentID returns the handle of the parent Data, zero for a root
func (d *Data) ParentID() ID {
	return d.parentID
}

func (d *Data) SetParentID(parentID ID) {
	d.parentID = parentID
}

func (d *Data) CreatedAt() time.Time {
	return d.createdAt
}

// SetCreatedAt accepts a time.Time, a unix timestamp or a parseable string
func (d *Data) SetCreatedAt(x any) error {
	t, err := parseRequiredTime(x)
	if err != nil {
		return err
	}
	d.createdAt = t
	return nil
}

func (d *Data) UpdatedAt() time.Time {
	return d.updatedAt
}

// SetUpdatedAt accepts a time.Time, a unix timestamp or a parseable string
func (d *Data) SetUpdatedAt(x any) error {
	t, err := parseRequiredTime(x)
	if err != nil {
		return err
	}
	d.updatedAt = t
	return nil
}

func parseRequiredTime(x any) (time.Time, error) {
	t, ok, err := ParseTime(x)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, errors.NewUnparseableDateError(x)
	}
	return t, nil
}

func (d *Data) CurrentVersion() int {
	return d.currentVersion
}

func (d *Data) SetCurrentVersion(version int) {
	d.currentVersion = version
}

// CurrentContext returns the context used when no explicit one is supplied,
// falling back to the family's default context
func (d *Data) CurrentContext() Context {
	if len(d.currentContext) == 0 {
		return d.family.DefaultContext()
	}
	return d.currentContext.Clone()
}

func (d *Data) SetCurrentContext(ctx Context) {
	d.currentContext = ctx.Clone()
}

// AllValues returns every owned value regardless of context, in collection order
func (d *Data) AllValues() []*Value {
	return slices.Clone(d.values)
}

// AddValue attaches a value to this Data, detaching it from any previous owner.
// A value without any context dimension set receives the current context.
func (d *Data) AddValue(v *Value) {
	if v.data == d {
		return
	}

	if v.data != nil {
		v.data.RemoveValue(v)
	}

	if !v.HasContext() {
		v.assignContext(d.CurrentContext())
	}

	d.values = append(d.values, v)
	d.index[v.attributeCode] = append(d.index[v.attributeCode], v)
	v.data = d
}

// RemoveValue detaches a value owned by this Data. Values owned by another
// Data are left untouched.
func (d *Data) RemoveValue(v *Value) {
	if v.data != d {
		return
	}

	d.values = slices.DeleteFunc(d.values, func(other *Value) bool { return other == v })

	bucket := slices.DeleteFunc(d.index[v.attributeCode], func(other *Value) bool { return other == v })
	if len(bucket) == 0 {
		delete(d.index, v.attributeCode)
	} else {
		d.index[v.attributeCode] = bucket
	}

	v.data = nil
}

// Snapshot returns a deep copy that keeps identities and timestamps. Stores
// use it to keep their own copy of a unit of work.
func (d *Data) Snapshot() *Data {
	s := &Data{
		id:             d.id,
		family:         d.family,
		parentID:       d.parentID,
		values:         make([]*Value, 0, len(d.values)),
		index:          map[string][]*Value{},
		createdAt:      d.createdAt,
		updatedAt:      d.updatedAt,
		currentVersion: d.currentVersion,
		currentContext: d.currentContext.Clone(),
	}

	for _, v := range d.values {
		c := v.copyTo()
		s.values = append(s.values, c)
		s.index[c.attributeCode] = append(s.index[c.attributeCode], c)
		c.data = s
	}

	return s
}

// Clone returns an unpersisted copy of this Data with fresh identity and
// creation time, owning independent copies of every value
func (d *Data) Clone() *Data {
	c := d.Snapshot()
	c.id = 0
	c.currentVersion = 0

	now := time.Now()
	if now.Before(d.createdAt) {
		now = d.createdAt
	}
	c.createdAt = now

	for _, v := range c.values {
		v.id = 0
	}

	return c
}

// Label returns the value of the family's label attribute, or "[id]" when it
// cannot be computed
func (d *Data) Label() string {
	label, err := d.labelValue(maxLabelDepth)
	if err != nil {
		return fmt.Sprintf("[%d]", d.id)
	}
	return label
}

// String returns the label, or an empty string when it cannot be computed
func (d *Data) String() string {
	label, err := d.labelValue(maxLabelDepth)
	if err != nil {
		return ""
	}
	return label
}

const maxLabelDepth = 8

func (d *Data) labelValue(depth int) (label string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("label computation failed: %v", r)
		}
	}()

	if depth <= 0 {
		return "", fmt.Errorf("label references nested too deep")
	}

	attribute := d.family.AttributeAsLabel()
	if attribute == nil {
		return "", errors.NewNotFoundError(fmt.Sprintf("family %s has no label attribute", d.family.Code()))
	}

	scalar, err := d.ValueData(attribute, nil)
	if err != nil {
		return "", err
	}

	if scalar == nil {
		return "", errors.NewNotFoundError(fmt.Sprintf("no label value for data %d", d.id))
	}

	if ref, ok := scalar.(*Data); ok {
		return ref.labelValue(depth - 1)
	}

	return FormatScalar(scalar), nil
}
