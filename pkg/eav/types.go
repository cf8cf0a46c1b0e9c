package eav

// ID identifies a persisted Data or Value. The zero ID means "not yet persisted".
type ID int64

// Context holds the dimension values (locale, channel ...) used to tell apart
// concurrent values of the same attribute on the same Data.
type Context map[string]any

// Clone returns a shallow copy of the context map
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}

	clone := make(Context, len(c))
	for k, v := range c {
		clone[k] = v
	}

	return clone
}

// AttributeType describes how values of an attribute are physically stored
type AttributeType interface {
	Code() string
	DatabaseType() StorageType
}

// Attribute is a named, typed field descriptor provided by the family metadata
type Attribute interface {
	Code() string
	Multiple() bool
	Type() AttributeType
	IsContextMatching(value *Value, ctx Context) bool
}

// Family is the schema descriptor of a Data. Attribute and AttributeAsLabel
// must return a nil interface when there is no such attribute.
//
// CreateValue returns a new, unattached Value for the attribute with its
// context dimensions set from ctx. The caller is responsible for attaching it.
type Family interface {
	Code() string
	IsInstantiable() bool
	HasAttribute(code string) bool
	Attribute(code string) Attribute
	AttributeAsLabel() Attribute
	DefaultContext() Context
	CreateValue(owner *Data, attribute Attribute, ctx Context) (*Value, error)
}
