package schema

import (
	"fmt"
	"slices"

	"github.com/diwise/eav-store/pkg/eav"
)

type attributeType struct {
	code         string
	databaseType eav.StorageType
}

func (t attributeType) Code() string {
	return t.code
}

func (t attributeType) DatabaseType() eav.StorageType {
	return t.databaseType
}

func NewAttributeType(code string, databaseType eav.StorageType) eav.AttributeType {
	return attributeType{code: code, databaseType: databaseType}
}

func builtinTypes() map[string]eav.AttributeType {
	return map[string]eav.AttributeType{
		"string":   NewAttributeType("string", eav.StringValue),
		"text":     NewAttributeType("text", eav.TextValue),
		"integer":  NewAttributeType("integer", eav.IntegerValue),
		"decimal":  NewAttributeType("decimal", eav.DecimalValue),
		"boolean":  NewAttributeType("boolean", eav.BoolValue),
		"date":     NewAttributeType("date", eav.DateValue),
		"datetime": NewAttributeType("datetime", eav.DatetimeValue),
		"choice":   NewAttributeType("choice", eav.StringValue),
		"data":     NewAttributeType("data", eav.DataValue),
		"embed":    NewAttributeType("embed", eav.DataValue),
	}
}

// Attribute is a configured attribute. Its context mask lists the dimensions
// that tell its values apart; an attribute without a mask has a single value
// (group) whatever the requested context.
type Attribute struct {
	code          string
	multiple      bool
	attributeType eav.AttributeType
	contextMask   []string
}

func (a *Attribute) Code() string {
	return a.code
}

func (a *Attribute) Multiple() bool {
	return a.multiple
}

func (a *Attribute) Type() eav.AttributeType {
	return a.attributeType
}

func (a *Attribute) ContextMask() []string {
	return slices.Clone(a.contextMask)
}

// IsContextMatching compares the masked dimensions present in ctx with the
// ones stored on the value. Dimensions missing from ctx match anything.
func (a *Attribute) IsContextMatching(value *eav.Value, ctx eav.Context) bool {
	if value.AttributeCode() != a.code {
		return false
	}

	for _, key := range a.contextMask {
		wanted, ok := ctx[key]
		if !ok || wanted == nil {
			continue
		}

		stored, err := value.ContextValue(key)
		if err != nil || stored == nil {
			return false
		}

		if fmt.Sprint(stored) != fmt.Sprint(wanted) {
			return false
		}
	}

	return true
}
