package document

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
)

// ReferenceResolver looks up the Data a decoded reference points to
type ReferenceResolver func(id eav.ID) (*eav.Data, error)

// Apply writes decoded JSON attributes onto d in ctx. Single valued attributes
// are replaced, multi valued attributes are replaced by the given list and a
// null empties the attribute.
func Apply(d *eav.Data, attributes map[string]any, ctx eav.Context, refs ReferenceResolver) error {
	codes := make([]string, 0, len(attributes))
	for code := range attributes {
		codes = append(codes, code)
	}
	slices.Sort(codes)

	for _, code := range codes {
		attribute := d.Family().Attribute(code)
		if attribute == nil {
			return eaverrors.NewUnknownAttributeError(code, d.FamilyCode())
		}

		if err := applyAttribute(d, attribute, attributes[code], ctx, refs); err != nil {
			return err
		}
	}

	return nil
}

// Append adds a decoded value after the existing values of an attribute
func Append(d *eav.Data, code string, raw any, ctx eav.Context, refs ReferenceResolver) error {
	attribute := d.Family().Attribute(code)
	if attribute == nil {
		return eaverrors.NewUnknownAttributeError(code, d.FamilyCode())
	}

	value, err := decode(attribute, raw, refs)
	if err != nil {
		return err
	}

	return d.AddValueData(attribute, value, ctx)
}

func applyAttribute(d *eav.Data, attribute eav.Attribute, raw any, ctx eav.Context, refs ReferenceResolver) error {
	if raw == nil {
		return d.EmptyValues(attribute, ctx)
	}

	if !attribute.Multiple() {
		value, err := decode(attribute, raw, refs)
		if err != nil {
			return err
		}
		return d.SetValueData(attribute, value, ctx)
	}

	items, ok := raw.([]any)
	if !ok {
		return eaverrors.NewInvalidValueCollectionError(raw)
	}

	values := make([]any, 0, len(items))
	for _, item := range items {
		value, err := decode(attribute, item, refs)
		if err != nil {
			return err
		}
		values = append(values, value)
	}

	return d.SetValuesData(attribute, values, ctx)
}

func decode(attribute eav.Attribute, raw any, refs ReferenceResolver) (any, error) {
	switch attribute.Type().DatabaseType() {
	case eav.DataValue:
		if raw == nil {
			return nil, nil
		}

		id, err := referenceID(raw)
		if err != nil {
			return nil, err
		}

		if refs == nil {
			return nil, eaverrors.NewInvalidValueError(fmt.Sprintf("references are not supported for %s", attribute.Code()))
		}

		return refs(id)
	case eav.StringValue, eav.TextValue:
		if s, ok := raw.(string); ok {
			return sanitizeString(s), nil
		}
	}

	return raw, nil
}

// referenceID accepts a bare id or an object with an id member
func referenceID(raw any) (eav.ID, error) {
	switch value := raw.(type) {
	case map[string]any:
		return referenceID(value["id"])
	case float64:
		if value == float64(int64(value)) {
			return eav.ID(value), nil
		}
	case json.Number:
		id, err := value.Int64()
		if err == nil {
			return eav.ID(id), nil
		}
	case int:
		return eav.ID(value), nil
	case int64:
		return eav.ID(value), nil
	case eav.ID:
		return value, nil
	case string:
		id, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return eav.ID(id), nil
		}
	}

	return 0, eaverrors.NewInvalidValueError(fmt.Sprintf("%v is not a valid reference", raw))
}

// sanitizeString replaces escaped unicode sequences, such as \u0026, that
// some clients double encode
func sanitizeString(input string) string {
	if len(input) >= 6 {
		for runeIdx, stopIdx := 0, len(input)-6; runeIdx <= stopIdx; runeIdx++ {
			if input[runeIdx] == '\\' && input[runeIdx+1] == 'u' {
				r, err := strconv.ParseInt(input[runeIdx+2:runeIdx+6], 16, 32)
				if err != nil {
					continue
				}

				return input[:runeIdx] + string(rune(r)) + sanitizeString(input[runeIdx+6:])
			}
		}
	}

	return input
}
