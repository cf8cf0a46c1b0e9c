package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/diwise/eav-store/pkg/eav"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
)

// DataRow is the flattened form of an eav.Data without its values
type DataRow struct {
	ID        eav.ID
	Family    string
	ParentID  eav.ID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// ValueRow is the flattened form of an eav.Value. Every typed column is
// nullable and data references are kept as ids.
type ValueRow struct {
	ID            eav.ID
	DataID        eav.ID
	AttributeCode string
	Position      int

	BoolValue     sql.NullBool
	IntegerValue  sql.NullInt64
	DecimalValue  sql.NullFloat64
	DateValue     sql.NullTime
	DatetimeValue sql.NullTime
	StringValue   sql.NullString
	TextValue     sql.NullString
	DataValueID   sql.NullInt64

	Context string
}

var columns = map[eav.StorageType]string{
	eav.BoolValue:     "bool_value",
	eav.IntegerValue:  "integer_value",
	eav.DecimalValue:  "decimal_value",
	eav.DateValue:     "date_value",
	eav.DatetimeValue: "datetime_value",
	eav.StringValue:   "string_value",
	eav.TextValue:     "text_value",
	eav.DataValue:     "data_value_id",
}

func columnFor(kind eav.StorageType) (string, error) {
	column, ok := columns[kind]
	if !ok {
		return "", eaverrors.NewInvalidConfigurationError(fmt.Sprintf("no column for storage type %s", kind))
	}
	return column, nil
}

// NewValueRow flattens a value. idOf resolves the id of a referenced Data,
// which must already have one.
func NewValueRow(dataID eav.ID, v *eav.Value, idOf func(*eav.Data) eav.ID) (ValueRow, error) {
	row := ValueRow{
		ID:            v.ID(),
		DataID:        dataID,
		AttributeCode: v.AttributeCode(),
		Position:      v.Position(),
	}

	if b, ok := v.BoolValue(); ok {
		row.BoolValue = sql.NullBool{Bool: b, Valid: true}
	}
	if i, ok := v.IntegerValue(); ok {
		row.IntegerValue = sql.NullInt64{Int64: i, Valid: true}
	}
	if f, ok := v.DecimalValue(); ok {
		row.DecimalValue = sql.NullFloat64{Float64: f, Valid: true}
	}
	if t, ok := v.DateValue(); ok {
		row.DateValue = sql.NullTime{Time: t.UTC(), Valid: true}
	}
	if t, ok := v.DatetimeValue(); ok {
		row.DatetimeValue = sql.NullTime{Time: t.UTC(), Valid: true}
	}
	if s, ok := v.StringValue(); ok {
		row.StringValue = sql.NullString{String: s, Valid: true}
	}
	if s, ok := v.TextValue(); ok {
		row.TextValue = sql.NullString{String: s, Valid: true}
	}

	if ref := v.DataValue(); ref != nil {
		id := idOf(ref)
		if id == 0 {
			return row, fmt.Errorf("value %s references unsaved data", v.AttributeCode())
		}
		row.DataValueID = sql.NullInt64{Int64: int64(id), Valid: true}
	}

	ctx := v.Context()
	if len(ctx) > 0 {
		b, err := json.Marshal(ctx)
		if err != nil {
			return row, eaverrors.NewInvalidValueError(fmt.Sprintf("context of %s cannot be stored: %s", v.AttributeCode(), err.Error()))
		}
		row.Context = string(b)
	}

	return row, nil
}

// ContextMap decodes the stored context dimensions
func (r ValueRow) ContextMap() (eav.Context, error) {
	ctx := eav.Context{}
	if r.Context == "" {
		return ctx, nil
	}

	if err := json.Unmarshal([]byte(r.Context), &ctx); err != nil {
		return nil, fmt.Errorf("failed to decode context of value %d: %w", r.ID, err)
	}

	return ctx, nil
}

// Column returns the stored content of a column, as bound in SQL statements
func (r ValueRow) Column(kind eav.StorageType) any {
	var v any
	switch kind {
	case eav.BoolValue:
		v, _ = r.BoolValue.Value()
	case eav.IntegerValue:
		v, _ = r.IntegerValue.Value()
	case eav.DecimalValue:
		v, _ = r.DecimalValue.Value()
	case eav.DateValue:
		v, _ = r.DateValue.Value()
	case eav.DatetimeValue:
		v, _ = r.DatetimeValue.Value()
	case eav.StringValue:
		v, _ = r.StringValue.Value()
	case eav.TextValue:
		v, _ = r.TextValue.Value()
	case eav.DataValue:
		v, _ = r.DataValueID.Value()
	}
	return v
}

// toValue rebuilds a detached value. Context keys are taken from the family
// when it exposes them, followed by any other stored dimension.
func (r ValueRow) toValue(family eav.Family, resolve func(eav.ID) (*eav.Data, error)) (*eav.Value, error) {
	ctx, err := r.ContextMap()
	if err != nil {
		return nil, err
	}

	keys := []string{}
	if keyed, ok := family.(interface{ ContextKeys() []string }); ok {
		keys = keyed.ContextKeys()
	}

	extra := []string{}
	for key := range ctx {
		if !slices.Contains(keys, key) {
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)
	keys = append(keys, extra...)

	v := eav.NewValue(r.AttributeCode, keys...)
	v.SetID(r.ID)
	v.SetPosition(r.Position)

	if err := v.SetContext(ctx); err != nil {
		return nil, err
	}

	if r.BoolValue.Valid {
		v.SetBoolValue(r.BoolValue.Bool)
	}
	if r.IntegerValue.Valid {
		v.SetIntegerValue(r.IntegerValue.Int64)
	}
	if r.DecimalValue.Valid {
		v.SetDecimalValue(r.DecimalValue.Float64)
	}
	if r.DateValue.Valid {
		if err := v.SetDateValue(r.DateValue.Time.UTC()); err != nil {
			return nil, err
		}
	}
	if r.DatetimeValue.Valid {
		if err := v.SetDatetimeValue(r.DatetimeValue.Time.UTC()); err != nil {
			return nil, err
		}
	}
	if r.StringValue.Valid {
		v.SetStringValue(r.StringValue.String)
	}
	if r.TextValue.Valid {
		v.SetTextValue(r.TextValue.String)
	}

	if r.DataValueID.Valid {
		ref, err := resolve(eav.ID(r.DataValueID.Int64))
		if err != nil {
			return nil, err
		}
		v.SetDataValue(ref)
	}

	return v, nil
}

// queryColumn converts a query value into what the given column holds
func queryColumn(kind eav.StorageType, value any) (string, any, error) {
	column, err := columnFor(kind)
	if err != nil {
		return "", nil, err
	}

	if kind == eav.DataValue {
		switch ref := value.(type) {
		case *eav.Data:
			return column, int64(ref.ID()), nil
		case eav.ID:
			return column, int64(ref), nil
		}

		v := eav.NewValue("query")
		if err := v.Set(eav.IntegerValue, value); err != nil {
			return "", nil, err
		}
		id, _ := v.IntegerValue()
		return column, id, nil
	}

	v := eav.NewValue("query")
	if err := v.Set(kind, value); err != nil {
		return "", nil, err
	}

	row, err := NewValueRow(0, v, nil)
	if err != nil {
		return "", nil, err
	}

	return column, row.Column(kind), nil
}
