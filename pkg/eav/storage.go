package eav

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/eav-store/pkg/eav/errors"
)

// StorageType names one of the physical columns of a Value. The names double
// as the accessor names used by attribute types to select their column.
type StorageType string

const (
	BoolValue     StorageType = "boolValue"
	IntegerValue  StorageType = "integerValue"
	DecimalValue  StorageType = "decimalValue"
	DateValue     StorageType = "dateValue"
	DatetimeValue StorageType = "datetimeValue"
	StringValue   StorageType = "stringValue"
	TextValue     StorageType = "textValue"
	DataValue     StorageType = "dataValue"
)

var storageTypes = []StorageType{
	BoolValue, IntegerValue, DecimalValue, DateValue, DatetimeValue, StringValue, TextValue, DataValue,
}

// StorageTypes returns every known column, in declaration order
func StorageTypes() []StorageType {
	return append([]StorageType{}, storageTypes...)
}

func ParseStorageType(name string) (StorageType, error) {
	for _, st := range storageTypes {
		if string(st) == name {
			return st, nil
		}
	}

	return "", errors.NewInvalidConfigurationError(fmt.Sprintf("unknown storage type %q", name))
}

type accessor struct {
	get func(v *Value) any
	set func(v *Value, x any) error
}

var accessors = map[StorageType]accessor{
	BoolValue: {
		get: func(v *Value) any {
			if v.boolValue == nil {
				return nil
			}
			return *v.boolValue
		},
		set: func(v *Value, x any) error {
			if x == nil {
				v.boolValue = nil
				return nil
			}
			b, err := toBool(x)
			if err != nil {
				return err
			}
			v.SetBoolValue(b)
			return nil
		},
	},
	IntegerValue: {
		get: func(v *Value) any {
			if v.integerValue == nil {
				return nil
			}
			return *v.integerValue
		},
		set: func(v *Value, x any) error {
			if x == nil {
				v.integerValue = nil
				return nil
			}
			i, err := toInt64(x)
			if err != nil {
				return err
			}
			v.SetIntegerValue(i)
			return nil
		},
	},
	DecimalValue: {
		get: func(v *Value) any {
			if v.decimalValue == nil {
				return nil
			}
			return *v.decimalValue
		},
		set: func(v *Value, x any) error {
			if x == nil {
				v.decimalValue = nil
				return nil
			}
			f, err := toFloat64(x)
			if err != nil {
				return err
			}
			v.SetDecimalValue(f)
			return nil
		},
	},
	DateValue: {
		get: func(v *Value) any {
			if v.dateValue == nil {
				return nil
			}
			return *v.dateValue
		},
		set: func(v *Value, x any) error {
			return v.SetDateValue(x)
		},
	},
	DatetimeValue: {
		get: func(v *Value) any {
			if v.datetimeValue == nil {
				return nil
			}
			return *v.datetimeValue
		},
		set: func(v *Value, x any) error {
			return v.SetDatetimeValue(x)
		},
	},
	StringValue: {
		get: func(v *Value) any {
			if v.stringValue == nil {
				return nil
			}
			return *v.stringValue
		},
		set: func(v *Value, x any) error {
			if x == nil {
				v.stringValue = nil
				return nil
			}
			s, err := toString(x)
			if err != nil {
				return err
			}
			v.SetStringValue(s)
			return nil
		},
	},
	TextValue: {
		get: func(v *Value) any {
			if v.textValue == nil {
				return nil
			}
			return *v.textValue
		},
		set: func(v *Value, x any) error {
			if x == nil {
				v.textValue = nil
				return nil
			}
			s, err := toString(x)
			if err != nil {
				return err
			}
			v.SetTextValue(s)
			return nil
		},
	},
	DataValue: {
		get: func(v *Value) any {
			if v.dataValue == nil {
				return nil
			}
			return v.dataValue
		},
		set: func(v *Value, x any) error {
			if x == nil {
				v.dataValue = nil
				return nil
			}
			d, ok := x.(*Data)
			if !ok {
				return errors.NewInvalidValueError(fmt.Sprintf("expected a data reference, got %T", x))
			}
			v.SetDataValue(d)
			return nil
		},
	},
}

func lookupAccessor(kind StorageType) (accessor, error) {
	acc, ok := accessors[kind]
	if !ok {
		return accessor{}, errors.NewInvalidConfigurationError(fmt.Sprintf("unknown storage type %q", kind))
	}
	return acc, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime normalizes a time.Time, a unix timestamp or a parseable string
// into a time.Time. Empty strings and nil yield a zero time and ok == false.
func ParseTime(x any) (t time.Time, ok bool, err error) {
	switch value := x.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return value, true, nil
	case *time.Time:
		if value == nil {
			return time.Time{}, false, nil
		}
		return *value, true, nil
	case int, int32, int64, uint32, float64, json.Number:
		seconds, err := toInt64(value)
		if err != nil {
			return time.Time{}, false, errors.NewUnparseableDateError(x)
		}
		return time.Unix(seconds, 0).UTC(), true, nil
	case string:
		value = strings.TrimSpace(value)
		if value == "" {
			return time.Time{}, false, nil
		}
		if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Unix(seconds, 0).UTC(), true, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t, true, nil
			}
		}
	}

	return time.Time{}, false, errors.NewUnparseableDateError(x)
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func toBool(x any) (bool, error) {
	switch value := x.(type) {
	case bool:
		return value, nil
	case *bool:
		if value != nil {
			return *value, nil
		}
	}
	return false, errors.NewInvalidValueError(fmt.Sprintf("expected a boolean, got %T", x))
}

func toInt64(x any) (int64, error) {
	switch value := x.(type) {
	case int:
		return int64(value), nil
	case int8:
		return int64(value), nil
	case int16:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case int64:
		return value, nil
	case uint8:
		return int64(value), nil
	case uint16:
		return int64(value), nil
	case uint32:
		return int64(value), nil
	case float32:
		return toInt64(float64(value))
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63 which is out of range
		if value == math.Trunc(value) && value >= math.MinInt64 && value < math.MaxInt64 {
			return int64(value), nil
		}
	case json.Number:
		return value.Int64()
	}
	return 0, errors.NewInvalidValueError(fmt.Sprintf("expected an integer, got %v (%T)", x, x))
}

func toFloat64(x any) (float64, error) {
	switch value := x.(type) {
	case float32:
		return float64(value), nil
	case float64:
		return value, nil
	case json.Number:
		return value.Float64()
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		i, err := toInt64(value)
		return float64(i), err
	}
	return 0, errors.NewInvalidValueError(fmt.Sprintf("expected a decimal, got %T", x))
}

func toString(x any) (string, error) {
	switch value := x.(type) {
	case string:
		return value, nil
	case []byte:
		return string(value), nil
	case fmt.Stringer:
		return value.String(), nil
	}
	return "", errors.NewInvalidValueError(fmt.Sprintf("expected a string, got %T", x))
}
