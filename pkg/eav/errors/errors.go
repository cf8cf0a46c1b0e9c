package errors

import (
	"fmt"
)

var ErrFamilyNotInstantiable = fmt.Errorf("family not instantiable")
var ErrInvalidConfiguration = fmt.Errorf("invalid configuration")
var ErrInvalidContextKey = fmt.Errorf("invalid context key")
var ErrInvalidValue = fmt.Errorf("invalid value")
var ErrInvalidValueCollection = fmt.Errorf("invalid value collection")
var ErrNotFound = fmt.Errorf("not found")
var ErrUnknownAttribute = fmt.Errorf("unknown attribute for family")
var ErrUnknownFamily = fmt.Errorf("unknown family")
var ErrUnknownProperty = fmt.Errorf("unknown attribute or method")
var ErrUnparseableDate = fmt.Errorf("unparseable date")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewFamilyNotInstantiableError(family string) error {
	return &myError{
		msg:    fmt.Sprintf("family %s is not instantiable", family),
		target: ErrFamilyNotInstantiable,
	}
}

func NewInvalidConfigurationError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrInvalidConfiguration,
	}
}

func NewInvalidContextKeyError(key string) error {
	return &myError{
		msg:    fmt.Sprintf("trying to use a non-allowed context key %s", key),
		target: ErrInvalidContextKey,
	}
}

func NewInvalidValueError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrInvalidValue,
	}
}

func NewInvalidValueCollectionError(value any) error {
	return &myError{
		msg:    fmt.Sprintf("values must be a slice or an array, got %T", value),
		target: ErrInvalidValueCollection,
	}
}

func NewNotFoundError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotFound,
	}
}

func NewUnknownAttributeError(attribute, family string) error {
	return &myError{
		msg:    fmt.Sprintf("attribute %s doesn't exist in family %s", attribute, family),
		target: ErrUnknownAttribute,
	}
}

func NewUnknownFamilyError(family string) error {
	return &myError{
		msg:    fmt.Sprintf("unknown family %s", family),
		target: ErrUnknownFamily,
	}
}

func NewUnknownPropertyError(name, family string) error {
	return &myError{
		msg:    fmt.Sprintf("no attribute or method named %s in family %s", name, family),
		target: ErrUnknownProperty,
	}
}

func NewUnparseableDateError(value any) error {
	return &myError{
		msg:    fmt.Sprintf("unable to parse date from %v (%T)", value, value),
		target: ErrUnparseableDate,
	}
}
