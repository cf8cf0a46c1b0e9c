package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

var ErrBadResponse = fmt.Errorf("bad response")
var ErrInternal = fmt.Errorf("internal error")
var ErrRequest = fmt.Errorf("request error")
var ErrUnauthorized = fmt.Errorf("unauthorized")

const problemTypePrefix string = "urn:eav:errors:"

// NewErrorFromProblemReport maps an RFC7807 problem report returned by the
// data store api back onto the sentinel errors of this package
func NewErrorFromProblemReport(code int, contentType string, body []byte) error {
	report := &struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}{}

	err := json.Unmarshal(body, report)
	if err != nil {
		return fmt.Errorf("failed to process problem report (code %d, content-type %s): %s", code, contentType, err.Error())
	}

	target := ErrInternal

	switch report.Type {
	case problemTypePrefix + "ResourceNotFound":
		target = ErrNotFound
	case problemTypePrefix + "UnknownFamily":
		target = ErrUnknownFamily
	case problemTypePrefix + "OperationNotSupported":
		target = ErrFamilyNotInstantiable
	case problemTypePrefix + "BadRequestData", problemTypePrefix + "InvalidRequest":
		target = ErrInvalidValue
	case problemTypePrefix + "UnauthorizedRequest":
		target = ErrUnauthorized
	default:
		if code == http.StatusNotFound {
			target = ErrNotFound
		}
	}

	if target == ErrInternal {
		return &myError{
			msg:    fmt.Sprintf("[code: %d] unknown problem report of type \"%s\" with detail \"%s\" received", code, report.Type, report.Detail),
			target: ErrInternal,
		}
	}

	return &myError{
		msg:    report.Detail,
		target: target,
	}
}
