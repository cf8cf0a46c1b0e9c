package problems

import (
	"encoding/json"
	"errors"
	"net/http"

	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
)

//ProblemDetails stores details about a certain problem according to RFC7807
//See https://tools.ietf.org/html/rfc7807
type ProblemDetails interface {
	ContentType() string
	Type() string
	Title() string
	Detail() string
	MarshalJSON() ([]byte, error)
	WriteResponse(w http.ResponseWriter)
}

//ProblemDetailsImpl is an implementation of the ProblemDetails interface
type ProblemDetailsImpl struct {
	typ     string
	title   string
	detail  string
	traceID string
	code    int
}

const (
	//ProblemReportContentType as required by https://tools.ietf.org/html/rfc7807
	ProblemReportContentType string = "application/problem+json"

	typePrefix string = "urn:eav:errors:"
)

func newProblem(typ, title, detail string, code int) *ProblemDetailsImpl {
	return &ProblemDetailsImpl{
		typ:    typePrefix + typ,
		title:  title,
		detail: detail,
		code:   code,
	}
}

//NewBadRequestData reports that the request includes input data which does not meet the requirements of the operation
func NewBadRequestData(detail string) *ProblemDetailsImpl {
	return newProblem("BadRequestData", "Bad Request Data", detail, http.StatusBadRequest)
}

//NewInvalidRequest reports that the request is syntactically invalid
func NewInvalidRequest(detail string) *ProblemDetailsImpl {
	return newProblem("InvalidRequest", "Invalid Request", detail, http.StatusBadRequest)
}

func NewInternalError(detail string) *ProblemDetailsImpl {
	return newProblem("InternalError", "Internal Error", detail, http.StatusInternalServerError)
}

func NewNotFound(detail string) *ProblemDetailsImpl {
	return newProblem("ResourceNotFound", "Not Found", detail, http.StatusNotFound)
}

func NewUnauthorizedRequest(detail string) *ProblemDetailsImpl {
	return newProblem("UnauthorizedRequest", "Unauthorized Request", detail, http.StatusUnauthorized)
}

//NewUnknownFamily reports that the request refers to a family that is not configured
func NewUnknownFamily(detail string) *ProblemDetailsImpl {
	return newProblem("UnknownFamily", "Unknown Family", detail, http.StatusBadRequest)
}

func NewOperationNotSupported(detail string) *ProblemDetailsImpl {
	return newProblem("OperationNotSupported", "Operation Not Supported", detail, http.StatusUnprocessableEntity)
}

//FromError maps errors from the data store onto problem details
func FromError(err error, traceID string) *ProblemDetailsImpl {
	var p *ProblemDetailsImpl

	switch {
	case errors.Is(err, eaverrors.ErrNotFound):
		p = NewNotFound(err.Error())
	case errors.Is(err, eaverrors.ErrUnknownFamily):
		p = NewUnknownFamily(err.Error())
	case errors.Is(err, eaverrors.ErrFamilyNotInstantiable):
		p = NewOperationNotSupported(err.Error())
	case errors.Is(err, eaverrors.ErrUnknownAttribute),
		errors.Is(err, eaverrors.ErrUnknownProperty),
		errors.Is(err, eaverrors.ErrInvalidValue),
		errors.Is(err, eaverrors.ErrInvalidValueCollection),
		errors.Is(err, eaverrors.ErrInvalidContextKey),
		errors.Is(err, eaverrors.ErrUnparseableDate):
		p = NewBadRequestData(err.Error())
	default:
		p = NewInternalError(err.Error())
	}

	p.traceID = traceID

	return p
}

//ReportError writes the problem details that correspond to err
func ReportError(w http.ResponseWriter, err error, traceID string) {
	FromError(err, traceID).WriteResponse(w)
}

func (p *ProblemDetailsImpl) ContentType() string {
	return ProblemReportContentType
}

func (p *ProblemDetailsImpl) Type() string {
	return p.typ
}

func (p *ProblemDetailsImpl) Title() string {
	return p.title
}

func (p *ProblemDetailsImpl) Detail() string {
	return p.detail
}

//MarshalJSON is called when a ProblemDetailsImpl instance should be serialized to JSON
func (p *ProblemDetailsImpl) MarshalJSON() ([]byte, error) {
	j, err := json.Marshal(struct {
		Type    string `json:"type"`
		Title   string `json:"title"`
		Detail  string `json:"detail"`
		TraceID string `json:"traceId,omitempty"`
	}{
		Type:    p.typ,
		Title:   p.title,
		Detail:  p.detail,
		TraceID: p.traceID,
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

//ResponseCode returns the HTTP response code to be used when returning a specific problem
func (p *ProblemDetailsImpl) ResponseCode() int {

	if p.code != 0 {
		return p.code
	}

	return http.StatusBadRequest
}

//WriteResponse writes the contents of this instance to a http.ResponseWriter
func (p *ProblemDetailsImpl) WriteResponse(w http.ResponseWriter) {
	w.Header().Add("Content-Type", p.ContentType())
	w.Header().Add("Content-Language", "en")
	w.WriteHeader(p.ResponseCode())

	pdbytes, err := json.MarshalIndent(p, "", "  ")
	if err == nil {
		w.Write(pdbytes)
	}
}
