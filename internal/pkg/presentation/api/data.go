package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/diwise/eav-store/internal/pkg/application/datastore"
	"github.com/diwise/eav-store/internal/pkg/infrastructure/database"
	"github.com/diwise/eav-store/internal/pkg/presentation/api/auth"
	"github.com/diwise/eav-store/internal/pkg/presentation/api/problems"
	"github.com/diwise/eav-store/pkg/eav"
	"github.com/diwise/eav-store/pkg/eav/document"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreateDataRequest is the body of a POST to /data
type CreateDataRequest struct {
	Family     string         `json:"family"`
	ParentID   int64          `json:"parentId,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// AppendValueRequest is the body of a POST to /data/{id}/attrs/{attribute}
type AppendValueRequest struct {
	Value   any            `json:"value"`
	Context map[string]any `json:"context,omitempty"`
}

func NewCreateDataHandler(app datastore.DataCreator, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "create-data")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		traceID, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		request := CreateDataRequest{}
		err = decodeBody(r.Body, &request)
		if err != nil {
			problems.NewInvalidRequest(fmt.Sprintf("unable to decode request payload: %s", err.Error())).WriteResponse(w)
			return
		}

		if request.Family == "" {
			problems.NewBadRequestData("a family is required").WriteResponse(w)
			return
		}

		span.SetAttributes(attribute.String(TraceAttributeFamily, request.Family))

		err = authenticator.CheckAccess(ctx, r, []string{request.Family})
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		ectx := requestContext(r, request.Context)

		d, err := app.CreateData(ctx, request.Family, eav.ID(request.ParentID), request.Attributes, ectx)
		if err != nil {
			log.Error("failed to create data", "err", err.Error())
			problems.ReportError(w, err, traceID)
			return
		}

		w.Header().Add("Location", fmt.Sprintf("/api/v1/data/%d", d.ID()))
		writeDocument(w, http.StatusCreated, d, ectx)
	})
}

func NewRetrieveDataHandler(app datastore.DataRetriever, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		id, ok := dataID(w, r)
		if !ok {
			return
		}

		ctx, span := tracer.Start(r.Context(), "retrieve-data",
			trace.WithAttributes(attribute.Int64(TraceAttributeDataID, int64(id))),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		traceID, ctx, _ := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		err = authenticator.CheckAccess(ctx, r, nil)
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		d, err := app.RetrieveData(ctx, id)
		if err != nil {
			problems.ReportError(w, err, traceID)
			return
		}

		writeDocument(w, http.StatusOK, d, requestContext(r, nil))
	})
}

func NewUpdateAttributesHandler(app datastore.DataUpdater, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		id, ok := dataID(w, r)
		if !ok {
			return
		}

		ctx, span := tracer.Start(r.Context(), "update-attributes",
			trace.WithAttributes(attribute.Int64(TraceAttributeDataID, int64(id))),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		traceID, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		attributes := map[string]any{}
		err = decodeBody(r.Body, &attributes)
		if err != nil {
			problems.NewInvalidRequest(fmt.Sprintf("unable to decode request payload: %s", err.Error())).WriteResponse(w)
			return
		}

		err = authenticator.CheckAccess(ctx, r, nil)
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		ectx := requestContext(r, nil)

		d, err := app.UpdateAttributes(ctx, id, attributes, ectx)
		if err != nil {
			log.Error("failed to update attributes", "err", err.Error())
			problems.ReportError(w, err, traceID)
			return
		}

		writeDocument(w, http.StatusOK, d, ectx)
	})
}

func NewAppendAttributeValueHandler(app datastore.DataUpdater, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		id, ok := dataID(w, r)
		if !ok {
			return
		}

		attributeCode := chi.URLParam(r, "attribute")

		ctx, span := tracer.Start(r.Context(), "append-attribute",
			trace.WithAttributes(
				attribute.Int64(TraceAttributeDataID, int64(id)),
				attribute.String(TraceAttributeAttrCode, attributeCode),
			),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		traceID, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		request := AppendValueRequest{}
		err = decodeBody(r.Body, &request)
		if err != nil {
			problems.NewInvalidRequest(fmt.Sprintf("unable to decode request payload: %s", err.Error())).WriteResponse(w)
			return
		}

		err = authenticator.CheckAccess(ctx, r, nil)
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		ectx := requestContext(r, request.Context)

		d, err := app.AppendAttributeValue(ctx, id, attributeCode, request.Value, ectx)
		if err != nil {
			log.Error("failed to append attribute value", "err", err.Error())
			problems.ReportError(w, err, traceID)
			return
		}

		writeDocument(w, http.StatusOK, d, ectx)
	})
}

func NewCloneDataHandler(app datastore.DataCreator, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		id, ok := dataID(w, r)
		if !ok {
			return
		}

		ctx, span := tracer.Start(r.Context(), "clone-data",
			trace.WithAttributes(attribute.Int64(TraceAttributeDataID, int64(id))),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		traceID, ctx, _ := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		err = authenticator.CheckAccess(ctx, r, nil)
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		c, err := app.CloneData(ctx, id)
		if err != nil {
			problems.ReportError(w, err, traceID)
			return
		}

		w.Header().Add("Location", fmt.Sprintf("/api/v1/data/%d", c.ID()))
		writeDocument(w, http.StatusCreated, c, requestContext(r, nil))
	})
}

func NewDeleteDataHandler(app datastore.DataDeleter, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		id, ok := dataID(w, r)
		if !ok {
			return
		}

		ctx, span := tracer.Start(r.Context(), "delete-data",
			trace.WithAttributes(attribute.Int64(TraceAttributeDataID, int64(id))),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		traceID, ctx, _ := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		err = authenticator.CheckAccess(ctx, r, nil)
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		_, err = app.DeleteData(ctx, id)
		if err != nil {
			problems.ReportError(w, err, traceID)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func NewRetrieveChildrenHandler(app datastore.DataRetriever, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		id, ok := dataID(w, r)
		if !ok {
			return
		}

		ctx, span := tracer.Start(r.Context(), "retrieve-children",
			trace.WithAttributes(attribute.Int64(TraceAttributeDataID, int64(id))),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		traceID, ctx, _ := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		err = authenticator.CheckAccess(ctx, r, nil)
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		children, err := app.RetrieveChildren(ctx, id)
		if err != nil {
			problems.ReportError(w, err, traceID)
			return
		}

		writeDocuments(w, children, requestContext(r, nil), traceID)
	})
}

func NewQueryDataHandler(app datastore.DataStore, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		params := r.URL.Query()

		q := database.Query{
			Family:    params.Get("family"),
			Attribute: params.Get("attribute"),
		}

		ctx, span := tracer.Start(r.Context(), "query-data",
			trace.WithAttributes(attribute.String(TraceAttributeFamily, q.Family)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		traceID, ctx, _ := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		q.Limit, err = intParam(params.Get("limit"))
		if err != nil {
			problems.NewBadRequestData("limit must be a non negative integer").WriteResponse(w)
			return
		}

		q.Offset, err = intParam(params.Get("offset"))
		if err != nil {
			problems.NewBadRequestData("offset must be a non negative integer").WriteResponse(w)
			return
		}

		if q.Attribute != "" {
			if q.Family == "" {
				err = fmt.Errorf("a family is required when querying by attribute")
				problems.NewBadRequestData(err.Error()).WriteResponse(w)
				return
			}

			if params.Has("value") {
				q.Value = queryValue(app, q.Family, q.Attribute, params.Get("value"))
			}
		}

		families := []string{}
		if q.Family != "" {
			families = append(families, q.Family)
		}

		err = authenticator.CheckAccess(ctx, r, families)
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		result, err := app.QueryData(ctx, q)
		if err != nil {
			problems.ReportError(w, err, traceID)
			return
		}

		writeDocuments(w, result, requestContext(r, nil), traceID)
	})
}

// FamilyDescription is the rendering of a configured family
type FamilyDescription struct {
	Code             string                 `json:"code"`
	Parent           string                 `json:"parent,omitempty"`
	Instantiable     bool                   `json:"instantiable"`
	AttributeAsLabel string                 `json:"attributeAsLabel,omitempty"`
	ContextKeys      []string               `json:"contextKeys,omitempty"`
	DefaultContext   map[string]any         `json:"defaultContext,omitempty"`
	Attributes       []AttributeDescription `json:"attributes"`
}

type AttributeDescription struct {
	Code        string   `json:"code"`
	Type        string   `json:"type"`
	Multiple    bool     `json:"multiple,omitempty"`
	ContextMask []string `json:"contextMask,omitempty"`
}

func NewRetrieveFamiliesHandler(app datastore.DataStore, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "retrieve-families")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		err = authenticator.CheckAccess(ctx, r, nil)
		if err != nil {
			problems.NewUnauthorizedRequest(err.Error()).WriteResponse(w)
			return
		}

		result := []FamilyDescription{}

		for _, f := range app.Families() {
			fd := FamilyDescription{
				Code:           f.Code(),
				Parent:         f.Parent(),
				Instantiable:   f.IsInstantiable(),
				ContextKeys:    f.ContextKeys(),
				DefaultContext: f.DefaultContext(),
				Attributes:     []AttributeDescription{},
			}

			if label := f.AttributeAsLabel(); label != nil {
				fd.AttributeAsLabel = label.Code()
			}

			for _, a := range f.Attributes() {
				fd.Attributes = append(fd.Attributes, AttributeDescription{
					Code:        a.Code(),
					Type:        a.Type().Code(),
					Multiple:    a.Multiple(),
					ContextMask: a.ContextMask(),
				})
			}

			result = append(result, fd)
		}

		writeJSON(w, http.StatusOK, result)
	})
}

func decodeBody(body io.Reader, v any) error {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	return decoder.Decode(v)
}

func dataID(w http.ResponseWriter, r *http.Request) (eav.ID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "dataId"), 10, 64)
	if err != nil || id <= 0 {
		problems.NewInvalidRequest("data id must be a positive integer").WriteResponse(w)
		return 0, false
	}
	return eav.ID(id), true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}

	if i < 0 {
		return 0, fmt.Errorf("negative value %d", i)
	}

	return i, nil
}

// queryValue converts a query parameter into something the storage type of
// the attribute accepts
func queryValue(app datastore.DataStore, familyCode, attributeCode, raw string) any {
	for _, f := range app.Families() {
		if f.Code() != familyCode {
			continue
		}

		a := f.Attribute(attributeCode)
		if a == nil {
			break
		}

		switch a.Type().DatabaseType() {
		case eav.BoolValue:
			if b, err := strconv.ParseBool(raw); err == nil {
				return b
			}
		case eav.IntegerValue, eav.DecimalValue, eav.DataValue:
			return json.Number(raw)
		}
	}

	return raw
}

// requestContext merges context dimensions from the query string with those
// given in a request body, the latter taking precedence
func requestContext(r *http.Request, fromBody map[string]any) eav.Context {
	dimensions := GetDimensionsFromContext(r.Context())

	if len(dimensions) == 0 && len(fromBody) == 0 {
		return nil
	}

	ectx := eav.Context{}
	for k, v := range dimensions {
		ectx[k] = v
	}
	for k, v := range fromBody {
		ectx[k] = v
	}

	return ectx
}

func render(d *eav.Data, ectx eav.Context) (document.Document, error) {
	if len(ectx) > 0 {
		d.SetCurrentContext(ectx)
	}
	return document.FromData(d, ectx)
}

func writeDocument(w http.ResponseWriter, statusCode int, d *eav.Data, ectx eav.Context) {
	doc, err := render(d, ectx)
	if err != nil {
		problems.ReportError(w, err, "")
		return
	}

	writeJSON(w, statusCode, doc)
}

func writeDocuments(w http.ResponseWriter, data []*eav.Data, ectx eav.Context, traceID string) {
	docs := make([]document.Document, 0, len(data))

	for _, d := range data {
		doc, err := render(d, ectx)
		if err != nil {
			problems.ReportError(w, err, traceID)
			return
		}
		docs = append(docs, doc)
	}

	writeJSON(w, http.StatusOK, docs)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		problems.NewInternalError(err.Error()).WriteResponse(w)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}
