package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/diwise/eav-store/pkg/eav/document"
	"github.com/diwise/eav-store/pkg/eav/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type EAVClient interface {
	CreateData(ctx context.Context, family string, parentID int64, attributes map[string]any, params ...RequestDecoratorFunc) (*document.Document, error)
	RetrieveData(ctx context.Context, id int64, params ...RequestDecoratorFunc) (*document.Document, error)
	QueryData(ctx context.Context, params ...RequestDecoratorFunc) ([]document.Document, error)
	RetrieveChildren(ctx context.Context, id int64, params ...RequestDecoratorFunc) ([]document.Document, error)
	UpdateAttributes(ctx context.Context, id int64, attributes map[string]any, params ...RequestDecoratorFunc) (*document.Document, error)
	AppendAttributeValue(ctx context.Context, id int64, attributeCode string, value any, params ...RequestDecoratorFunc) (*document.Document, error)
	CloneData(ctx context.Context, id int64) (*document.Document, error)
	DeleteData(ctx context.Context, id int64) error
}

type RequestDecoratorFunc func([]string) []string

// Family restricts a query to data of a family
func Family(code string) RequestDecoratorFunc {
	return param("family", code)
}

// Attribute restricts a query to data having an attribute value
func Attribute(code string, value any) RequestDecoratorFunc {
	return func(params []string) []string {
		params = param("attribute", code)(params)
		return param("value", fmt.Sprintf("%v", value))(params)
	}
}

func Limit(limit uint64) RequestDecoratorFunc {
	return param("limit", strconv.FormatUint(limit, 10))
}

func Offset(offset uint64) RequestDecoratorFunc {
	return param("offset", strconv.FormatUint(offset, 10))
}

// InContext sets a context dimension, such as locale, for the request
func InContext(key, value string) RequestDecoratorFunc {
	return param(key, value)
}

func param(name, value string) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, name+"="+url.QueryEscape(value))
	}
}

func Debug(enabled string) func(*eavClient) {
	return func(c *eavClient) {
		c.debug = (enabled == "true")
	}
}

func Token(token string) func(*eavClient) {
	return func(c *eavClient) {
		c.token = token
	}
}

func NewEAVClient(baseURL string, options ...func(*eavClient)) EAVClient {
	c := &eavClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		debug:   false,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

const (
	TraceAttributeDataID string = "eav-data-id"
	TraceAttributeFamily string = "eav-family"
)

var tracer = otel.Tracer("eav-store-client")

type eavClient struct {
	baseURL string
	token   string
	debug   bool
}

func (c eavClient) CreateData(ctx context.Context, family string, parentID int64, attributes map[string]any, params ...RequestDecoratorFunc) (*document.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "create-data",
		trace.WithAttributes(attribute.String(TraceAttributeFamily, family)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(map[string]any{
		"family":     family,
		"parentId":   parentID,
		"attributes": attributes,
	})
	if err != nil {
		return nil, err
	}

	doc := &document.Document{}
	err = c.call(ctx, http.MethodPost, "/api/v1/data"+query(params), bytes.NewBuffer(body), http.StatusCreated, doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (c eavClient) RetrieveData(ctx context.Context, id int64, params ...RequestDecoratorFunc) (*document.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "retrieve-data",
		trace.WithAttributes(attribute.Int64(TraceAttributeDataID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	doc := &document.Document{}
	err = c.call(ctx, http.MethodGet, dataPath(id)+query(params), nil, http.StatusOK, doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (c eavClient) QueryData(ctx context.Context, params ...RequestDecoratorFunc) ([]document.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "query-data")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	docs := []document.Document{}
	err = c.call(ctx, http.MethodGet, "/api/v1/data"+query(params), nil, http.StatusOK, &docs)
	if err != nil {
		return nil, err
	}

	return docs, nil
}

func (c eavClient) RetrieveChildren(ctx context.Context, id int64, params ...RequestDecoratorFunc) ([]document.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "retrieve-children",
		trace.WithAttributes(attribute.Int64(TraceAttributeDataID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	docs := []document.Document{}
	err = c.call(ctx, http.MethodGet, dataPath(id)+"/children"+query(params), nil, http.StatusOK, &docs)
	if err != nil {
		return nil, err
	}

	return docs, nil
}

func (c eavClient) UpdateAttributes(ctx context.Context, id int64, attributes map[string]any, params ...RequestDecoratorFunc) (*document.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "update-attributes",
		trace.WithAttributes(attribute.Int64(TraceAttributeDataID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(attributes)
	if err != nil {
		return nil, err
	}

	doc := &document.Document{}
	err = c.call(ctx, http.MethodPatch, dataPath(id)+query(params), bytes.NewBuffer(body), http.StatusOK, doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (c eavClient) AppendAttributeValue(ctx context.Context, id int64, attributeCode string, value any, params ...RequestDecoratorFunc) (*document.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "append-attribute",
		trace.WithAttributes(attribute.Int64(TraceAttributeDataID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return nil, err
	}

	doc := &document.Document{}
	err = c.call(ctx, http.MethodPost, dataPath(id)+"/attrs/"+url.PathEscape(attributeCode)+query(params), bytes.NewBuffer(body), http.StatusOK, doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (c eavClient) CloneData(ctx context.Context, id int64) (*document.Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "clone-data",
		trace.WithAttributes(attribute.Int64(TraceAttributeDataID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	doc := &document.Document{}
	err = c.call(ctx, http.MethodPost, dataPath(id)+"/clone", nil, http.StatusCreated, doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (c eavClient) DeleteData(ctx context.Context, id int64) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-data",
		trace.WithAttributes(attribute.Int64(TraceAttributeDataID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = c.call(ctx, http.MethodDelete, dataPath(id), nil, http.StatusNoContent, nil)
	return err
}

func (c eavClient) call(ctx context.Context, method, path string, body io.Reader, expectedStatusCode int, result any) error {
	response, responseBody, err := c.callDataStore(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	if response.StatusCode != expectedStatusCode {
		contentType := response.Header.Get("Content-Type")
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode <= http.StatusInternalServerError {
			return errors.NewErrorFromProblemReport(response.StatusCode, contentType, responseBody)
		}

		return fmt.Errorf("unexpected response code %d (%w)", response.StatusCode, errors.ErrBadResponse)
	}

	if result == nil {
		return nil
	}

	err = json.Unmarshal(responseBody, result)
	if err != nil {
		if c.debug && len(responseBody) < 1000 {
			err = fmt.Errorf("unmarshaling of %s failed with err %s", string(responseBody), err.Error())
		}
		return fmt.Errorf("%s (%w)", err.Error(), errors.ErrBadResponse)
	}

	return nil
}

func (c eavClient) callDataStore(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, []byte, error) {
	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		err = fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
		return nil, nil, err
	}

	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Add("Authorization", "Bearer "+c.token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrRequest)
		return nil, nil, err
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
		return nil, nil, err
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Error("request failed", "request", string(reqbytes), "response", string(respbytes))
	}

	return resp, respBody, nil
}

func dataPath(id int64) string {
	return fmt.Sprintf("/api/v1/data/%d", id)
}

func query(params []RequestDecoratorFunc) string {
	values := make([]string, 0, len(params))
	for _, p := range params {
		values = p(values)
	}

	if len(values) == 0 {
		return ""
	}

	return "?" + strings.Join(values, "&")
}
