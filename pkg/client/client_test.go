package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"

	"github.com/matryer/is"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var method = expects.RequestMethod
var path = expects.RequestPath
var bodyContaining = expects.RequestBodyContaining
var queryParam = expects.QueryParamEquals

func TestCreateData(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/api/v1/data"),
			queryParam("locale", "sv"),
			bodyContaining(`"family":"book"`, `"title":"Dune"`),
		),
		Returns(
			response.ContentType("application/json"),
			response.Location("/api/v1/data/1"),
			response.Code(http.StatusCreated),
			response.Body([]byte(bookResponse)),
		),
	)
	defer s.Close()

	c := NewEAVClient(s.URL())

	doc, err := c.CreateData(context.Background(), "book", 0, map[string]any{"title": "Dune"}, InContext("locale", "sv"))
	is.NoErr(err)
	is.Equal(doc.ID, int64(1))
	is.Equal(doc.Label, "Dune")
}

func TestRetrieveData(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/api/v1/data/1"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(bookResponse)),
		),
	)
	defer s.Close()

	c := NewEAVClient(s.URL())

	doc, err := c.RetrieveData(context.Background(), 1)
	is.NoErr(err)
	is.Equal(doc.Attributes["tags"], []any{"scifi", "classic"})
}

func TestRetrieveDataThatDoesNotExist(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, expects.AnyInput()),
		Returns(
			response.ContentType("application/problem+json"),
			response.Code(http.StatusNotFound),
			response.Body([]byte(`{"type":"urn:eav:errors:ResourceNotFound","title":"Not Found","detail":"no data with id 4711"}`)),
		),
	)
	defer s.Close()

	c := NewEAVClient(s.URL())

	_, err := c.RetrieveData(context.Background(), 4711)
	is.True(errors.Is(err, eaverrors.ErrNotFound))
}

func TestQueryData(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/api/v1/data"),
			queryParam("family", "book"),
			queryParam("attribute", "pages"),
			queryParam("value", "412"),
			queryParam("limit", "10"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte("[" + bookResponse + "]")),
		),
	)
	defer s.Close()

	c := NewEAVClient(s.URL())

	docs, err := c.QueryData(context.Background(), Family("book"), Attribute("pages", 412), Limit(10))
	is.NoErr(err)
	is.Equal(len(docs), 1)
}

func TestUpdateAttributesWithBadData(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPatch),
			path("/api/v1/data/1"),
			bodyContaining(`"pages":"many"`),
		),
		Returns(
			response.ContentType("application/problem+json"),
			response.Code(http.StatusBadRequest),
			response.Body([]byte(`{"type":"urn:eav:errors:BadRequestData","title":"Bad Request Data","detail":"expected an integer"}`)),
		),
	)
	defer s.Close()

	c := NewEAVClient(s.URL())

	_, err := c.UpdateAttributes(context.Background(), 1, map[string]any{"pages": "many"})
	is.True(errors.Is(err, eaverrors.ErrInvalidValue))
}

func TestDeleteData(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodDelete),
			path("/api/v1/data/1"),
		),
		Returns(
			response.Code(http.StatusNoContent),
		),
	)
	defer s.Close()

	c := NewEAVClient(s.URL(), Token("s3cr3t"))

	is.NoErr(c.DeleteData(context.Background(), 1))
	is.Equal(s.RequestCount(), 1)
}

func TestUnexpectedStatusCode(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, expects.AnyInput()),
		Returns(response.Code(http.StatusOK)),
	)
	defer s.Close()

	c := NewEAVClient(s.URL())

	_, err := c.CloneData(context.Background(), 1)
	is.True(errors.Is(err, eaverrors.ErrBadResponse))
}

const bookResponse string = `{
	"id": 1,
	"family": "book",
	"label": "Dune",
	"version": 1,
	"createdAt": "2024-03-01T10:00:00Z",
	"updatedAt": "2024-03-01T10:00:00Z",
	"attributes": {
		"title": "Dune",
		"tags": ["scifi", "classic"]
	}
}`
