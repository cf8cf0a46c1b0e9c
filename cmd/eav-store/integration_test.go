package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/diwise/eav-store/pkg/client"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matryer/is"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var method = expects.RequestMethod
var bodyContaining = expects.RequestBodyContaining

func DefaultTestFlags() FlagMap {
	return FlagMap{
		listenAddress: "127.0.0.1",
		servicePort:   "0", // any free port
		metricsPort:   "0",

		storageDriver: "memory",

		logFormat: "json",
	}
}

func TestIntegrateCreateAndRetrieveData(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())

	ms := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			bodyContaining(`"family": "book"`),
		),
		Returns(
			response.Code(http.StatusOK),
		),
	)
	defer ms.Close()

	appCfg := &AppConfig{
		storeConfig: newTestConfig(ms.URL()),
		opaConfig:   newAuthConfig(),
		registerer:  prometheus.NewRegistry(),
	}

	app, err := initialize(ctx, DefaultTestFlags(), appCfg)
	is.NoErr(err)

	done := make(chan error)
	go func() { done <- app.Run(ctx) }()

	c := client.NewEAVClient("http://127.0.0.1:" + appCfg.publicPort)

	author, err := c.CreateData(ctx, "author", 0, map[string]any{"name": "Frank Herbert"})
	is.NoErr(err)

	book, err := c.CreateData(ctx, "book", 0, map[string]any{
		"title":  "Dune",
		"author": author.ID,
		"tags":   []string{"scifi"},
	}, client.InContext("locale", "en"))
	is.NoErr(err)
	is.Equal(book.Label, "Dune")

	retrieved, err := c.RetrieveData(ctx, book.ID, client.InContext("locale", "en"))
	is.NoErr(err)

	ref, ok := retrieved.Attributes["author"].(map[string]any)
	is.True(ok) // the author should be rendered as a reference
	is.Equal(ref["label"], "Frank Herbert")

	resp, body := testRequest(appCfg.metricsPort, http.MethodGet, "/metrics", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, `eav_operations_total{family="book",operation="create"} 1`))

	cancel()

	select {
	case err = <-done:
		is.NoErr(err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not shut down")
	}

	is.Equal(ms.RequestCount(), 1) // only the book should have been notified
}

func TestIntegrateFamilies(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appCfg := &AppConfig{
		storeConfig: newTestConfig("http://127.0.0.1:1"),
		opaConfig:   newAuthConfig(),
	}

	app, err := initialize(ctx, DefaultTestFlags(), appCfg)
	is.NoErr(err)

	go app.Run(ctx)

	resp, body := testRequest(appCfg.publicPort, http.MethodGet, "/api/v1/families", nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	families := []map[string]any{}
	is.NoErr(json.Unmarshal([]byte(body), &families))
	is.Equal(len(families), 2)
}

func TestFailedInitializeReleasesPorts(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	is.NoErr(err)
	defer occupied.Close()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	is.NoErr(err)
	publicPort := portOf(free)
	free.Close()

	flags := DefaultTestFlags()
	flags[servicePort] = publicPort
	flags[metricsPort] = portOf(occupied)

	_, err = initialize(ctx, flags, &AppConfig{
		storeConfig: newTestConfig("http://127.0.0.1:1"),
		opaConfig:   newAuthConfig(),
		registerer:  prometheus.NewRegistry(),
	})
	is.True(err != nil) // the metrics port is already taken

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", publicPort))
	is.NoErr(err) // the public port should have been released
	l.Close()
}

func testRequest(port, method, path string, body io.Reader) (*http.Response, string) {
	req, _ := http.NewRequest(method, "http://127.0.0.1:"+port+path, body)
	resp, _ := http.DefaultClient.Do(req)
	respBody, _ := io.ReadAll(resp.Body)
	defer resp.Body.Close()

	return resp, string(respBody)
}

func newAuthConfig() io.ReadCloser {
	return io.NopCloser(bytes.NewBufferString(opaModule))
}

func newTestConfig(url string) io.ReadCloser {
	return io.NopCloser(bytes.NewBufferString(fmt.Sprintf(configFileFmt, url)))
}

var configFileFmt string = `
storage:
  driver: sqlite
  path: ":memory:"
subscribers:
  - endpoint: %s
    families: [book]
families:
  - code: book
    attributeAsLabel: title
    contextKeys: [locale]
    defaultContext:
      locale: sv
    attributes:
      - code: title
        contextMask: [locale]
      - code: tags
        multiple: true
      - code: author
        type: data
  - code: author
    attributeAsLabel: name
    attributes:
      - code: name
`

const opaModule string = `
package eav.authz

default allow := false

allow = response {
    response := {
    }
}
`
