package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/diwise/eav-store/internal/pkg/application/datastore"
	"github.com/diwise/eav-store/internal/pkg/presentation/api/auth"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("eav-store/api")

const (
	TraceAttributeDataID   string = "eav-data-id"
	TraceAttributeFamily   string = "eav-family"
	TraceAttributeAttrCode string = "eav-attribute"
)

func RegisterHandlers(ctx context.Context, r chi.Router, policies io.Reader, app datastore.DataStore) error {

	authenticator, err := auth.NewAuthenticator(ctx, policies)
	if err != nil {
		return fmt.Errorf("failed to create api authenticator: %w", err)
	}

	contextKeys := map[string]bool{}
	for _, f := range app.Families() {
		for _, key := range f.ContextKeys() {
			contextKeys[key] = true
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(
			Logger(logging.GetFromContext(ctx)),
			RequiredContentTypes([]string{"application/json"}),
			ContextDimensions(contextKeys),
		)

		r.Route("/data", func(r chi.Router) {
			r.Get("/", NewQueryDataHandler(app, authenticator))
			r.Post("/", NewCreateDataHandler(app, authenticator))

			r.Route("/{dataId}", func(r chi.Router) {
				r.Get("/", NewRetrieveDataHandler(app, authenticator))
				r.Patch("/", NewUpdateAttributesHandler(app, authenticator))
				r.Delete("/", NewDeleteDataHandler(app, authenticator))

				r.Post("/attrs/{attribute}", NewAppendAttributeValueHandler(app, authenticator))
				r.Post("/clone", NewCloneDataHandler(app, authenticator))
				r.Get("/children", NewRetrieveChildrenHandler(app, authenticator))
			})
		})

		r.Get("/families", NewRetrieveFamiliesHandler(app, authenticator))
	})

	return nil
}

func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			_, ctx, _ = o11y.AddTraceIDToLoggerAndStoreInContext(
				trace.SpanFromContext(ctx),
				logger,
				ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequiredContentTypes(validTypes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contentType := r.Header.Get("Content-Type")
			isValidContentType := true

			if len(contentType) > 0 {
				isValidContentType = false

				for _, t := range validTypes {
					if strings.HasPrefix(contentType, t) {
						isValidContentType = true
						break
					}
				}
			}

			if isValidContentType {
				next.ServeHTTP(w, r)
			} else {
				http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
			}
		})
	}
}

type dimensionsContextKey struct {
	name string
}

var dimensionsCtxKey = &dimensionsContextKey{"eav-context"}

// ContextDimensions picks query parameters named after a known context key,
// such as ?locale=sv, and stores them in the request context
func ContextDimensions(keys map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dimensions := map[string]any{}

			for name, values := range r.URL.Query() {
				if keys[name] && len(values) > 0 && values[0] != "" {
					dimensions[name] = values[0]
				}
			}

			ctx := r.Context()

			if len(dimensions) > 0 {
				ctx = context.WithValue(ctx, dimensionsCtxKey, dimensions)
				ctx = logging.NewContextWithLogger(ctx, logging.GetFromContext(ctx), "context", dimensions)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDimensionsFromContext returns the context dimensions given in the request, if any
func GetDimensionsFromContext(ctx context.Context) map[string]any {
	dimensions, ok := ctx.Value(dimensionsCtxKey).(map[string]any)
	if !ok {
		return nil
	}

	return dimensions
}
