package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/diwise/eav-store/internal/pkg/application/subscriptions"
	"github.com/diwise/eav-store/internal/pkg/infrastructure/database"
	"github.com/diwise/eav-store/pkg/eav"
	"github.com/diwise/eav-store/pkg/eav/document"
	eaverrors "github.com/diwise/eav-store/pkg/eav/errors"
	"github.com/diwise/eav-store/pkg/eav/schema"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("eav-store/datastore")

type DataCreator interface {
	CreateData(ctx context.Context, family string, parentID eav.ID, attributes map[string]any, ectx eav.Context) (*eav.Data, error)
	CloneData(ctx context.Context, id eav.ID) (*eav.Data, error)
}

type DataRetriever interface {
	RetrieveData(ctx context.Context, id eav.ID) (*eav.Data, error)
	RetrieveChildren(ctx context.Context, id eav.ID) ([]*eav.Data, error)
	QueryData(ctx context.Context, q database.Query) ([]*eav.Data, error)
}

type DataUpdater interface {
	UpdateAttributes(ctx context.Context, id eav.ID, attributes map[string]any, ectx eav.Context) (*eav.Data, error)
	AppendAttributeValue(ctx context.Context, id eav.ID, attribute string, value any, ectx eav.Context) (*eav.Data, error)
}

type DataDeleter interface {
	DeleteData(ctx context.Context, id eav.ID) ([]eav.ID, error)
}

// DataStore is the application service in front of a Store
type DataStore interface {
	DataCreator
	DataRetriever
	DataUpdater
	DataDeleter

	Families() []*schema.Family

	Start() error
	Stop() error
}

type metrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eav",
			Name:      "operations_total",
			Help:      "Number of data store operations by operation and family.",
		}, []string{"operation", "family"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eav",
			Name:      "operation_failures_total",
			Help:      "Number of failed data store operations by operation.",
		}, []string{"operation"}),
	}
}

type datastoreApp struct {
	mu       sync.Mutex
	store    database.Store
	registry *schema.Registry
	notifier subscriptions.Notifier
	metrics  *metrics
}

type AppDecoratorFunc func(app *datastoreApp)

func WithNotifier(n subscriptions.Notifier) AppDecoratorFunc {
	return func(app *datastoreApp) {
		app.notifier = n
	}
}

// WithRegisterer registers the metrics with reg instead of a private registry
func WithRegisterer(reg prometheus.Registerer) AppDecoratorFunc {
	return func(app *datastoreApp) {
		app.metrics = newMetrics(reg)
	}
}

func New(ctx context.Context, store database.Store, registry *schema.Registry, decorators ...AppDecoratorFunc) (DataStore, error) {
	if store == nil || registry == nil {
		return nil, eaverrors.NewInvalidConfigurationError("a store and a family registry are required")
	}

	app := &datastoreApp{
		store:    store,
		registry: registry,
	}

	for _, decorator := range decorators {
		decorator(app)
	}

	if app.metrics == nil {
		app.metrics = newMetrics(prometheus.NewRegistry())
	}

	return app, nil
}

// NewNotifierFromConfig creates one notifier per configured subscriber, or nil
// when there are none
func NewNotifierFromConfig(ctx context.Context, cfg *Config) (subscriptions.Notifier, error) {
	notifiers := []subscriptions.Notifier{}

	for _, subscriber := range cfg.Subscribers {
		n, err := subscriptions.NewNotifier(ctx, subscriber.Endpoint, subscriber.Families...)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}

	if len(notifiers) == 0 {
		return nil, nil
	}

	return subscriptions.NewFanout(notifiers...), nil
}

func (app *datastoreApp) CreateData(ctx context.Context, familyCode string, parentID eav.ID, attributes map[string]any, ectx eav.Context) (d *eav.Data, err error) {
	ctx, span := tracer.Start(ctx, "create-data", trace.WithAttributes(attribute.String("family", familyCode)))
	defer func() { app.done("create", familyCode, err); tracing.RecordAnyErrorAndEndSpan(err, span) }()

	family, err := app.registry.Family(familyCode)
	if err != nil {
		return nil, err
	}

	d, err = eav.New(family, eav.Parent(parentID), eav.CurrentContext(ectx))
	if err != nil {
		return nil, err
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	err = document.Apply(d, attributes, ectx, app.resolver(ctx))
	if err != nil {
		return nil, err
	}

	err = app.store.Save(ctx, d)
	if err != nil {
		return nil, err
	}

	logging.GetFromContext(ctx).Debug("data created", slog.Int64("id", int64(d.ID())), slog.String("family", familyCode))

	app.notifyChange(ctx, document.DataCreated, d)

	return d, nil
}

func (app *datastoreApp) CloneData(ctx context.Context, id eav.ID) (c *eav.Data, err error) {
	ctx, span := tracer.Start(ctx, "clone-data", trace.WithAttributes(attribute.Int64("id", int64(id))))
	defer func() { app.done("clone", familyOf(c), err); tracing.RecordAnyErrorAndEndSpan(err, span) }()

	app.mu.Lock()
	defer app.mu.Unlock()

	d, err := app.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	c = d.Clone()

	err = app.store.Save(ctx, c)
	if err != nil {
		return nil, err
	}

	app.notifyChange(ctx, document.DataCreated, c)

	return c, nil
}

func (app *datastoreApp) RetrieveData(ctx context.Context, id eav.ID) (d *eav.Data, err error) {
	ctx, span := tracer.Start(ctx, "retrieve-data", trace.WithAttributes(attribute.Int64("id", int64(id))))
	defer func() { app.done("retrieve", familyOf(d), err); tracing.RecordAnyErrorAndEndSpan(err, span) }()

	return app.store.Load(ctx, id)
}

func (app *datastoreApp) RetrieveChildren(ctx context.Context, id eav.ID) (children []*eav.Data, err error) {
	ctx, span := tracer.Start(ctx, "retrieve-children", trace.WithAttributes(attribute.Int64("id", int64(id))))
	defer func() { app.done("children", "", err); tracing.RecordAnyErrorAndEndSpan(err, span) }()

	ids, err := app.store.Children(ctx, id)
	if err != nil {
		return nil, err
	}

	return app.loadAll(ctx, ids)
}

func (app *datastoreApp) QueryData(ctx context.Context, q database.Query) (result []*eav.Data, err error) {
	ctx, span := tracer.Start(ctx, "query-data", trace.WithAttributes(attribute.String("family", q.Family)))
	defer func() { app.done("query", q.Family, err); tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if q.Family != "" {
		if _, err = app.registry.Family(q.Family); err != nil {
			return nil, err
		}
	}

	ids, err := app.store.FindByAttribute(ctx, q)
	if err != nil {
		return nil, err
	}

	return app.loadAll(ctx, ids)
}

func (app *datastoreApp) UpdateAttributes(ctx context.Context, id eav.ID, attributes map[string]any, ectx eav.Context) (d *eav.Data, err error) {
	ctx, span := tracer.Start(ctx, "update-attributes", trace.WithAttributes(attribute.Int64("id", int64(id))))
	defer func() { app.done("update", familyOf(d), err); tracing.RecordAnyErrorAndEndSpan(err, span) }()

	app.mu.Lock()
	defer app.mu.Unlock()

	d, err = app.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	d.SetCurrentContext(ectx)

	err = document.Apply(d, attributes, ectx, app.resolver(ctx))
	if err != nil {
		return nil, err
	}

	err = app.store.Save(ctx, d)
	if err != nil {
		return nil, err
	}

	app.notifyChange(ctx, document.DataUpdated, d)

	return d, nil
}

func (app *datastoreApp) AppendAttributeValue(ctx context.Context, id eav.ID, attributeCode string, value any, ectx eav.Context) (d *eav.Data, err error) {
	ctx, span := tracer.Start(ctx, "append-attribute", trace.WithAttributes(attribute.Int64("id", int64(id)), attribute.String("attribute", attributeCode)))
	defer func() { app.done("append", familyOf(d), err); tracing.RecordAnyErrorAndEndSpan(err, span) }()

	app.mu.Lock()
	defer app.mu.Unlock()

	d, err = app.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	d.SetCurrentContext(ectx)

	err = document.Append(d, attributeCode, value, ectx, app.resolver(ctx))
	if err != nil {
		return nil, err
	}

	err = app.store.Save(ctx, d)
	if err != nil {
		return nil, err
	}

	app.notifyChange(ctx, document.DataUpdated, d)

	return d, nil
}

func (app *datastoreApp) DeleteData(ctx context.Context, id eav.ID) (deleted []eav.ID, err error) {
	ctx, span := tracer.Start(ctx, "delete-data", trace.WithAttributes(attribute.Int64("id", int64(id))))

	family := ""
	defer func() { app.done("delete", family, err); tracing.RecordAnyErrorAndEndSpan(err, span) }()

	app.mu.Lock()
	defer app.mu.Unlock()

	d, err := app.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	family = d.FamilyCode()

	deleted, err = app.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	logging.GetFromContext(ctx).Debug("data deleted", slog.Int64("id", int64(id)), slog.Int("count", len(deleted)))

	if app.notifier != nil {
		ids := make([]int64, 0, len(deleted))
		for _, d := range deleted {
			ids = append(ids, int64(d))
		}
		app.notifier.DataDeleted(ctx, family, ids)
	}

	return deleted, nil
}

func (app *datastoreApp) Families() []*schema.Family {
	return app.registry.Families()
}

func (app *datastoreApp) Start() error {
	if app.notifier != nil {
		return app.notifier.Start()
	}

	return nil
}

func (app *datastoreApp) Stop() error {
	if app.notifier != nil {
		return app.notifier.Stop()
	}

	return nil
}

// resolver loads the data referenced by an incoming document
func (app *datastoreApp) resolver(ctx context.Context) document.ReferenceResolver {
	return func(id eav.ID) (*eav.Data, error) {
		d, err := app.store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve reference to %d: %w", id, err)
		}
		return d, nil
	}
}

func (app *datastoreApp) loadAll(ctx context.Context, ids []eav.ID) ([]*eav.Data, error) {
	result := make([]*eav.Data, 0, len(ids))

	for _, id := range ids {
		d, err := app.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return result, nil
}

func (app *datastoreApp) notifyChange(ctx context.Context, notificationType string, d *eav.Data) {
	if app.notifier == nil {
		return
	}

	doc, err := document.FromData(d, nil)
	if err != nil {
		logging.GetFromContext(ctx).Error("failed to render notification", slog.Int64("id", int64(d.ID())), "err", err.Error())
		return
	}

	if notificationType == document.DataCreated {
		app.notifier.DataCreated(ctx, doc)
	} else {
		app.notifier.DataUpdated(ctx, doc)
	}
}

func (app *datastoreApp) done(operation, family string, err error) {
	if err != nil {
		app.metrics.failures.WithLabelValues(operation).Inc()
		return
	}
	app.metrics.operations.WithLabelValues(operation, family).Inc()
}

func familyOf(d *eav.Data) string {
	if d == nil {
		return ""
	}
	return d.FamilyCode()
}
