package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/diwise/eav-store/pkg/eav/document"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

type Notifier interface {
	Start() error
	Stop() error

	DataCreated(ctx context.Context, doc document.Document)
	DataUpdated(ctx context.Context, doc document.Document)
	DataDeleted(ctx context.Context, family string, ids []int64)
}

var tracer = otel.Tracer("eav-store/notifier")

type action func()

type notifier struct {
	started  bool
	endpoint string
	families []string

	queue chan action
}

// NewNotifier posts notifications to endpoint. When families are given, only
// changes to data of those families are posted.
func NewNotifier(ctx context.Context, endpoint string, families ...string) (Notifier, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("a notification endpoint is required")
	}

	return &notifier{
		endpoint: endpoint,
		families: families,
		queue:    make(chan action, 32),
	}, nil
}

func (n *notifier) Start() error {
	if n.started {
		return fmt.Errorf("already started")
	}

	n.started = true
	n.queue = make(chan action, 32)

	go n.run()

	return nil
}

func (n *notifier) Stop() error {
	if n.started {
		// Create a result channel so that we can wait for completion
		resultChan := make(chan bool)

		n.queue <- func() {
			// close the queue to signal the consumers that we are going out of business
			close(n.queue)
			resultChan <- true
		}

		// blocking read until our action has been processed
		<-resultChan
		n.started = false
	}
	return nil
}

func (n *notifier) DataCreated(ctx context.Context, doc document.Document) {
	n.enqueue(ctx, doc.Family, document.NewChangeNotification(document.DataCreated, doc))
}

func (n *notifier) DataUpdated(ctx context.Context, doc document.Document) {
	n.enqueue(ctx, doc.Family, document.NewChangeNotification(document.DataUpdated, doc))
}

func (n *notifier) DataDeleted(ctx context.Context, family string, ids []int64) {
	n.enqueue(ctx, family, document.NewDeleteNotification(family, ids))
}

func (n *notifier) enqueue(ctx context.Context, family string, notification *document.Notification) {
	if !n.started {
		return
	}

	if len(n.families) > 0 && !slices.Contains(n.families, family) {
		return
	}

	var err error

	logger := logging.GetFromContext(ctx)

	ctx, span := tracer.Start(
		tracing.ExtractHeaders(context.Background(), tracing.InjectHeaders(ctx)),
		"post",
	)

	n.queue <- func() {
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		err = postNotification(ctx, notification, n.endpoint)
		if err != nil {
			logger.Error("failed to post notification", "type", notification.Type, "err", err.Error())
		}
	}
}

func postNotification(ctx context.Context, notification *document.Notification, endpoint string) error {
	body, err := json.MarshalIndent(notification, "", " ")
	if err != nil {
		return fmt.Errorf("marshalling error (%w)", err)
	}

	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("unable to create new request (%w)", err)
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request (%w)", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notification endpoint responded with status code %d", resp.StatusCode)
	}

	return nil
}

func (n *notifier) run() {
	// repeat until the queue is closed
	for action := range n.queue {
		if action == nil {
			return
		}

		action()
	}
}

// fanout forwards every call to a set of notifiers
type fanout []Notifier

// NewFanout combines notifiers so that they can be started, stopped and
// notified as one
func NewFanout(notifiers ...Notifier) Notifier {
	return fanout(notifiers)
}

func (f fanout) Start() error {
	for _, n := range f {
		if err := n.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (f fanout) Stop() error {
	for _, n := range f {
		if err := n.Stop(); err != nil {
			return err
		}
	}
	return nil
}

func (f fanout) DataCreated(ctx context.Context, doc document.Document) {
	for _, n := range f {
		n.DataCreated(ctx, doc)
	}
}

func (f fanout) DataUpdated(ctx context.Context, doc document.Document) {
	for _, n := range f {
		n.DataUpdated(ctx, doc)
	}
}

func (f fanout) DataDeleted(ctx context.Context, family string, ids []int64) {
	for _, n := range f {
		n.DataDeleted(ctx, family, ids)
	}
}
