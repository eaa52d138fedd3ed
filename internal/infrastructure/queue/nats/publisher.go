package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/resilience"
)

const (
	EventOrderPlaced    = "order.placed"
	EventUnitSkipped    = "unit.skipped"
	EventOrderFulfilled = "order.fulfilled"
)

// OrderEvent is the JSON payload published for every lifecycle transition.
type OrderEvent struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	SiteID      string    `json:"site_id"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	WindowStart string    `json:"window_start"`
	WindowEnd   string    `json:"window_end"`
	SceneID     string    `json:"scene_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Files       []string  `json:"files,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type connection interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher emits order lifecycle events on a single subject.
type Publisher struct {
	conn     connection
	subject  string
	executor *resilience.Executor
	now      func() time.Time
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*Publisher, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("imagery-acquisition"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(conn, subject, options.ResilienceExecutor), nil
}

func newPublisher(conn connection, subject string, executor *resilience.Executor) *Publisher {
	return &Publisher{
		conn:     conn,
		subject:  subject,
		executor: executor,
		now:      time.Now,
	}
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) RecordPlacement(ctx context.Context, runID string, outcome domain.PlacementOutcome) error {
	event := p.unitEvent(runID, outcome.Unit)
	event.Attempts = outcome.Attempts
	switch {
	case outcome.Order != nil:
		event.Type = EventOrderPlaced
		event.SceneID = outcome.Order.SceneID
		event.OrderID = outcome.Order.OrderID
	case outcome.Skip != nil:
		event.Type = EventUnitSkipped
		event.Reason = string(outcome.Skip.Reason)
		event.Error = outcome.Skip.Error
	default:
		return nil
	}
	return p.publish(ctx, event)
}

func (p *Publisher) RecordFulfillment(ctx context.Context, runID string, outcome domain.FulfillmentOutcome) error {
	event := p.unitEvent(runID, outcome.Order.Unit)
	event.Type = EventOrderFulfilled
	event.SceneID = outcome.Order.SceneID
	event.OrderID = outcome.Order.OrderID
	event.Status = string(outcome.Status)
	event.Files = outcome.Downloaded
	event.Error = outcome.Error
	return p.publish(ctx, event)
}

func (p *Publisher) unitEvent(runID string, unit domain.WorkUnit) OrderEvent {
	return OrderEvent{
		RunID:       runID,
		SiteID:      unit.SiteID,
		Latitude:    unit.Latitude,
		Longitude:   unit.Longitude,
		WindowStart: unit.WindowStart.Format(domain.DateLayout),
		WindowEnd:   unit.WindowEnd.Format(domain.DateLayout),
		OccurredAt:  p.now().UTC(),
	}
}

func (p *Publisher) publish(ctx context.Context, event OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}
