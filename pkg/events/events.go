// Package events publishes search audit events to NATS with OpenTelemetry
// trace propagation. Publishing is best-effort: a nil Publisher is valid and
// drops everything, so the pipeline never depends on the broker being up.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// SubjectSearchCompleted is the subject search audit events are published on.
const SubjectSearchCompleted = "dealscout.search.completed"

// SearchCompleted describes one finished aggregation request.
type SearchCompleted struct {
	RequestID string        `json:"request_id,omitempty"`
	Term      string        `json:"term"`
	Currency  string        `json:"currency"`
	Results   int           `json:"results"`
	Duration  time.Duration `json:"duration_ns"`
	At        time.Time     `json:"at"`
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it to subject.
// Trace context from ctx is injected into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Publisher wraps a NATS connection for search audit events.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher connects to NATS at url. An empty url yields a nil Publisher.
func NewPublisher(url string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url, nats.Name("dealscout-api"))
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

// SearchCompleted publishes a search audit event. Nil-safe.
func (p *Publisher) SearchCompleted(ctx context.Context, ev SearchCompleted) error {
	if p == nil || p.nc == nil {
		return nil
	}
	return Publish(ctx, p.nc, SubjectSearchCompleted, ev)
}

// Close drains the underlying connection. Nil-safe.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Close()
}
