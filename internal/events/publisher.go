// Package events publishes task lifecycle events (create/start/exit/
// delete) back to containerd over the same ttrpc connection the shim
// was started with.
package events

import (
	"context"
	"fmt"

	"github.com/containerd/containerd/v2/pkg/namespaces"
	"github.com/containerd/containerd/v2/pkg/shim"

	"github.com/containerd/wasm-shim/internal/otelutil"
)

// Sender publishes a single typed event to containerd's event bus.
type Sender interface {
	Publish(ctx context.Context, topic string, event interface{}) error
}

// EventSender wraps a [shim.Publisher], scoping every publish call to
// the shim's namespace and wrapping it in a span so a slow or failing
// containerd-side subscriber shows up in traces.
type EventSender struct {
	namespace string
	publisher shim.Publisher
}

var _ Sender = (*EventSender)(nil)

// NewEventSender dials address (the ttrpc socket containerd passed the
// shim at startup) and returns a Sender scoped to namespace.
func NewEventSender(address, namespace string) (*EventSender, error) {
	p, err := shim.NewPublisher(address)
	if err != nil {
		return nil, fmt.Errorf("dialing event publisher at %s: %w", address, err)
	}
	return &EventSender{namespace: namespace, publisher: p}, nil
}

func (e *EventSender) Close() error {
	if c, ok := e.publisher.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (e *EventSender) Publish(ctx context.Context, topic string, event interface{}) (err error) {
	ctx, span := otelutil.StartSpan(ctx, "events.Publish", otelutil.WithClientSpanKind)
	defer span.End()
	defer func() { otelutil.SetSpanStatus(span, err) }()

	if e == nil {
		return nil
	}
	return e.publisher.Publish(namespaces.WithNamespace(ctx, e.namespace), topic, event)
}
