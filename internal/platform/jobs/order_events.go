package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/atelier-noir/api/internal/services"
)

// OrderEventPublisher publishes settled orders to a Pub/Sub topic.
type OrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewOrderEventPublisher(topic *pubsub.Topic) (*OrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("order event publisher: topic is required")
	}
	return &OrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderSettled sends event and waits for the server-assigned message id. The order id
// is used as ordering key so consumers see events for one order in order.
func (p *OrderEventPublisher) PublishOrderSettled(ctx context.Context, event services.OrderSettledEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("order event publisher: not initialised")
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return "", errors.New("order event publisher: order id is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order settled event: %w", err)
	}

	attrs := map[string]string{
		"eventType":      "order.settled",
		"stockShortfall": strconv.FormatBool(event.StockShortfall),
	}
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "gatewayPaymentId", event.GatewayPaymentID)
	setAttr(attrs, "currency", event.Currency)

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.OrderID
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish order settled event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
