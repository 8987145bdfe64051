// Package events carries saga records between services. It defines the
// transport-neutral Message and handler types plus Kafka, RabbitMQ and
// in-process implementations of the Bus.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// Message is one record on a topic as seen by a handler.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Header returns the named header or "".
func (m Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// HandlerFunc processes one message. Returning an error means the message
// was not processed and must not be acknowledged.
type HandlerFunc func(ctx context.Context, msg Message) error

// Middleware decorates a handler.
type Middleware func(HandlerFunc) HandlerFunc

// Chain applies mws to h so that mws[0] is the outermost layer.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	// Subscribe consumes topic as member of group until ctx is done. It
	// returns nil on cancellation and an error if the transport fails.
	Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error
}

type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// NewMessage builds an outgoing message with a fresh event id.
func NewMessage(topic string, key, value []byte) Message {
	return Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Headers: map[string]string{
			HeaderEventID: uuid.NewString(),
		},
		Time: time.Now().UTC(),
	}
}

// RecordMessage encodes rec as a message keyed by its order id.
func RecordMessage(topic string, rec order.Record) (Message, error) {
	body, err := order.Encode(rec)
	if err != nil {
		return Message{}, err
	}
	return NewMessage(topic, rec.Key(), body), nil
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+2)
	for k, v := range h {
		out[k] = v
	}
	return out
}
