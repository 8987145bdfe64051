package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrBusClosed = errors.New("bus closed")

type MemoryConfig struct {
	Partitions int
	Producer   string
	Redelivery Redelivery
}

// MemoryBus is an in-process Bus with Kafka semantics: messages are
// partitioned by key with the same hash balancer as the Kafka writer, each
// partition is handled sequentially, and a new group starts from the first
// offset of the topic.
type MemoryBus struct {
	cfg      MemoryConfig
	balancer kafka.Hash
	logger   *zap.Logger

	mu     sync.Mutex
	topics map[string][]Message
	subs   map[string][]*memorySubscription
	closed bool
}

func NewMemoryBus(cfg MemoryConfig, logger *zap.Logger) *MemoryBus {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.Redelivery == (Redelivery{}) {
		cfg.Redelivery = Redelivery{InitialInterval: 10 * time.Millisecond, MaxInterval: 200 * time.Millisecond}
	}
	return &MemoryBus{
		cfg:    cfg,
		logger: logger,
		topics: make(map[string][]Message),
		subs:   make(map[string][]*memorySubscription),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg.Headers = cloneHeaders(msg.Headers)
	if b.cfg.Producer != "" && msg.Headers[HeaderProducer] == "" {
		msg.Headers[HeaderProducer] = b.cfg.Producer
	}
	InjectHeaders(ctx, msg.Headers)
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	msg.Partition = b.partition(msg.Key)
	msg.Offset = int64(len(b.topics[msg.Topic]))
	b.topics[msg.Topic] = append(b.topics[msg.Topic], msg)

	for _, sub := range b.subs[msg.Topic] {
		sub.queues[msg.Partition].push(msg)
	}
	return nil
}

func (b *MemoryBus) partition(key []byte) int {
	partitions := make([]int, b.cfg.Partitions)
	for i := range partitions {
		partitions[i] = i
	}
	return b.balancer.Balance(kafka.Message{Key: key}, partitions...)
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	sub := &memorySubscription{group: group, queues: make([]*memoryQueue, b.cfg.Partitions)}
	for i := range sub.queues {
		sub.queues[i] = newMemoryQueue()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	for _, msg := range b.topics[topic] {
		sub.queues[msg.Partition].push(msg)
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	defer b.unsubscribe(topic, sub)

	var wg sync.WaitGroup
	for _, q := range sub.queues {
		wg.Add(1)
		go func(q *memoryQueue) {
			defer wg.Done()
			for {
				msg, ok := q.pop(ctx)
				if !ok {
					return
				}
				if err := b.cfg.Redelivery.deliver(ctx, b.logger, h, msg); err != nil {
					return
				}
			}
		}(q)
	}
	wg.Wait()
	return nil
}

func (b *MemoryBus) unsubscribe(topic string, sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Records returns a snapshot of everything published to topic.
func (b *MemoryBus) Records(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.topics[topic]...)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type memorySubscription struct {
	group  string
	queues []*memoryQueue
}

// memoryQueue is an unbounded FIFO so that a handler publishing to its own
// topic never blocks on itself.
type memoryQueue struct {
	mu      sync.Mutex
	pending []Message
	signal  chan struct{}
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{signal: make(chan struct{}, 1)}
}

func (q *memoryQueue) push(msg Message) {
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) pop(ctx context.Context) (Message, bool) {
	for ctx.Err() == nil {
		q.mu.Lock()
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return msg, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, false
		case <-q.signal:
		}
	}
	return Message{}, false
}
