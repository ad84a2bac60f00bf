package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"relayci/src/logger"
)

// consumerBuffer is the channel depth handed to each subscriber.
const consumerBuffer = 100

// liveSkew is how far before Subscribe a live topic's new group starts, so
// events produced while the group is still joining are not lost.
const liveSkew = 5 * time.Second

// Option configures a RedpandaBroker.
type Option func(*RedpandaBroker)

// WithClientOptions adds franz-go options (TLS, SASL, client ID) to the
// producer and every consumer client.
func WithClientOptions(opts ...kgo.Opt) Option {
	return func(b *RedpandaBroker) {
		b.clientOpts = append(b.clientOpts, opts...)
	}
}

// WithLiveTopics marks topics whose new consumer groups start at the time
// they subscribe instead of the start of the topic. Run events are live:
// a watcher only cares about the run it is following.
func WithLiveTopics(topics ...string) Option {
	return func(b *RedpandaBroker) {
		for _, t := range topics {
			b.live[t] = true
		}
	}
}

// RedpandaBroker carries run requests and run events over a Kafka-compatible
// cluster using franz-go.
type RedpandaBroker struct {
	client     *kgo.Client
	brokers    []string
	clientOpts []kgo.Opt
	live       map[string]bool
	mu         sync.RWMutex
	consumers  map[string]*kgo.Client // topic:group
	closed     bool
	log        logger.Logger
}

// NewRedpandaBroker connects a producer to brokers (e.g. ["localhost:19092"]).
func NewRedpandaBroker(brokers []string, log logger.Logger, opts ...Option) (*RedpandaBroker, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker address is required")
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}

	b := &RedpandaBroker{
		brokers:   brokers,
		live:      make(map[string]bool),
		consumers: make(map[string]*kgo.Client),
		log:       log,
	}
	for _, opt := range opts {
		opt(b)
	}

	client, err := kgo.NewClient(b.baseOpts(
		kgo.ProducerLinger(0),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	b.client = client
	return b, nil
}

func (b *RedpandaBroker) baseOpts(extra ...kgo.Opt) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(b.brokers...),
		kgo.AllowAutoTopicCreation(),
	}
	opts = append(opts, b.clientOpts...)
	return append(opts, extra...)
}

// startOffset is where a group with no committed offset begins reading.
func (b *RedpandaBroker) startOffset(topic string) kgo.Offset {
	if b.live[topic] {
		return kgo.NewOffset().AfterMilli(time.Now().Add(-liveSkew).UnixMilli())
	}
	return kgo.NewOffset().AtStart()
}

// Publish produces one record and waits for the cluster to acknowledge it.
// Run requests must not be lost between the webhook and an agent.
func (b *RedpandaBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := b.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins groupID on topic. Only one subscription per topic and
// group may be open on a broker at a time.
func (b *RedpandaBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	consumerKey := topic + ":" + groupID
	if _, exists := b.consumers[consumerKey]; exists {
		return nil, fmt.Errorf("consumer already exists for topic %s and group %s", topic, groupID)
	}

	consumer, err := kgo.NewClient(b.baseOpts(
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(b.startOffset(topic)),
	)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", topic, err)
	}
	b.consumers[consumerKey] = consumer
	b.log.Debug("[RedpandaBroker] Subscribed to %s as %s", topic, groupID)

	msgChan := make(chan Message, consumerBuffer)
	go b.consumeLoop(ctx, consumerKey, consumer, msgChan)
	return msgChan, nil
}

func (b *RedpandaBroker) consumeLoop(ctx context.Context, consumerKey string, consumer *kgo.Client, msgChan chan<- Message) {
	defer close(msgChan)
	defer b.release(consumerKey, consumer)

	for ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			if ctx.Err() != nil {
				return
			}
			for _, err := range errs {
				b.log.Warn("[RedpandaBroker] Fetch error on %s/%d: %v", err.Topic, err.Partition, err.Err)
			}
			continue
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			select {
			case msgChan <- toMessage(record):
			case <-ctx.Done():
				return
			}
		}
	}
}

func toMessage(record *kgo.Record) Message {
	return Message{
		Topic:     record.Topic,
		Key:       string(record.Key),
		Value:     record.Value,
		Offset:    record.Offset,
		Partition: record.Partition,
		Timestamp: record.Timestamp.UnixMilli(),
	}
}

// release drops a consumer whose subscription ended so the group can be joined again.
func (b *RedpandaBroker) release(consumerKey string, consumer *kgo.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumers[consumerKey] == consumer {
		delete(b.consumers, consumerKey)
		consumer.Close()
		b.log.Debug("[RedpandaBroker] Left %s", consumerKey)
	}
}

// Close leaves every consumer group and closes the producer.
func (b *RedpandaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for key, consumer := range b.consumers {
		consumer.Close()
		delete(b.consumers, key)
	}
	b.client.Close()
	return nil
}
