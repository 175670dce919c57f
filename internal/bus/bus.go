package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/avelkova/taskbus/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DLQStream is the single dead-letter stream shared by all event types.
const DLQStream = "event_dlq"

const (
	defaultMaxRetries = 3
	defaultBatchSize  = 10
	readBlock         = time.Second
	transportBackoff  = 2 * time.Second
)

// ErrBrokerUnavailable marks transport failures talking to Redis. Publish
// surfaces it to callers; the consume loop logs it and retries.
var ErrBrokerUnavailable = errors.New("event broker unavailable")

// Bus is a Redis Streams event bus with consumer-group delivery, bounded
// retries and a dead-letter stream.
type Bus struct {
	client     *redis.Client
	logger     *slog.Logger
	registry   *registry
	maxRetries int
	batchSize  int64
}

func New(client *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{
		client:     client,
		logger:     logger,
		registry:   newRegistry(),
		maxRetries: defaultMaxRetries,
		batchSize:  defaultBatchSize,
	}
}

// StreamKey returns the stream each event type is published to.
func StreamKey(t domain.EventType) string {
	return "events:" + t.String()
}

// Publish appends the event to its stream as a single atomic entry and
// returns the assigned entry ID.
func (b *Bus) Publish(ctx context.Context, event domain.Event) (string, error) {
	if !event.Type.Valid() {
		return "", fmt.Errorf("unknown event type %q", event.Type)
	}

	values, err := encodeEntry(event)
	if err != nil {
		return "", err
	}

	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(event.Type),
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: publishing %s: %v", ErrBrokerUnavailable, event.Type, err)
	}

	b.logger.Info("event published", "event_type", event.Type, "entry_id", id)
	return id, nil
}

// Subscribe registers a handler for an event type. Handlers run in
// registration order within a delivery attempt.
func (b *Bus) Subscribe(t domain.EventType, h Handler) {
	b.registry.add(t, h)
	b.logger.Info("handler subscribed", "event_type", t)
}

// Consume reads entries for one event type on behalf of a consumer group
// until ctx is cancelled. Each entry is handed to exactly one group member;
// multiple processes may run Consume with the same group to load-balance.
//
// Handler failure does not redeliver in place: the original entry is
// acknowledged and a copy with an incremented retry counter is re-appended,
// so FIFO order across retries is not preserved. Once the counter reaches
// the retry limit the copy goes to the DLQ stream instead.
func (b *Bus) Consume(ctx context.Context, eventType domain.EventType, group string) error {
	stream := StreamKey(eventType)

	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return err
	}

	// Unique name per process so competing consumers in one group do not
	// steal each other's pending entries.
	consumer := group + "-" + uuid.NewString()[:8]

	b.logger.Info("consumer started",
		"stream", stream,
		"group", group,
		"consumer", consumer,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    b.batchSize,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error("reading stream", "stream", stream, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(transportBackoff):
			}
			continue
		}

		for _, sr := range res {
			for _, msg := range sr.Messages {
				b.deliver(ctx, stream, group, msg)
			}
		}
	}
}

// ensureGroup creates the consumer group at the start of the stream,
// tolerating a group that already exists.
func (b *Bus) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: creating group %s on %s: %v", ErrBrokerUnavailable, group, stream, err)
	}
	return nil
}

// deliver runs all registered handlers for one entry and settles it:
// acknowledge on success, retry-or-dead-letter on failure.
func (b *Bus) deliver(ctx context.Context, stream, group string, msg redis.XMessage) {
	event, err := decodeEntry(msg.Values)
	if err != nil {
		b.handleFailure(ctx, stream, group, msg, err)
		return
	}

	handlers := b.registry.get(event.Type)
	if len(handlers) == 0 {
		b.logger.Warn("no handlers registered", "event_type", event.Type, "entry_id", msg.ID)
		b.ack(ctx, stream, group, msg.ID)
		return
	}

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			b.handleFailure(ctx, stream, group, msg, err)
			return
		}
	}

	b.ack(ctx, stream, group, msg.ID)
	b.logger.Info("event processed", "entry_id", msg.ID, "event_type", event.Type)
}

// handleFailure applies the bounded-retry policy. Below the limit, a copy
// with retries+1 is re-appended and the original is acknowledged. At the
// limit, the entry moves to the DLQ stream with failure metadata. If the
// re-append itself fails, the original stays pending for a later claim.
func (b *Bus) handleFailure(ctx context.Context, stream, group string, msg redis.XMessage, failErr error) {
	retries := entryRetries(msg.Values)

	if retries < b.maxRetries {
		values := copyValues(msg.Values)
		values[fieldRetries] = strconv.Itoa(retries + 1)

		newID, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
		if err != nil {
			b.logger.Error("re-appending entry for retry", "entry_id", msg.ID, "error", err)
			return
		}

		b.logger.Warn("event retry scheduled",
			"entry_id", msg.ID,
			"retry_id", newID,
			"retry", retries+1,
			"max_retries", b.maxRetries,
			"error", failErr,
		)
		b.ack(ctx, stream, group, msg.ID)
		return
	}

	values := copyValues(msg.Values)
	values[fieldOriginalID] = msg.ID
	values[fieldError] = failErr.Error()
	values[fieldFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)

	dlqID, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: DLQStream, Values: values}).Result()
	if err != nil {
		b.logger.Error("moving entry to DLQ", "entry_id", msg.ID, "error", err)
		return
	}

	b.logger.Error("event moved to DLQ",
		"entry_id", msg.ID,
		"dlq_id", dlqID,
		"retries", retries,
		"error", failErr,
	)
	b.ack(ctx, stream, group, msg.ID)
}

func (b *Bus) ack(ctx context.Context, stream, group, id string) {
	if err := b.client.XAck(ctx, stream, group, id).Err(); err != nil {
		b.logger.Error("acknowledging entry", "entry_id", id, "error", err)
	}
}
