package bus

import (
	"context"
	"fmt"

	"github.com/avelkova/taskbus/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DLQMessage is a dead-lettered entry: the original stored fields plus the
// failure metadata written when its retry budget ran out.
type DLQMessage struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	Data          string `json:"data"`
	Timestamp     string `json:"timestamp"`
	Retries       int    `json:"retries"`
	OriginalID    string `json:"original_id"`
	Error         string `json:"error"`
	FailedAt      string `json:"failed_at"`
}

func dlqMessageFrom(msg redis.XMessage) DLQMessage {
	return DLQMessage{
		ID:            msg.ID,
		Type:          stringField(msg.Values, fieldType),
		AggregateID:   stringField(msg.Values, fieldAggregateID),
		AggregateType: stringField(msg.Values, fieldAggregateType),
		Data:          stringField(msg.Values, fieldData),
		Timestamp:     stringField(msg.Values, fieldTimestamp),
		Retries:       entryRetries(msg.Values),
		OriginalID:    stringField(msg.Values, fieldOriginalID),
		Error:         stringField(msg.Values, fieldError),
		FailedAt:      stringField(msg.Values, fieldFailedAt),
	}
}

// DLQMessages returns up to count dead-lettered entries, oldest first.
func (b *Bus) DLQMessages(ctx context.Context, count int64) ([]DLQMessage, error) {
	msgs, err := b.client.XRangeN(ctx, DLQStream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reading DLQ: %v", ErrBrokerUnavailable, err)
	}

	out := make([]DLQMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, dlqMessageFrom(msg))
	}
	return out, nil
}

// ReprocessDLQMessage strips the failure metadata from a dead-lettered
// entry, resets its retry counter and re-appends it to the given event
// type's stream, then removes it from the DLQ. It returns the new entry ID,
// or "" if the DLQ entry does not exist.
func (b *Bus) ReprocessDLQMessage(ctx context.Context, id string, eventType domain.EventType) (string, error) {
	msgs, err := b.client.XRange(ctx, DLQStream, id, id).Result()
	if err != nil {
		return "", fmt.Errorf("%w: reading DLQ entry %s: %v", ErrBrokerUnavailable, id, err)
	}
	if len(msgs) == 0 {
		return "", nil
	}

	values := copyValues(msgs[0].Values)
	delete(values, fieldOriginalID)
	delete(values, fieldError)
	delete(values, fieldFailedAt)
	values[fieldRetries] = "0"

	newID, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(eventType),
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: re-appending DLQ entry %s: %v", ErrBrokerUnavailable, id, err)
	}

	if err := b.client.XDel(ctx, DLQStream, id).Err(); err != nil {
		return "", fmt.Errorf("%w: deleting DLQ entry %s: %v", ErrBrokerUnavailable, id, err)
	}

	b.logger.Info("DLQ message reprocessed", "dlq_id", id, "new_id", newID, "event_type", eventType)
	return newID, nil
}

// ClearDLQ deletes the entire DLQ stream. Irreversible.
func (b *Bus) ClearDLQ(ctx context.Context) error {
	if err := b.client.Del(ctx, DLQStream).Err(); err != nil {
		return fmt.Errorf("%w: clearing DLQ: %v", ErrBrokerUnavailable, err)
	}
	b.logger.Info("DLQ cleared")
	return nil
}

// StreamStats is a point-in-time summary of one event type's stream.
type StreamStats struct {
	Stream       string `json:"stream"`
	Length       int64  `json:"length"`
	Groups       int64  `json:"groups"`
	FirstEntryID string `json:"first_entry_id,omitempty"`
	LastEntryID  string `json:"last_entry_id,omitempty"`
}

// StreamInfo returns stream-level statistics for observability.
func (b *Bus) StreamInfo(ctx context.Context, eventType domain.EventType) (*StreamStats, error) {
	stream := StreamKey(eventType)

	info, err := b.client.XInfoStream(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: inspecting stream %s: %v", ErrBrokerUnavailable, stream, err)
	}

	return &StreamStats{
		Stream:       stream,
		Length:       info.Length,
		Groups:       info.Groups,
		FirstEntryID: info.FirstEntry.ID,
		LastEntryID:  info.LastEntry.ID,
	}, nil
}
