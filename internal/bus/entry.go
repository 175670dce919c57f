package bus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/avelkova/taskbus/internal/domain"
)

// Stored entry field names. The retry counter travels with the entry so a
// re-appended copy carries its delivery history; the bus is the only writer.
const (
	fieldType          = "type"
	fieldAggregateID   = "aggregate_id"
	fieldAggregateType = "aggregate_type"
	fieldData          = "data"
	fieldTimestamp     = "timestamp"
	fieldRetries       = "retries"
	fieldOriginalID    = "original_id"
	fieldError         = "error"
	fieldFailedAt      = "failed_at"
)

// encodeEntry flattens an event into stream fields. The payload is stored as
// a JSON string; retries always starts at zero on first publish.
func encodeEntry(e domain.Event) (map[string]any, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding event data: %w", err)
	}
	return map[string]any{
		fieldType:          e.Type.String(),
		fieldAggregateID:   e.AggregateID,
		fieldAggregateType: e.AggregateType,
		fieldData:          string(data),
		fieldTimestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		fieldRetries:       "0",
	}, nil
}

// decodeEntry materializes the event carried by a stream entry.
func decodeEntry(values map[string]any) (domain.Event, error) {
	eventType, err := domain.ParseEventType(stringField(values, fieldType))
	if err != nil {
		return domain.Event{}, err
	}

	var data map[string]any
	if raw := stringField(values, fieldData); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return domain.Event{}, fmt.Errorf("decoding event data: %w", err)
		}
	}
	if data == nil {
		data = map[string]any{}
	}

	ts, err := time.Parse(time.RFC3339Nano, stringField(values, fieldTimestamp))
	if err != nil {
		return domain.Event{}, fmt.Errorf("decoding event timestamp: %w", err)
	}

	return domain.Event{
		Type:          eventType,
		AggregateID:   stringField(values, fieldAggregateID),
		AggregateType: stringField(values, fieldAggregateType),
		Data:          data,
		Timestamp:     ts,
	}, nil
}

func stringField(values map[string]any, key string) string {
	s, _ := values[key].(string)
	return s
}

func entryRetries(values map[string]any) int {
	n, err := strconv.Atoi(stringField(values, fieldRetries))
	if err != nil {
		return 0
	}
	return n
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
