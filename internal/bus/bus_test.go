package bus

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/avelkova/taskbus/internal/domain"
	"github.com/redis/go-redis/v9"
)

func setupBusTest(t *testing.T) (*Bus, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(client, logger), client
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublish_AppendsEntry(t *testing.T) {
	b, client := setupBusTest(t)
	ctx := context.Background()

	event, err := domain.NewEvent(domain.TaskCreated, "42", "task", map[string]any{"title": "write docs"})
	if err != nil {
		t.Fatalf("building event: %v", err)
	}

	id, err := b.Publish(ctx, event)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if id == "" {
		t.Fatal("publish returned empty entry ID")
	}

	msgs, err := client.XRange(ctx, StreamKey(domain.TaskCreated), "-", "+").Result()
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(msgs))
	}

	values := msgs[0].Values
	if values["type"] != "task.created" {
		t.Errorf("type = %v, want task.created", values["type"])
	}
	if values["aggregate_id"] != "42" {
		t.Errorf("aggregate_id = %v, want 42", values["aggregate_id"])
	}
	if values["retries"] != "0" {
		t.Errorf("retries = %v, want 0", values["retries"])
	}
}

func TestPublish_InvalidEventType(t *testing.T) {
	b, _ := setupBusTest(t)

	_, err := b.Publish(context.Background(), domain.Event{Type: "bogus.event"})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestConsume_DeliversToHandlersInOrder(t *testing.T) {
	b, _ := setupBusTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var order []string
	var received domain.Event

	b.Subscribe(domain.TaskAssigned, func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "first")
		received = e
		return nil
	})
	b.Subscribe(domain.TaskAssigned, func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "second")
		return nil
	})

	event, _ := domain.NewEvent(domain.TaskAssigned, "7", "task", map[string]any{"worker_id": 3})
	if _, err := b.Publish(ctx, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	go b.Consume(ctx, domain.TaskAssigned, "notifications_service")

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "first" || order[1] != "second" {
		t.Errorf("handlers ran out of order: %v", order)
	}
	if received.AggregateID != "7" {
		t.Errorf("AggregateID = %q, want 7", received.AggregateID)
	}
	if got, ok := received.Data["worker_id"].(float64); !ok || got != 3 {
		t.Errorf("worker_id = %v, want 3", received.Data["worker_id"])
	}
}

func TestConsume_SuccessIsAcknowledged(t *testing.T) {
	b, client := setupBusTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed sync.WaitGroup
	processed.Add(1)
	var once sync.Once
	b.Subscribe(domain.UserCreated, func(ctx context.Context, e domain.Event) error {
		once.Do(processed.Done)
		return nil
	})

	event, _ := domain.NewEvent(domain.UserCreated, "1", "user", map[string]any{"email": "a@b.c"})
	if _, err := b.Publish(ctx, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	go b.Consume(ctx, domain.UserCreated, "notifications_service")
	processed.Wait()

	stream := StreamKey(domain.UserCreated)
	waitFor(t, 3*time.Second, func() bool {
		pending, err := client.XPending(ctx, stream, "notifications_service").Result()
		return err == nil && pending.Count == 0
	})

	dlqLen, _ := client.XLen(ctx, DLQStream).Result()
	if dlqLen != 0 {
		t.Errorf("DLQ should be empty, has %d entries", dlqLen)
	}
}

func TestConsume_FailingHandlerExhaustsRetriesIntoDLQ(t *testing.T) {
	b, client := setupBusTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0
	b.Subscribe(domain.TaskUpdated, func(ctx context.Context, e domain.Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("database is on fire")
	})

	event, _ := domain.NewEvent(domain.TaskUpdated, "9", "task", map[string]any{"x": 1})
	if _, err := b.Publish(ctx, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	go b.Consume(ctx, domain.TaskUpdated, "notifications_service")

	waitFor(t, 5*time.Second, func() bool {
		n, err := client.XLen(ctx, DLQStream).Result()
		return err == nil && n == 1
	})

	mu.Lock()
	gotAttempts := attempts
	mu.Unlock()
	// Initial delivery plus one per retry.
	if gotAttempts != defaultMaxRetries+1 {
		t.Errorf("attempts = %d, want %d", gotAttempts, defaultMaxRetries+1)
	}

	msgs, err := b.DLQMessages(ctx, 10)
	if err != nil {
		t.Fatalf("reading DLQ: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 DLQ message, got %d", len(msgs))
	}

	msg := msgs[0]
	if msg.Retries != defaultMaxRetries {
		t.Errorf("DLQ retries = %d, want exactly %d", msg.Retries, defaultMaxRetries)
	}
	if msg.Error == "" {
		t.Error("DLQ error should be non-empty")
	}
	if msg.OriginalID == "" {
		t.Error("DLQ original_id should be set")
	}
	if msg.FailedAt == "" {
		t.Error("DLQ failed_at should be set")
	}
	if msg.Type != "task.updated" {
		t.Errorf("DLQ type = %q, want task.updated", msg.Type)
	}
}

func TestConsume_NoHandlersAcks(t *testing.T) {
	b, client := setupBusTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event, _ := domain.NewEvent(domain.TaskDeleted, "5", "task", nil)
	if _, err := b.Publish(ctx, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	go b.Consume(ctx, domain.TaskDeleted, "notifications_service")

	stream := StreamKey(domain.TaskDeleted)
	waitFor(t, 3*time.Second, func() bool {
		pending, err := client.XPending(ctx, stream, "notifications_service").Result()
		return err == nil && pending.Count == 0
	})
}

func TestReprocessDLQMessage(t *testing.T) {
	b, client := setupBusTest(t)
	ctx := context.Background()

	dlqID, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: map[string]any{
			"type":           "task.created",
			"aggregate_id":   "13",
			"aggregate_type": "task",
			"data":           `{"title":"t"}`,
			"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
			"retries":        "3",
			"original_id":    "1-0",
			"error":          "handler exploded",
			"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		t.Fatalf("seeding DLQ: %v", err)
	}

	newID, err := b.ReprocessDLQMessage(ctx, dlqID, domain.TaskCreated)
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if newID == "" {
		t.Fatal("expected new entry ID")
	}

	msgs, err := client.XRange(ctx, StreamKey(domain.TaskCreated), "-", "+").Result()
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 reprocessed entry, got %d", len(msgs))
	}

	values := msgs[0].Values
	if values["retries"] != "0" {
		t.Errorf("retries = %v, want 0", values["retries"])
	}
	for _, field := range []string{"error", "failed_at", "original_id"} {
		if _, ok := values[field]; ok {
			t.Errorf("failure field %q should be stripped", field)
		}
	}

	dlqLen, _ := client.XLen(ctx, DLQStream).Result()
	if dlqLen != 0 {
		t.Errorf("DLQ should be empty after reprocess, has %d", dlqLen)
	}
}

func TestReprocessDLQMessage_NotFound(t *testing.T) {
	b, _ := setupBusTest(t)

	newID, err := b.ReprocessDLQMessage(context.Background(), "99-0", domain.TaskCreated)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newID != "" {
		t.Errorf("expected no-op for missing entry, got new ID %q", newID)
	}
}

func TestClearDLQ(t *testing.T) {
	b, client := setupBusTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.XAdd(ctx, &redis.XAddArgs{
			Stream: DLQStream,
			Values: map[string]any{"type": "task.created", "retries": "3"},
		}).Result()
		if err != nil {
			t.Fatalf("seeding DLQ: %v", err)
		}
	}

	if err := b.ClearDLQ(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	msgs, err := b.DLQMessages(ctx, 10)
	if err != nil {
		t.Fatalf("reading DLQ: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("DLQ should be empty, got %d messages", len(msgs))
	}
}
