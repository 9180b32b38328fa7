package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fos/internal/domain"
)

func enqueueOutboxMessage(t *testing.T, repo domain.OutboxRepository, id, aggregateID, eventType string) domain.OutboxMessage {
	t.Helper()

	stored, err := repo.Enqueue(domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       []byte(`{"id":"` + aggregateID + `"}`),
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", aggregateID, err)
	}
	return stored
}

func TestOutboxRepository_Integration_EnqueueToDrain(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	generated := enqueueOutboxMessage(t, repo, "", "order-1", "order.created")
	if generated.ID == "" {
		t.Fatal("empty id must be replaced with a generated one")
	}

	fixed := enqueueOutboxMessage(t, repo, "outbox-fixed-id", "order-2", "order.confirmed")
	if fixed.ID != "outbox-fixed-id" {
		t.Fatalf("explicit id must survive, got %q", fixed.ID)
	}

	// Нулевой limit включает дефолтный.
	pending, err := repo.PullPending(0)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].ID != generated.ID || pending[1].ID != fixed.ID {
		t.Fatalf("pending must come in enqueue order, got %s then %s", pending[0].ID, pending[1].ID)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("stats = %+v, want 2 pending with oldest timestamp", stats)
	}

	if err := repo.MarkSent(generated.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(fixed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	drained, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull after marks: %v", err)
	}
	if len(drained) != 0 {
		t.Fatalf("pending after marks = %d, want 0", len(drained))
	}

	stats, err = repo.Stats()
	if err != nil {
		t.Fatalf("stats after marks: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("pending count after marks = %d, want 0", stats.PendingCount)
	}
	if !stats.OldestPendingAt.IsZero() {
		t.Fatalf("oldest pending must reset on empty backlog, got %v", stats.OldestPendingAt)
	}
}

func TestOutboxRepository_Integration_PullRespectsLimit(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	first := enqueueOutboxMessage(t, repo, "", "order-a", "order.created")
	time.Sleep(5 * time.Millisecond)
	enqueueOutboxMessage(t, repo, "", "order-b", "order.created")

	pending, err := repo.PullPending(1)
	if err != nil {
		t.Fatalf("pull with limit: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].ID != first.ID {
		t.Fatalf("limit must keep the oldest message first, got %s", pending[0].ID)
	}
}

func TestOutboxRepository_Integration_MarkUnknownID(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	if err := repo.MarkSent("missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("mark sent for unknown id = %v, want ErrOutboxPublish", err)
	}
	if err := repo.MarkFailed("missing-outbox"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("mark failed for unknown id = %v, want ErrOutboxPublish", err)
	}
}
