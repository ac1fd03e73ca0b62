package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestNotifier(t *testing.T) (*RedisNotifier, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	notifier, err := NewRedisNotifier("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis notifier: %v", err)
	}
	return notifier, s
}

func TestNotifyQueuesEvent(t *testing.T) {
	notifier, s := setupTestNotifier(t)
	defer notifier.Close()
	defer s.Close()

	ctx := context.Background()
	err := notifier.NotifyRoleHolders(ctx, Event{
		Role:     "author",
		HeaderID: "doc_1",
		Kind:     "purpose",
		Message:  "fix typo in step 3",
		RaisedBy: "QA Supervisor",
	})
	if err != nil {
		t.Fatalf("NotifyRoleHolders failed: %v", err)
	}

	events, err := notifier.Pending(ctx, "author")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(events))
	}
	if events[0].HeaderID != "doc_1" || events[0].Kind != "purpose" || events[0].Message != "fix typo in step 3" {
		t.Errorf("unexpected event %+v", events[0])
	}
	if events[0].RaisedAt.IsZero() {
		t.Error("RaisedAt should be stamped on publish")
	}
}

func TestNotifyPublishesToRoleChannel(t *testing.T) {
	notifier, s := setupTestNotifier(t)
	defer notifier.Close()
	defer s.Close()

	subscriber := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer subscriber.Close()

	ctx := context.Background()
	sub := subscriber.Subscribe(ctx, "sop:notify:author")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := notifier.NotifyRoleHolders(ctx, Event{Role: "author", HeaderID: "doc_1", Kind: "scope", Message: "m"}); err != nil {
		t.Fatalf("NotifyRoleHolders failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "sop:notify:author" {
			t.Errorf("unexpected channel %q", msg.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published notification")
	}
}

func TestPendingIsolatedPerRole(t *testing.T) {
	notifier, s := setupTestNotifier(t)
	defer notifier.Close()
	defer s.Close()

	ctx := context.Background()
	if err := notifier.NotifyRoleHolders(ctx, Event{Role: "author", HeaderID: "doc_1", Kind: "scope"}); err != nil {
		t.Fatalf("NotifyRoleHolders failed: %v", err)
	}
	if err := notifier.NotifyRoleHolders(ctx, Event{Role: "reviewer", HeaderID: "doc_2", Kind: "purpose"}); err != nil {
		t.Fatalf("NotifyRoleHolders failed: %v", err)
	}

	authorEvents, err := notifier.Pending(ctx, "author")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(authorEvents) != 1 || authorEvents[0].HeaderID != "doc_1" {
		t.Errorf("author backlog = %+v", authorEvents)
	}

	reviewerEvents, err := notifier.Pending(ctx, "reviewer")
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(reviewerEvents) != 1 || reviewerEvents[0].HeaderID != "doc_2" {
		t.Errorf("reviewer backlog = %+v", reviewerEvents)
	}
}
