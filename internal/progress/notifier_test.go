package progress_test

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"photoflow/internal/models"
	"photoflow/internal/progress"
)

func event(jobID uuid.UUID, completed int) models.ProgressEvent {
	return models.ProgressEvent{
		JobID:           jobID,
		CompletedPhotos: completed,
		TotalPhotos:     10,
		Status:          models.JobInProgress,
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	n := progress.NewNotifier(slog.Default())
	jobID := uuid.New()

	a := n.Subscribe(jobID)
	b := n.Subscribe(jobID)
	defer a.Close()
	defer b.Close()

	ev := event(jobID, 1)
	n.Publish(ev)

	for _, sub := range []*progress.Subscription{a, b} {
		select {
		case got := <-sub.C:
			if got != ev {
				t.Fatalf("got %+v, want %+v", got, ev)
			}
		default:
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishIsScopedToJob(t *testing.T) {
	n := progress.NewNotifier(slog.Default())

	mine := n.Subscribe(uuid.New())
	defer mine.Close()

	n.Publish(event(uuid.New(), 1))

	select {
	case ev := <-mine.C:
		t.Fatalf("received event for another job: %+v", ev)
	default:
	}
}

func TestPublishWithNoSubscribersIsNoOp(t *testing.T) {
	n := progress.NewNotifier(slog.Default())
	// Must not panic or block.
	n.Publish(event(uuid.New(), 1))
}

func TestLateSubscriberSeesNoReplay(t *testing.T) {
	n := progress.NewNotifier(slog.Default())
	jobID := uuid.New()

	n.Publish(event(jobID, 1))
	n.Publish(event(jobID, 2))

	late := n.Subscribe(jobID)
	defer late.Close()

	select {
	case ev := <-late.C:
		t.Fatalf("late subscriber must not see replayed events, got %+v", ev)
	default:
	}
}

func TestCloseRemovesExactlyOneSubscriber(t *testing.T) {
	n := progress.NewNotifier(slog.Default())
	jobID := uuid.New()

	a := n.Subscribe(jobID)
	b := n.Subscribe(jobID)

	a.Close()
	a.Close() // idempotent

	if got := n.SubscriberCount(jobID); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}

	n.Publish(event(jobID, 1))
	select {
	case <-b.C:
	default:
		t.Fatal("remaining subscriber missed the event")
	}
	select {
	case ev := <-a.C:
		t.Fatalf("closed subscriber received event: %+v", ev)
	default:
	}

	b.Close()
	if got := n.SubscriberCount(jobID); got != 0 {
		t.Fatalf("registry entry not dropped, count = %d", got)
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	n := progress.NewNotifier(slog.Default())
	jobID := uuid.New()

	slow := n.Subscribe(jobID)
	defer slow.Close()
	healthy := n.Subscribe(jobID)
	defer healthy.Close()

	// Saturate the slow subscriber's buffer and then some; Publish must
	// keep returning and keep delivering to the healthy one.
	for i := 0; i < 100; i++ {
		n.Publish(event(jobID, i))
		select {
		case <-healthy.C:
		default:
			t.Fatalf("healthy subscriber missed event %d", i)
		}
	}
}

func TestDeliveryPreservesPublishOrderPerSubscriber(t *testing.T) {
	n := progress.NewNotifier(slog.Default())
	jobID := uuid.New()

	sub := n.Subscribe(jobID)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		n.Publish(event(jobID, i))
	}
	for i := 0; i < 10; i++ {
		got := <-sub.C
		if got.CompletedPhotos != i {
			t.Fatalf("event %d arrived out of order: %+v", i, got)
		}
	}
}

func TestConcurrentSubscribePublishClose(t *testing.T) {
	n := progress.NewNotifier(slog.Default())
	jobID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := n.Subscribe(jobID)
			sub.Close()
		}()
		go func(i int) {
			defer wg.Done()
			n.Publish(event(jobID, i))
		}(i)
	}
	wg.Wait()

	if got := n.SubscriberCount(jobID); got != 0 {
		t.Fatalf("leaked subscriptions: %d", got)
	}
}
