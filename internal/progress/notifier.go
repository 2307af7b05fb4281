// Package progress fans out job progress events to live in-process
// subscribers, and optionally mirrors them to a Kafka topic for external
// consumers. Delivery is best-effort: events are not buffered for late
// subscribers, and a subscriber that cannot keep up misses events rather
// than blocking the publisher.
package progress

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"photoflow/internal/models"
)

// subscriptionBuffer absorbs short bursts before deliveries start dropping.
const subscriptionBuffer = 16

// Subscription is one observer's handle on a job's event stream. Close it
// when done; closing is idempotent and safe from any goroutine.
type Subscription struct {
	C chan models.ProgressEvent

	notifier *Notifier
	jobID    uuid.UUID
	once     sync.Once
}

// Close unsubscribes exactly this handle. The event channel is not closed,
// so a racing Publish can never send on a closed channel; readers should
// stop selecting on C after Close.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.notifier.unsubscribe(s)
	})
}

// Notifier is a keyed publish/subscribe registry over job IDs.
type Notifier struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*Subscription]struct{}
	mirror *KafkaMirror
	logger *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
		logger: logger,
	}
}

// SetMirror attaches an optional Kafka mirror. Call before serving traffic.
func (n *Notifier) SetMirror(m *KafkaMirror) { n.mirror = m }

// Subscribe registers a new observer for the given job.
func (n *Notifier) Subscribe(jobID uuid.UUID) *Subscription {
	sub := &Subscription{
		C:        make(chan models.ProgressEvent, subscriptionBuffer),
		notifier: n,
		jobID:    jobID,
	}

	n.mu.Lock()
	set, ok := n.subs[jobID]
	if !ok {
		set = make(map[*Subscription]struct{})
		n.subs[jobID] = set
	}
	set[sub] = struct{}{}
	n.mu.Unlock()

	return sub
}

func (n *Notifier) unsubscribe(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.subs[sub.jobID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(n.subs, sub.jobID)
	}
}

// Publish delivers an event to every current subscriber of the event's job.
// Publishing with no subscribers is a no-op. A full subscriber drops this
// delivery; remaining subscribers are unaffected.
func (n *Notifier) Publish(ev models.ProgressEvent) {
	n.mu.Lock()
	targets := make([]*Subscription, 0, len(n.subs[ev.JobID]))
	for sub := range n.subs[ev.JobID] {
		targets = append(targets, sub)
	}
	n.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.C <- ev:
		default:
			n.logger.Warn("progress event dropped for slow subscriber", "job_id", ev.JobID)
		}
	}

	if n.mirror != nil {
		n.mirror.Offer(ev)
	}
}

// SubscriberCount reports the number of live subscriptions for a job.
func (n *Notifier) SubscriberCount(jobID uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[jobID])
}
