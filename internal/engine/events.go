package engine

import (
	"sync"
	"time"

	"github.com/seantiz/factory-scheduler/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event reports one scenario status transition observed by the poller.
type Event struct {
	Experiment       string       `json:"experiment"`
	Scenario         string       `json:"scenario"`
	JobID            string       `json:"job_id"`
	Status           model.Status `json:"status"`
	ExperimentStatus model.Status `json:"experiment_status"`
	Time             time.Time    `json:"time"`
}

// EventBroker fans scenario transitions out to per-experiment subscribers.
// It is safe for concurrent use.
//
// Closed topics are kept as markers so that subscribers arriving after an
// experiment was deleted receive a closed channel instead of blocking
// forever. Open clears the marker when the name is reused.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Open (re)opens the topic for experiment.
func (b *EventBroker) Open(experiment string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[experiment]
	if !ok || t.closed {
		b.topics[experiment] = &eventTopic{subs: make(map[int]chan Event)}
	}
}

// Subscribe returns a channel of events for experiment and an unsubscribe
// function. If the topic is closed the returned channel is already closed.
func (b *EventBroker) Subscribe(experiment string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[experiment]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[experiment] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends ev to all subscribers of ev.Experiment. Events are dropped
// for subscribers whose buffers are full.
func (b *EventBroker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.Experiment]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Never block the poller on a slow reader.
		}
	}
}

// Close ends the stream for experiment. All subscriber channels are closed
// and later Subscribe calls return a closed channel until Open is called.
func (b *EventBroker) Close(experiment string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[experiment]
	if !ok {
		b.topics[experiment] = &eventTopic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
