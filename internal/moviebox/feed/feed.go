package feed

import (
	"sync"
	"time"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
	"github.com/pocketscreen/mobile-services/internal/moviebox/observability"
)

// Event types carried on the feed. Every payload holds the full record, so
// consumers can apply events idempotently.
const (
	EventMovieAdded   = "movie_added"
	EventMovieUpdated = "movie_updated"
	EventMovieRemoved = "movie_removed"
)

// Event is one catalog change. Seq increases by one per published event, so
// a consumer can detect gaps in what it received.
type Event struct {
	Type      string       `json:"type"`
	Seq       uint64       `json:"seq"`
	Movie     models.Movie `json:"movie"`
	Timestamp time.Time    `json:"timestamp"`
}

const defaultBufferSize = 64

// Feed fans catalog events out to in-process subscribers. Publishing never
// blocks: a subscriber whose buffer is full loses the event, and only that
// subscriber does.
type Feed struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
	seq         uint64
	bufferSize  int
}

// New creates a feed whose subscribers each get a buffer of bufferSize
// events. bufferSize <= 0 falls back to a small default.
func New(bufferSize int) *Feed {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Feed{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber and returns its event channel along with
// a cancel function. Cancel removes the subscription and closes the channel;
// it is safe to call more than once.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan Event, f.bufferSize)
	f.subscribers[id] = ch
	observability.FeedSubscribers.Set(float64(len(f.subscribers)))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subscribers, id)
			close(ch)
			observability.FeedSubscribers.Set(float64(len(f.subscribers)))
		})
	}
	return ch, cancel
}

// Publish stamps the event with the next sequence number and current time,
// then offers it to every subscriber. Sends and channel closes share the
// feed mutex, so Publish can never write to a closed channel.
func (f *Feed) Publish(eventType string, movie models.Movie) Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	event := Event{
		Type:      eventType,
		Seq:       f.seq,
		Movie:     movie,
		Timestamp: time.Now().UTC(),
	}
	observability.FeedEventsTotal.WithLabelValues(eventType).Inc()

	for _, ch := range f.subscribers {
		select {
		case ch <- event:
		default:
			observability.FeedDroppedTotal.Inc()
		}
	}
	return event
}

// SubscriberCount returns the number of active subscriptions.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
