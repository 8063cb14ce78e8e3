package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
)

func TestFeed_SubscribeReceivesPublished(t *testing.T) {
	f := New(4)
	events, cancel := f.Subscribe()
	defer cancel()

	movie := models.Movie{ID: 7, Title: "Heat", Favorite: true}
	published := f.Publish(EventMovieAdded, movie)

	select {
	case got := <-events:
		if got != published {
			t.Errorf("received = %+v, want %+v", got, published)
		}
		if got.Type != EventMovieAdded || got.Seq != 1 || got.Movie != movie {
			t.Errorf("event fields wrong: %+v", got)
		}
		if got.Timestamp.IsZero() {
			t.Error("event timestamp is zero")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

// TestFeed_SeqMonotonic verifies every published event gets the next
// sequence number, in publish order.
func TestFeed_SeqMonotonic(t *testing.T) {
	f := New(8)
	events, cancel := f.Subscribe()
	defer cancel()

	f.Publish(EventMovieAdded, models.Movie{ID: 1, Title: "Heat"})
	f.Publish(EventMovieUpdated, models.Movie{ID: 1, Title: "Heat", Watched: true})
	f.Publish(EventMovieRemoved, models.Movie{ID: 1, Title: "Heat", Watched: true})

	for want := uint64(1); want <= 3; want++ {
		got := <-events
		if got.Seq != want {
			t.Errorf("event seq = %d, want %d", got.Seq, want)
		}
	}
}

func TestFeed_FanOutToAllSubscribers(t *testing.T) {
	f := New(4)
	first, cancelFirst := f.Subscribe()
	defer cancelFirst()
	second, cancelSecond := f.Subscribe()
	defer cancelSecond()

	if n := f.SubscriberCount(); n != 2 {
		t.Fatalf("SubscriberCount() = %d, want 2", n)
	}

	f.Publish(EventMovieAdded, models.Movie{ID: 1, Title: "Heat"})

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case got := <-ch:
			if got.Movie.Title != "Heat" {
				t.Errorf("%s subscriber got %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber received nothing", name)
		}
	}
}

// TestFeed_SlowSubscriberLosesEventsWithoutBlocking verifies the publisher
// never waits on a full subscriber buffer and that only the overflow is lost.
func TestFeed_SlowSubscriberLosesEventsWithoutBlocking(t *testing.T) {
	f := New(2)
	events, cancel := f.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			f.Publish(EventMovieAdded, models.Movie{ID: int64(i + 1), Title: "movie"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	// The buffer held the first two events; the rest were dropped.
	for want := uint64(1); want <= 2; want++ {
		got := <-events
		if got.Seq != want {
			t.Errorf("event seq = %d, want %d", got.Seq, want)
		}
	}
	select {
	case got := <-events:
		t.Errorf("unexpected extra event: %+v", got)
	default:
	}
}

func TestFeed_CancelClosesChannel(t *testing.T) {
	f := New(4)
	events, cancel := f.Subscribe()

	cancel()
	cancel() // safe to call twice

	if _, ok := <-events; ok {
		t.Error("channel still open after cancel")
	}
	if n := f.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", n)
	}
}

// TestFeed_PublishAfterCancel verifies canceling mid-stream never panics the
// publisher with a send on a closed channel.
func TestFeed_PublishAfterCancel(t *testing.T) {
	f := New(4)
	_, cancel := f.Subscribe()
	cancel()

	f.Publish(EventMovieRemoved, models.Movie{ID: 1, Title: "Heat"})
}

// TestFeed_ConcurrentPublishUniqueSeqs publishes from many goroutines and
// verifies every event carries a distinct sequence number.
func TestFeed_ConcurrentPublishUniqueSeqs(t *testing.T) {
	f := New(256)
	events, cancel := f.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				f.Publish(EventMovieUpdated, models.Movie{ID: int64(n), Title: "movie"})
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		got := <-events
		if seen[got.Seq] {
			t.Errorf("duplicate seq %d", got.Seq)
		}
		seen[got.Seq] = true
	}
}
