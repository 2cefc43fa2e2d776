package bus

import (
	"fmt"
	"sync"
	"testing"

	"crewhq/internal/types"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := New(10, nil)

	var got []types.BusEvent
	b.Subscribe("lead.scored", func(e types.BusEvent) {
		got = append(got, e)
	})
	b.Subscribe("other.topic", func(e types.BusEvent) {
		t.Error("handler for unrelated topic invoked")
	})

	b.Publish("lead.scored", map[string]interface{}{"lead_id": "lead-1", "score": 87})

	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0].Payload["lead_id"] != "lead-1" {
		t.Errorf("payload mismatch: %+v", got[0].Payload)
	}
	if got[0].EmittedAt.IsZero() {
		t.Error("emitted_at not set")
	}
}

func TestEachSubscriberDeliveredOnce(t *testing.T) {
	b := New(10, nil)
	counts := make([]int, 3)
	for i := range counts {
		i := i
		b.Subscribe("t", func(types.BusEvent) { counts[i]++ })
	}

	b.Publish("t", nil)

	for i, c := range counts {
		if c != 1 {
			t.Errorf("subscriber %d received %d deliveries, want 1", i, c)
		}
	}
}

func TestHistoryRingEviction(t *testing.T) {
	b := New(4, nil)
	for i := 0; i < 6; i++ {
		b.Publish("t", map[string]interface{}{"seq": i})
	}

	hist := b.History()
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want capacity 4", len(hist))
	}
	// Oldest retained event is seq=2.
	if hist[0].Payload["seq"] != 2 {
		t.Errorf("oldest retained = %v, want 2", hist[0].Payload["seq"])
	}
	if hist[3].Payload["seq"] != 5 {
		t.Errorf("newest retained = %v, want 5", hist[3].Payload["seq"])
	}
}

func TestRecentByTopic(t *testing.T) {
	b := New(16, nil)
	for i := 0; i < 3; i++ {
		b.Publish("research.done", map[string]interface{}{"seq": i})
		b.Publish("noise", nil)
	}

	recent := b.RecentByTopic("research.done", 2)
	if len(recent) != 2 {
		t.Fatalf("got %d events, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Payload["seq"] != 2 || recent[1].Payload["seq"] != 1 {
		t.Errorf("order wrong: %v, %v", recent[0].Payload["seq"], recent[1].Payload["seq"])
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := New(128, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				b.Publish(fmt.Sprintf("topic-%d", n), map[string]interface{}{"j": j})
			}
		}(i)
	}
	wg.Wait()

	if len(b.History()) != 128 {
		t.Errorf("history = %d events, want full ring of 128", len(b.History()))
	}
}
