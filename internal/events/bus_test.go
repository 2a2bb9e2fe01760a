package events

import (
	"sync"
	"testing"
	"time"

	"github.com/drillops/cerberus/internal/model"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	defer unsub()

	reporter := NewReporter(bus.Publish)
	reporter.Init(12, "auto", []string{"RIH"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].Type != TypeInit {
		t.Errorf("expected type %s, got %s", TypeInit, received[0].Type)
	}
	if received[0].Init == nil || received[0].Init.TotalRows != 12 {
		t.Errorf("unexpected init payload: %+v", received[0].Init)
	}
}

func TestBus_DeliversInEmissionOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var indices []int

	unsub := bus.Subscribe(func(e Event) {
		if e.Type != TypeRow {
			return
		}
		mu.Lock()
		indices = append(indices, e.Row.GlobalIndex)
		mu.Unlock()
	})
	defer unsub()

	reporter := NewReporter(bus.Publish)
	const n = 500
	for i := 0; i < n; i++ {
		reporter.Row(model.ResultRow{GlobalIndex: i, Mode: model.ModeRIH})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(indices) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, got := range indices {
		if got != i {
			t.Fatalf("event %d delivered out of order: got index %d", i, got)
		}
	}
}

func TestBus_MultipleSubscribersEachSeeEverything(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	counts := make([]int, 3)
	var mu sync.Mutex
	for i := range counts {
		i := i
		defer bus.Subscribe(func(Event) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		})()
	}

	reporter := NewReporter(bus.Publish)
	reporter.Init(2, "auto", nil)
	reporter.Row(model.ResultRow{GlobalIndex: 0, Mode: model.ModeRIH})
	reporter.Done(nil, nil)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[0] == 3 && counts[1] == 3 && counts[2] == 3
	})
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	reporter := NewReporter(bus.Publish)
	reporter.Init(1, "auto", nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	unsub()
	reporter.Done(nil, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d events", count)
	}
}

func TestBus_PanickingSubscriberDoesNotDisruptOthers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	defer bus.Subscribe(func(Event) { panic("consumer bug") })()

	var mu sync.Mutex
	count := 0
	defer bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})()

	reporter := NewReporter(bus.Publish)
	reporter.Init(1, "auto", nil)
	reporter.Done(nil, nil)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	})
}
