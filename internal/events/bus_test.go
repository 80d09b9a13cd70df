package events

import (
	"errors"
	"testing"
	"time"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	if bus == nil {
		t.Fatal("expected non-nil bus")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestBusSubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	ch2 := bus.Subscribe(EventWorkerSpawned)
	if bus.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", bus.SubscriberCount())
	}

	if ch1 == nil || ch2 == nil {
		t.Error("expected non-nil channels")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}

	// Unknown channel is ignored
	bus.Unsubscribe(make(chan Event))
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()

	bus.Publish(NewWorkerSpawnedEvent(1, 1))

	select {
	case received := <-ch:
		if received.Type != EventWorkerSpawned {
			t.Errorf("expected type %s, got %s", EventWorkerSpawned, received.Type)
		}
		if received.Data.WorkerID != 1 {
			t.Errorf("expected worker 1, got %d", received.Data.WorkerID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBusPublishFiltered(t *testing.T) {
	bus := NewBus()

	rejected := bus.Subscribe(EventJobRejected)

	bus.Publish(NewWorkerSpawnedEvent(1, 1))
	bus.Publish(NewJobRejectedEvent("queue is full"))

	select {
	case received := <-rejected:
		if received.Type != EventJobRejected {
			t.Errorf("expected only %s, got %s", EventJobRejected, received.Type)
		}
		if received.Data.Reason != "queue is full" {
			t.Errorf("unexpected reason %q", received.Data.Reason)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	select {
	case extra := <-rejected:
		t.Errorf("unexpected extra event %s", extra.Type)
	default:
	}
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewConnectorStartedEvent("127.0.0.1:8081"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Type != EventConnectorStarted {
				t.Errorf("subscriber %d: expected type %s, got %s", i, EventConnectorStarted, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1 // Small buffer for testing

	ch := bus.Subscribe()

	bus.Publish(NewWorkerSpawnedEvent(1, 1))
	bus.Publish(NewWorkerSpawnedEvent(2, 2))
	bus.Publish(NewWorkerSpawnedEvent(3, 3))

	select {
	case <-ch:
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for first event")
	}

	if bus.Dropped() != 2 {
		t.Errorf("expected 2 dropped deliveries, got %d", bus.Dropped())
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	// Must not panic
	bus.Publish(NewJobRejectedEvent("pool is shut down"))
}

func TestBusClose(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", bus.SubscriberCount())
	}

	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed")
	}
}

func TestEventCreation(t *testing.T) {
	t.Run("WorkerEvents", func(t *testing.T) {
		spawned := NewWorkerSpawnedEvent(7, 3)
		if spawned.Source != "worker" || spawned.Data.LiveWorkers != 3 {
			t.Errorf("unexpected spawned event: %+v", spawned)
		}
		reaped := NewWorkerReapedEvent(7, 2)
		if reaped.Type != EventWorkerReaped || reaped.Data.WorkerID != 7 {
			t.Errorf("unexpected reaped event: %+v", reaped)
		}
	})

	t.Run("JobFailedEvent", func(t *testing.T) {
		fromErr := NewJobFailedEvent(1, errors.New("boom"))
		if fromErr.Data.Error != "boom" {
			t.Errorf("expected boom, got %s", fromErr.Data.Error)
		}
		fromValue := NewJobFailedEvent(1, 42)
		if fromValue.Data.Error != "42" {
			t.Errorf("expected 42, got %s", fromValue.Data.Error)
		}
	})

	t.Run("ConnectorEvents", func(t *testing.T) {
		stopped := NewConnectorStoppedEvent(":8081")
		if stopped.Type != EventConnectorStopped || stopped.Source != "connector" {
			t.Errorf("unexpected stopped event: %+v", stopped)
		}
		acceptErr := NewAcceptErrorEvent(":8081", errors.New("too many open files"))
		if acceptErr.Data.Error != "too many open files" {
			t.Errorf("unexpected error text %q", acceptErr.Data.Error)
		}
		if NewAcceptErrorEvent(":8081", nil).Data.Error != "" {
			t.Error("expected empty error for nil")
		}
		rejected := NewConnectionRejectedEvent("c-1", "127.0.0.1:50000", errors.New("queue is full"))
		if rejected.Data.ConnID != "c-1" || rejected.Data.Reason != "queue is full" {
			t.Errorf("unexpected rejected event: %+v", rejected)
		}
	})
}
