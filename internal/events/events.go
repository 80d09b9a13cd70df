// Package events provides an event system for worker pool and connector notifications.
package events

import (
	"fmt"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventWorkerSpawned is emitted when the pool starts a new worker
	EventWorkerSpawned EventType = "worker_spawned"
	// EventWorkerReaped is emitted when an above-core worker exits after its idle timeout
	EventWorkerReaped EventType = "worker_reaped"
	// EventJobRejected is emitted when a submission is refused by a saturated or shut down pool
	EventJobRejected EventType = "job_rejected"
	// EventJobFailed is emitted when a job panics inside a worker
	EventJobFailed EventType = "job_failed"
	// EventConnectorStarted is emitted once the listener is bound
	EventConnectorStarted EventType = "connector_started"
	// EventConnectorStopped is emitted after the connector has drained its pool
	EventConnectorStopped EventType = "connector_stopped"
	// EventAcceptError is emitted for a transient accept failure
	EventAcceptError EventType = "accept_error"
	// EventConnectionRejected is emitted when an accepted connection is closed because the pool refused it
	EventConnectionRejected EventType = "connection_rejected"
)

// Event represents a pool or connector event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	WorkerID    uint64 `json:"worker_id,omitempty"`
	LiveWorkers int    `json:"live_workers,omitempty"`
	ConnID      string `json:"conn_id,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewWorkerSpawnedEvent creates a worker spawned event
func NewWorkerSpawnedEvent(workerID uint64, live int) Event {
	return Event{
		Type:      EventWorkerSpawned,
		Timestamp: time.Now(),
		Source:    "worker",
		Data: EventData{
			WorkerID:    workerID,
			LiveWorkers: live,
		},
	}
}

// NewWorkerReapedEvent creates a worker reaped event
func NewWorkerReapedEvent(workerID uint64, live int) Event {
	return Event{
		Type:      EventWorkerReaped,
		Timestamp: time.Now(),
		Source:    "worker",
		Data: EventData{
			WorkerID:    workerID,
			LiveWorkers: live,
		},
	}
}

// NewJobRejectedEvent creates a job rejected event
func NewJobRejectedEvent(reason string) Event {
	return Event{
		Type:      EventJobRejected,
		Timestamp: time.Now(),
		Source:    "worker",
		Data: EventData{
			Reason: reason,
		},
	}
}

// NewJobFailedEvent creates a job failed event from a recovered panic value
func NewJobFailedEvent(workerID uint64, recovered any) Event {
	return Event{
		Type:      EventJobFailed,
		Timestamp: time.Now(),
		Source:    "worker",
		Data: EventData{
			WorkerID: workerID,
			Error:    toString(recovered),
		},
	}
}

// NewConnectorStartedEvent creates a connector started event
func NewConnectorStartedEvent(addr string) Event {
	return Event{
		Type:      EventConnectorStarted,
		Timestamp: time.Now(),
		Source:    "connector",
		Data: EventData{
			Addr: addr,
		},
	}
}

// NewConnectorStoppedEvent creates a connector stopped event
func NewConnectorStoppedEvent(addr string) Event {
	return Event{
		Type:      EventConnectorStopped,
		Timestamp: time.Now(),
		Source:    "connector",
		Data: EventData{
			Addr: addr,
		},
	}
}

// NewAcceptErrorEvent creates an accept error event
func NewAcceptErrorEvent(addr string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventAcceptError,
		Timestamp: time.Now(),
		Source:    "connector",
		Data: EventData{
			Addr:  addr,
			Error: errMsg,
		},
	}
}

// NewConnectionRejectedEvent creates a connection rejected event
func NewConnectionRejectedEvent(connID, remote string, err error) Event {
	return Event{
		Type:      EventConnectionRejected,
		Timestamp: time.Now(),
		Source:    "connector",
		Data: EventData{
			ConnID: connID,
			Addr:   remote,
			Reason: toString(err),
		},
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case error:
		return x.Error()
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
