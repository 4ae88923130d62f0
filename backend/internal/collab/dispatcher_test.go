package collab

import (
	"errors"
	"testing"
)

func TestDispatcher_TryEnqueueNeverBlocks(t *testing.T) {
	// 不起 worker，队列只有一格：第二条必须立刻被拒，而不是等待
	d := NewEventDispatcher(nil, "", nil, DispatcherOptions{QueueSize: 1, Workers: 0})

	if err := d.TryEnqueue(TripOpEvent{TripID: "trip-1", OpID: "op-1"}); err != nil {
		t.Fatalf("TryEnqueue() error = %v", err)
	}
	if err := d.TryEnqueue(TripOpEvent{TripID: "trip-1", OpID: "op-2"}); !errors.Is(err, ErrEventQueueFull) {
		t.Fatalf("TryEnqueue() on full queue error = %v, want ErrEventQueueFull", err)
	}
}
