package concurrency_test

import (
	"testing"

	"github.com/vireon-io/netselect/internal/concurrency"
)

func TestUpdateQueueSubmitBeforeSelectNeedsNoWakeup(t *testing.T) {
	q := concurrency.NewUpdateQueue[int]()
	if woken := q.Submit(1); woken {
		t.Fatal("submit before any BeginSelect should not require a wakeup")
	}
	if got := q.BeginSelect(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected [1], got %v", got)
	}
}

func TestUpdateQueueSubmitDuringSelectNeedsWakeup(t *testing.T) {
	q := concurrency.NewUpdateQueue[int]()
	q.BeginSelect()
	if woken := q.Submit(2); !woken {
		t.Fatal("submit while selecting should require a wakeup")
	}
	got := q.EndSelect()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected [2], got %v", got)
	}
}

func TestUpdateQueueCoalescesWakeupAcrossConcurrentSubmits(t *testing.T) {
	q := concurrency.NewUpdateQueue[int]()
	q.BeginSelect()
	if woken := q.Submit(1); !woken {
		t.Fatal("first submit while selecting should require a wakeup")
	}
	if woken := q.Submit(2); woken {
		t.Fatal("second submit while selecting should not require a second wakeup")
	}
	if woken := q.Submit(3); woken {
		t.Fatal("third submit while selecting should not require a third wakeup")
	}
	got := q.EndSelect()
	if len(got) != 3 {
		t.Fatalf("expected all 3 submitted updates to be drained, got %v", got)
	}
}

func TestUpdateQueueDrainIsIdempotentWhenEmpty(t *testing.T) {
	q := concurrency.NewUpdateQueue[string]()
	if got := q.Drain(); got != nil {
		t.Fatalf("expected nil drain of empty queue, got %v", got)
	}
}
