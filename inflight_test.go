package spendauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestActionKey(t *testing.T) {
	upper := ActionKey(ActionRedeem, "0xABCDEF0000000000000000000000000000000001")
	lower := ActionKey(ActionRedeem, "0xabcdef0000000000000000000000000000000001")
	if upper != lower {
		t.Errorf("Expected account case to be ignored, got %s and %s", upper, lower)
	}
	if upper == ActionKey(ActionSign, "0xabcdef0000000000000000000000000000000001") {
		t.Error("Expected different actions to produce different keys")
	}
}

func TestInFlight_SecondAcquireFails(t *testing.T) {
	g := NewInFlight(time.Minute)
	key := ActionKey(ActionRedeem, "0x1")

	ticket, err := g.Acquire(key)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !g.Pending(key) {
		t.Error("Expected key to be pending")
	}

	_, err = g.Acquire(key)
	if !errors.Is(err, ErrActionInFlight) {
		t.Fatalf("Expected ErrActionInFlight, got %v", err)
	}
	if CodeOf(err) != ReasonInFlight {
		t.Errorf("Expected reason %s, got %s", ReasonInFlight, CodeOf(err))
	}

	ticket.Release()
	if g.Pending(key) {
		t.Error("Expected key to be released")
	}
	if _, err := g.Acquire(key); err != nil {
		t.Errorf("Expected acquire after release to succeed, got %v", err)
	}
}

func TestInFlight_CompleteRetainsReceipt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewInFlight(5 * time.Minute)
	g.now = func() time.Time { return now }
	key := ActionKey(ActionSubmitBatch, "0x1")
	receipt := &Receipt{ID: "r-1", Status: ReceiptStatusSuccess}

	ticket, err := g.Acquire(key)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	ticket.Complete(receipt)
	// Release after Complete is a no-op.
	ticket.Release()

	if got := g.Result(key); got != receipt {
		t.Errorf("Expected retained receipt, got %+v", got)
	}

	now = now.Add(6 * time.Minute)
	if got := g.Result(key); got != nil {
		t.Errorf("Expected receipt to expire, got %+v", got)
	}
}

func TestInFlight_ZeroTTL(t *testing.T) {
	g := NewInFlight(0)
	key := ActionKey(ActionRevoke, "0x1")
	ticket, err := g.Acquire(key)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	ticket.Complete(&Receipt{ID: "r-1"})
	if got := g.Result(key); got != nil {
		t.Errorf("Expected no retention with zero ttl, got %+v", got)
	}
}

func TestInFlight_Wait(t *testing.T) {
	g := NewInFlight(time.Minute)
	key := ActionKey(ActionRedeem, "0x1")
	receipt := &Receipt{ID: "r-2"}

	ticket, err := g.Acquire(key)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got *Receipt
	var waitErr error
	go func() {
		defer wg.Done()
		got, waitErr = g.Wait(context.Background(), key)
	}()

	time.Sleep(10 * time.Millisecond)
	ticket.Complete(receipt)
	wg.Wait()

	if waitErr != nil {
		t.Fatalf("Unexpected error: %v", waitErr)
	}
	if got != receipt {
		t.Errorf("Expected waiter to see the completed receipt, got %+v", got)
	}
}

func TestInFlight_WaitCanceled(t *testing.T) {
	g := NewInFlight(time.Minute)
	key := ActionKey(ActionRedeem, "0x1")
	if _, err := g.Acquire(key); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.Wait(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestInFlight_Concurrent(t *testing.T) {
	g := NewInFlight(time.Minute)
	key := ActionKey(ActionSign, "0x1")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
		tickets  []*Ticket
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := g.Acquire(key)
			if err != nil {
				return
			}
			mu.Lock()
			acquired++
			tickets = append(tickets, ticket)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Errorf("Expected exactly one holder, got %d", acquired)
	}
	for _, ticket := range tickets {
		ticket.Release()
	}
}
