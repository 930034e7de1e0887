package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func task(target string, n int) Task {
	return Task{ID: fmt.Sprintf("%s-%d", target, n), Target: target, Name: "test"}
}

func TestTargetQueues_BasicOperations(t *testing.T) {
	q := New(WithDepth(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(task("#a", 1)); err != nil {
		t.Fatalf("expected enqueue to succeed: %v", err)
	}
	if err := q.Enqueue(task("#a", 2)); err != nil {
		t.Fatalf("expected enqueue to succeed: %v", err)
	}
	if err := q.Enqueue(task("#a", 3)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if d := q.Depth("#a"); d != 2 {
		t.Errorf("expected depth 2, got %d", d)
	}

	got, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.ID != "#a-1" {
		t.Errorf("expected #a-1, got %s", got.ID)
	}
	if got.Enqueued.IsZero() {
		t.Error("expected enqueue time to be stamped")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}
}

func TestTargetQueues_TargetBusyUntilDone(t *testing.T) {
	q := New()
	_ = q.Enqueue(task("#a", 1))
	_ = q.Enqueue(task("#a", 2))
	_ = q.Enqueue(task("#b", 1))

	first, _ := q.Next(context.Background())
	second, _ := q.Next(context.Background())
	if first.Target == second.Target {
		t.Fatalf("two tasks of %s handed out before Done", first.Target)
	}

	// #a is busy and #b is busy: nothing else is ready.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no ready target, got %v", err)
	}

	q.Done("#a")
	third, err := q.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if third.ID != "#a-2" {
		t.Errorf("expected #a-2 after Done, got %s", third.ID)
	}
}

func TestTargetQueues_PerTargetOrderUnderConcurrency(t *testing.T) {
	q := New(WithDepth(1000))
	targets := []string{"#a", "#b", "#c", "#d"}
	const perTarget = 200

	for i := 0; i < perTarget; i++ {
		for _, tg := range targets {
			if err := q.Enqueue(Task{Target: tg, ID: fmt.Sprint(i)}); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
		}
	}

	var mu sync.Mutex
	seen := make(map[string][]string)
	running := make(map[string]bool)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tk, err := q.Next(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				if running[tk.Target] {
					t.Errorf("overlapping tasks for %s", tk.Target)
				}
				running[tk.Target] = true
				seen[tk.Target] = append(seen[tk.Target], tk.ID)
				mu.Unlock()

				time.Sleep(time.Microsecond)

				mu.Lock()
				running[tk.Target] = false
				mu.Unlock()
				q.Done(tk.Target)
			}
		}()
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		total := 0
		for _, ids := range seen {
			total += len(ids)
		}
		mu.Unlock()
		if total == perTarget*len(targets) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d tasks ran", total)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	wg.Wait()

	for _, tg := range targets {
		for i, id := range seen[tg] {
			if id != fmt.Sprint(i) {
				t.Fatalf("%s ran out of order at %d: %s", tg, i, id)
			}
		}
	}
}

func TestTargetQueues_MaxTargetsAndSweep(t *testing.T) {
	now := time.Unix(0, 0)
	q := New(WithMaxTargets(2), WithIdleTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = q.Enqueue(task("#a", 1))
	_ = q.Enqueue(task("#b", 1))
	if err := q.Enqueue(task("#c", 1)); !errors.Is(err, ErrTooManyTargets) {
		t.Fatalf("expected ErrTooManyTargets, got %v", err)
	}

	tk, _ := q.Next(ctx)
	q.Done(tk.Target)
	if n := q.Sweep(); n != 0 {
		t.Errorf("nothing should be idle long enough yet, swept %d", n)
	}

	now = now.Add(2 * time.Minute)
	if n := q.Sweep(); n != 1 {
		t.Errorf("expected one idle target swept, got %d", n)
	}
	if err := q.Enqueue(task("#c", 1)); err != nil {
		t.Errorf("expected room after sweep: %v", err)
	}
}

func TestTargetQueues_EnqueueWait(t *testing.T) {
	q := New(WithDepth(1))
	ctx := context.Background()
	_ = q.Enqueue(task("#a", 1))

	if err := q.EnqueueWait(ctx, task("#a", 2), 20*time.Millisecond); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull after wait, got %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = q.Next(ctx)
	}()
	if err := q.EnqueueWait(ctx, task("#a", 2), time.Second); err != nil {
		t.Fatalf("expected enqueue once space frees: %v", err)
	}
}

func TestTargetQueues_Close(t *testing.T) {
	q := New()
	_ = q.Close()
	_ = q.Close()

	if !q.IsClosed() {
		t.Error("expected closed")
	}
	if err := q.Enqueue(task("#a", 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := q.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Next, got %v", err)
	}
}
