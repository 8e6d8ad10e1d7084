package workers

import (
	"context"
	"testing"
	"time"

	"github.com/telepay/reconciler/internal/entities"
)

type fakeExpirer struct {
	sweeps chan time.Time
}

func (f *fakeExpirer) ExpireDue(_ context.Context, now time.Time) ([]entities.Order, error) {
	select {
	case f.sweeps <- now:
	default:
	}
	return []entities.Order{{ID: "stale-1"}}, nil
}

func TestReaperSweepsImmediatelyAndOnTicks(t *testing.T) {
	expirer := &fakeExpirer{sweeps: make(chan time.Time, 8)}
	reaper := NewExpiryReaper(testLogger(), expirer, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Start(ctx)
		close(done)
	}()

	// first sweep happens before the first tick
	select {
	case <-expirer.sweeps:
	case <-time.After(time.Second):
		t.Fatal("no initial sweep")
	}

	select {
	case <-expirer.sweeps:
	case <-time.After(time.Second):
		t.Fatal("no periodic sweep")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on context cancel")
	}
}
