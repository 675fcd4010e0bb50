package mountapi

import (
	"context"
	"testing"
)

func TestMountBeforePrepareFaults(t *testing.T) {
	a := NewLoopbackAdapter()
	err := a.Mount(context.Background(), Config{Mountpoint: "/mnt/x"})
	if err == nil {
		t.Fatal("expected error mounting before prepare_environment")
	}
	if a.StatusNow() != Faulted {
		t.Errorf("expected Faulted, got %s", a.StatusNow())
	}
}

func TestPrepareThenMountThenUnmount(t *testing.T) {
	a := NewLoopbackAdapter()
	ctx := context.Background()

	if err := a.PrepareEnvironment(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := a.Mount(ctx, Config{Mountpoint: "/mnt/x"}); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if a.StatusNow() != Mounted {
		t.Errorf("expected Mounted, got %s", a.StatusNow())
	}

	if err := a.Unmount(ctx); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if a.StatusNow() != Unmounted {
		t.Errorf("expected Unmounted, got %s", a.StatusNow())
	}

	// idempotent
	if err := a.Unmount(ctx); err != nil {
		t.Fatalf("second unmount: %v", err)
	}
}

func TestEventsStreamReflectsTransitions(t *testing.T) {
	a := NewLoopbackAdapter()
	ctx := context.Background()
	_ = a.PrepareEnvironment(ctx)
	_ = a.Mount(ctx, Config{Mountpoint: "/mnt/x"})

	var got []Status
	for i := 0; i < 2; i++ {
		ev := <-a.Events()
		got = append(got, ev.Status)
	}
	if got[0] != Mounting || got[1] != Mounted {
		t.Errorf("expected [Mounting, Mounted], got %v", got)
	}
}
