// Package mountapi defines C11: the abstract mount-provider contract
// platform shims implement to expose the router and media engine as
// a real filesystem. This package intentionally stops short of any
// real FUSE/WinFSP binding — see DESIGN.md for why go-fuse is carried
// in the corpus (bureau-foundation-bureau) but left unwired here.
//
// grounded on: original_source/mount.rs's MountProvider trait shape.
package mountapi

import (
	"context"
	"fmt"
	"sync"
)

// Status is one of the five states a mount can be in.
type Status int

const (
	Unmounted Status = iota
	Mounting
	Mounted
	Unmounting
	Faulted
)

func (s Status) String() string {
	switch s {
	case Mounting:
		return "Mounting"
	case Mounted:
		return "Mounted"
	case Unmounting:
		return "Unmounting"
	case Faulted:
		return "Faulted"
	default:
		return "Unmounted"
	}
}

// Event is one transition broadcast on the events stream.
type Event struct {
	Status Status
	Reason string // populated only for Faulted
}

// Config carries whatever the platform shim needs to mount — left
// minimal here since no real shim is implemented by this module.
type Config struct {
	Mountpoint    string
	CaseSensitive bool
}

// Provider is the abstract surface every platform shim implements.
// Call order invariant: PrepareEnvironment must precede Mount;
// Unmount is idempotent.
type Provider interface {
	PrepareEnvironment(ctx context.Context) error
	Mount(ctx context.Context, cfg Config) error
	Unmount(ctx context.Context) error
	StatusNow() Status
	Events() <-chan Event
}

// LoopbackAdapter is a no-op Provider used for testing the contract
// and for deployments with no platform shim wired in. It never
// touches a real filesystem; Mount just flips status and emits
// events, matching the call-order invariants a real shim must honor.
type LoopbackAdapter struct {
	mu       sync.Mutex
	status   Status
	prepared bool
	events   chan Event
}

// NewLoopbackAdapter constructs a LoopbackAdapter.
func NewLoopbackAdapter() *LoopbackAdapter {
	return &LoopbackAdapter{
		status: Unmounted,
		events: make(chan Event, 16),
	}
}

func (a *LoopbackAdapter) emit(ev Event) {
	a.status = ev.Status
	select {
	case a.events <- ev:
	default:
		// drop if no one is draining; status is still authoritative
		// via StatusNow.
	}
}

// PrepareEnvironment marks the adapter ready to accept Mount.
func (a *LoopbackAdapter) PrepareEnvironment(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prepared = true
	return nil
}

// Mount transitions Unmounted -> Mounting -> Mounted. Calling Mount
// before PrepareEnvironment violates the call-order invariant and
// faults instead of mounting.
func (a *LoopbackAdapter) Mount(ctx context.Context, cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.prepared {
		a.emit(Event{Status: Faulted, Reason: "mount called before prepare_environment"})
		return fmt.Errorf("mountapi: prepare_environment must precede mount")
	}
	if cfg.Mountpoint == "" {
		a.emit(Event{Status: Faulted, Reason: "empty mountpoint"})
		return fmt.Errorf("mountapi: mountpoint is required")
	}

	a.emit(Event{Status: Mounting})
	a.emit(Event{Status: Mounted})
	return nil
}

// Unmount transitions to Unmounted. Idempotent: calling it when
// already unmounted is a no-op, not an error.
func (a *LoopbackAdapter) Unmount(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == Unmounted {
		return nil
	}
	a.emit(Event{Status: Unmounting})
	a.emit(Event{Status: Unmounted})
	return nil
}

// StatusNow returns the current status.
func (a *LoopbackAdapter) StatusNow() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Events returns the broadcast event stream.
func (a *LoopbackAdapter) Events() <-chan Event {
	return a.events
}
