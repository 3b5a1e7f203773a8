package tracer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/tripwire/ratewatch/pkg/wire"
)

type fakeDriver struct {
	setCalls   []string
	clearCalls int
	closeCalls int
	nextEvent  *wire.Event
	nextErr    error
}

func (f *fakeDriver) SetMonitor(name string, threshold wire.Threshold) error {
	f.setCalls = append(f.setCalls, name)
	return nil
}

func (f *fakeDriver) ClearMonitor() error {
	f.clearCalls++
	return nil
}

func (f *fakeDriver) NextEvent(ctx context.Context, timeout time.Duration) (*wire.Event, error) {
	return f.nextEvent, f.nextErr
}

func (f *fakeDriver) Close() error {
	f.closeCalls++
	return nil
}

func newTestHandle(d *fakeDriver) *Handle {
	return &Handle{state: stateAttached, driver: d, logger: slog.Default()}
}

func TestSetMonitorDelegatesToDriver(t *testing.T) {
	fd := &fakeDriver{}
	h := newTestHandle(fd)

	if err := h.SetMonitor("curl", wire.Threshold{}); err != nil {
		t.Fatal(err)
	}
	if len(fd.setCalls) != 1 || fd.setCalls[0] != "curl" {
		t.Fatalf("unexpected set calls: %v", fd.setCalls)
	}
}

func TestOperationsFailOutsideAttached(t *testing.T) {
	fd := &fakeDriver{}
	h := newTestHandle(fd)
	h.state = stateUnattached

	if err := h.SetMonitor("curl", wire.Threshold{}); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
	if err := h.ClearMonitor(); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
	if _, err := h.NextEvent(time.Millisecond); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestNextEventReturnsEventFromDriver(t *testing.T) {
	want := &wire.Event{Pid: 7}
	fd := &fakeDriver{nextEvent: want}
	h := newTestHandle(fd)

	got, err := h.NextEvent(10 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Pid != 7 {
		t.Fatalf("got %+v, want pid 7", got)
	}
}

func TestNextEventTimeoutReturnsNilNil(t *testing.T) {
	fd := &fakeDriver{nextEvent: nil, nextErr: nil}
	h := newTestHandle(fd)

	got, err := h.NextEvent(10 * time.Millisecond)
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) on timeout, got (%+v, %v)", got, err)
	}
}

func TestFreeIsIdempotentAndInvalidatesHandle(t *testing.T) {
	fd := &fakeDriver{}
	h := newTestHandle(fd)

	h.Free()
	h.Free()

	if fd.closeCalls != 1 {
		t.Fatalf("driver Close called %d times, want 1", fd.closeCalls)
	}
	if err := h.ClearMonitor(); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle after Free, got %v", err)
	}
}
