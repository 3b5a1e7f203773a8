// Package windows is the Windows implementation of internal/driver.Driver.
// The kernel-side collector here is a minifilter/WFP driver out of this
// tree's scope; this package is the user-mode half: it opens the driver's
// control device, issues the three IOCTLs original_source's
// rust-common/ffi/src/win32/message.rs defines (IOCTL_MEMORY_INITIALIZE,
// IOCTL_SET_MONITOR, IOCTL_CLEAR_MONITOR), and reads wire.Events back out of
// a shared-memory section via pkg/ring and pkg/framing — the same section
// the driver's IOCTL_MEMORY_INITIALIZE handshake describes.
//
//go:build windows

package windows

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/tripwire/ratewatch/pkg/framing"
	"github.com/tripwire/ratewatch/pkg/ring"
	"github.com/tripwire/ratewatch/pkg/watchlist"
	"github.com/tripwire/ratewatch/pkg/wire"
)

// CTL_CODE constants, ported from message.rs's `_ctl_code` const fn:
// (device_type << 16) | (access << 14) | (function << 2) | method.
const (
	fileDeviceUnknown = 0x00000022
	methodBuffered    = 0
	fileAnyAccess     = 0

	ioctlMemoryInitialize = (fileDeviceUnknown << 16) | (fileAnyAccess << 14) | (0x800 << 2) | methodBuffered
	ioctlClearMonitor     = (fileDeviceUnknown << 16) | (fileAnyAccess << 14) | (0x801 << 2) | methodBuffered
	ioctlSetMonitor       = (fileDeviceUnknown << 16) | (fileAnyAccess << 14) | (0x802 << 2) | methodBuffered
)

// controlDevicePath is the symbolic link the driver publishes for user-mode
// control: \DosDevices\WinLisDev -> \Device\WinLisDev, per spec §6.
const controlDevicePath = `\\.\WinLisDev`

// sectionSize is the shared-memory transport size; must agree with the
// driver's own ZwCreateSection call made during IOCTL_MEMORY_INITIALIZE.
const sectionSize = ring.DefaultCapacity

// memoryInitializeMessage mirrors message.rs's MemoryInitialize: two
// 64-WCHAR names (section, event) plus a size_t, little-endian, matching
// the METHOD_BUFFERED IOCTL convention (input and output share one buffer).
type memoryInitializeMessage struct {
	Section [64]uint16
	Event   [64]uint16
	Size    uint64
}

// setMonitorMessage mirrors message.rs's SetMonitor: a StaticCommandName
// (wire.CommandLengthWindows bytes) followed by a Threshold (4×uint32).
type setMonitorMessage struct {
	Name      [wire.CommandLengthWindows]byte
	Threshold [4]uint32
}

// Driver is the Windows driver.Driver implementation.
type Driver struct {
	logger *slog.Logger

	device windows.Handle
	section windows.Handle
	mapView uintptr
	event   windows.Handle

	watchlist   *watchlist.Watchlist
	decoder     *framing.Decoder
	procWatcher *processWatcher

	events chan wire.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New opens the control device, performs the IOCTL_MEMORY_INITIALIZE
// handshake, maps the returned section, and starts the poll loop that
// drains it through pkg/framing into wire.Events.
func New(logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	devPathPtr, err := windows.UTF16PtrFromString(controlDevicePath)
	if err != nil {
		return nil, fmt.Errorf("encode device path: %w", err)
	}
	device, err := windows.CreateFile(
		devPathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w (is the ratewatch driver installed and running?)", controlDevicePath, err)
	}

	sectionName := fmt.Sprintf("Local\\ratewatch-events-%d", windows.GetCurrentProcessId())
	eventName := fmt.Sprintf("Local\\ratewatch-ready-%d", windows.GetCurrentProcessId())

	section, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, sectionSize, windows.StringToUTF16Ptr(sectionName))
	if err != nil {
		windows.CloseHandle(device)
		return nil, fmt.Errorf("CreateFileMapping: %w", err)
	}

	view, err := windows.MapViewOfFile(section, windows.FILE_MAP_ALL_ACCESS, 0, 0, uintptr(sectionSize))
	if err != nil {
		windows.CloseHandle(section)
		windows.CloseHandle(device)
		return nil, fmt.Errorf("MapViewOfFile: %w", err)
	}

	event, err := windows.CreateEvent(nil, 0, 0, windows.StringToUTF16Ptr(eventName))
	if err != nil {
		windows.UnmapViewOfFile(view)
		windows.CloseHandle(section)
		windows.CloseHandle(device)
		return nil, fmt.Errorf("CreateEvent: %w", err)
	}

	msg := memoryInitializeMessage{Size: uint64(sectionSize)}
	copy(msg.Section[:], windows.StringToUTF16(sectionName))
	copy(msg.Event[:], windows.StringToUTF16(eventName))

	var bytesReturned uint32
	if err := windows.DeviceIoControl(
		device, ioctlMemoryInitialize,
		(*byte)(unsafe.Pointer(&msg)), uint32(unsafe.Sizeof(msg)),
		(*byte)(unsafe.Pointer(&msg)), uint32(unsafe.Sizeof(msg)),
		&bytesReturned, nil,
	); err != nil {
		windows.CloseHandle(event)
		windows.UnmapViewOfFile(view)
		windows.CloseHandle(section)
		windows.CloseHandle(device)
		return nil, fmt.Errorf("IOCTL_MEMORY_INITIALIZE: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		logger:      logger,
		device:      device,
		section:     section,
		mapView:     view,
		event:       event,
		watchlist:   watchlist.New(watchlist.DefaultCapacity),
		decoder:     framing.NewDecoder(wire.CommandLengthWindows),
		procWatcher: newProcessWatcher(logger),
		events:      make(chan wire.Event, 1024),
		cancel:      cancel,
	}

	d.wg.Add(2)
	go d.pollLoop(ctx)
	go func() {
		defer d.wg.Done()
		d.procWatcher.run(ctx, d.events)
	}()

	return d, nil
}

// SetMonitor implements driver.Driver: updates the local watchlist and
// forwards the threshold to the driver via IOCTL_SET_MONITOR (the kernel
// driver does its own threshold bookkeeping). Nothing reads the local
// watchlist: the process watcher emits a NewProcess event for every new
// process, whether or not its name is watched.
func (d *Driver) SetMonitor(name string, threshold wire.Threshold) error {
	if err := d.watchlist.Set(name, threshold); err != nil {
		return err
	}

	var msg setMonitorMessage
	copy(msg.Name[:], wire.NewCommandName(name, wire.CommandLengthWindows).Bytes())
	msg.Threshold = threshold.Limits

	var bytesReturned uint32
	return windows.DeviceIoControl(
		d.device, ioctlSetMonitor,
		(*byte)(unsafe.Pointer(&msg)), uint32(unsafe.Sizeof(msg)),
		nil, 0,
		&bytesReturned, nil,
	)
}

// ClearMonitor implements driver.Driver.
func (d *Driver) ClearMonitor() error {
	d.watchlist.Clear()

	var bytesReturned uint32
	return windows.DeviceIoControl(d.device, ioctlClearMonitor, nil, 0, nil, 0, &bytesReturned, nil)
}

// NextEvent implements driver.Driver.
func (d *Driver) NextEvent(ctx context.Context, timeout time.Duration) (*wire.Event, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case e := <-d.events:
		return &e, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements driver.Driver. Idempotent.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
		windows.CloseHandle(d.event)
		windows.UnmapViewOfFile(d.mapView)
		windows.CloseHandle(d.section)
		windows.CloseHandle(d.device)
	})
	return nil
}

// pollLoop waits on the ready event, copies whatever bytes the kernel
// driver has written into the shared section since last signal, and feeds
// them through the byte-stuffed framing decoder.
func (d *Driver) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		waitResult, err := windows.WaitForSingleObject(d.event, 250)
		if err != nil {
			d.logger.Warn("WaitForSingleObject failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if waitResult != windows.WAIT_OBJECT_0 {
			continue
		}

		buf := unsafe.Slice((*byte)(unsafe.Pointer(d.mapView)), sectionSize)
		events, dropped := d.decoder.FeedLogged(buf)
		if dropped > 0 {
			d.logger.Warn("framing decoder dropped malformed frames", "count", dropped)
		}
		for _, e := range events {
			select {
			case d.events <- e:
			default:
				d.logger.Warn("event channel full, dropping event", "pid", e.Pid, "type", e.Type)
			}
		}
	}
}
