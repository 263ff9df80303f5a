//go:build linux

package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"chordd/internal/metrics"
)

// timevalSize is the width of struct timeval at the head of input_event.
var timevalSize = int(unsafe.Sizeof(unix.Timeval{}))

// readBatch is the number of input_event records read per syscall.
const readBatch = 64

// maxReadFailures is how many consecutive failed reads a device gets
// before it is dropped. The fd stays readable after an error, so a
// persistent one would otherwise wake every epoll cycle.
const maxReadFailures = 8

type inputDevice struct {
	info Info
	fd   int // -1 once removed

	read     func(fd int, p []byte) (int, error)
	failures int
}

// Multiplexer merges the key events of several keyboards into one stream.
type Multiplexer struct {
	devices []*inputDevice
	byFD    map[int32]int

	logger  *slog.Logger
	metrics *metrics.EngineMetrics

	mu     sync.Mutex
	epfd   int
	wakefd int
	closed bool
}

// NewMultiplexer opens every device in infos for non-blocking reads.
// It fails with ErrNoKeyboard when infos is empty and closes whatever it
// opened if any device cannot be opened.
func NewMultiplexer(infos []Info, opts ...Option) (*Multiplexer, error) {
	if len(infos) == 0 {
		return nil, ErrNoKeyboard
	}

	devices := make([]*inputDevice, 0, len(infos))
	for _, info := range infos {
		fd, err := unix.Open(info.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			for _, d := range devices {
				unix.Close(d.fd)
			}
			return nil, fmt.Errorf("open %s: %w", info.Path, err)
		}
		devices = append(devices, &inputDevice{info: info, fd: fd})
	}

	return newMultiplexer(devices, opts...), nil
}

func newMultiplexer(devices []*inputDevice, opts ...Option) *Multiplexer {
	o := buildOptions(opts)
	m := &Multiplexer{
		devices: devices,
		byFD:    make(map[int32]int, len(devices)),
		logger:  o.logger.With("component", "device"),
		metrics: o.metrics,
		epfd:    -1,
		wakefd:  -1,
	}
	for i, d := range devices {
		if d.read == nil {
			d.read = unix.Read
		}
		m.byFD[int32(d.fd)] = i
	}
	m.metrics.ActiveDevices.Set(int64(len(devices)))
	return m
}

// Devices returns the devices still being read.
func (m *Multiplexer) Devices() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.devices))
	for _, d := range m.devices {
		if d.fd >= 0 {
			out = append(out, d.info)
		}
	}
	return out
}

// Listen waits for readiness on all devices and calls handler for every
// key press and release, in delivery order per device. It returns
// ctx.Err() after ctx is cancelled, with all device handles released, or a
// wrapped error if the epoll instance itself fails.
func (m *Multiplexer) Listen(ctx context.Context, handler Handler) error {
	if err := m.setup(); err != nil {
		m.Close()
		return err
	}

	epfd, wakefd := m.epfd, m.wakefd

	stop := context.AfterFunc(ctx, m.wake)
	defer stop()

	events := make([]unix.EpollEvent, len(m.devices)+1)
	buf := make([]byte, readBatch*(timevalSize+eventPayloadSize))

	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			m.Close()
			return fmt.Errorf("epoll wait: %w", err)
		}

		for _, ev := range events[:n] {
			if int(ev.Fd) == wakefd {
				m.logger.Debug("shutdown requested, releasing devices")
				m.Close()
				return ctx.Err()
			}
			idx, ok := m.byFD[ev.Fd]
			if !ok {
				continue
			}
			m.drain(idx, buf, handler)
		}
	}
}

func (m *Multiplexer) setup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("multiplexer closed")
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll create: %w", err)
	}
	m.epfd = epfd

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	m.wakefd = wakefd

	if err := m.register(wakefd); err != nil {
		return fmt.Errorf("register shutdown fd: %w", err)
	}
	for _, d := range m.devices {
		if err := m.register(d.fd); err != nil {
			return fmt.Errorf("register %s: %w", d.info.Path, err)
		}
	}
	return nil
}

func (m *Multiplexer) register(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// wake makes the next EpollWait return through the eventfd.
func (m *Multiplexer) wake() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.wakefd < 0 {
		return
	}
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, _ = unix.Write(m.wakefd, b[:])
}

// drain reads one device until it would block.
func (m *Multiplexer) drain(idx int, buf []byte, handler Handler) {
	d := m.devices[idx]
	for {
		n, err := d.read(d.fd, buf)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.ENODEV):
				m.logger.Warn("input device removed", "path", d.info.Path, "name", d.info.Name)
				m.remove(idx)
			default:
				m.readFailed(idx, err)
			}
			return
		}
		d.failures = 0
		if n == 0 {
			m.logger.Warn("input device closed", "path", d.info.Path, "name", d.info.Name)
			m.remove(idx)
			return
		}

		decodeEvents(buf[:n], timevalSize, func(ev rawEvent) {
			if code, pressed, ok := keyTransition(ev); ok {
				handler(code, pressed)
			}
		})
	}
}

// readFailed counts a failed read. The device yields nothing this cycle
// and is dropped once it has failed maxReadFailures times in a row.
func (m *Multiplexer) readFailed(idx int, err error) {
	d := m.devices[idx]
	d.failures++
	m.metrics.ReadErrors.Inc()

	if d.failures < maxReadFailures {
		m.logger.Warn("device read failed", "path", d.info.Path, "error", err, "consecutive", d.failures)
		return
	}
	m.logger.Error("dropping device after repeated read failures",
		"path", d.info.Path,
		"name", d.info.Name,
		"failures", d.failures,
		"error", err)
	m.remove(idx)
}

// remove deregisters and closes one device. The others keep running.
func (m *Multiplexer) remove(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.devices[idx]
	if d.fd < 0 {
		return
	}
	if m.epfd >= 0 {
		_ = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, d.fd, nil)
	}
	delete(m.byFD, int32(d.fd))
	unix.Close(d.fd)
	d.fd = -1
	m.metrics.ActiveDevices.Add(-1)
}

// Close releases every device handle, the epoll instance and the eventfd.
// It is safe to call more than once.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, d := range m.devices {
		if d.fd < 0 {
			continue
		}
		if err := unix.Close(d.fd); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", d.info.Path, err))
		}
		d.fd = -1
	}
	if m.wakefd >= 0 {
		unix.Close(m.wakefd)
		m.wakefd = -1
	}
	if m.epfd >= 0 {
		unix.Close(m.epfd)
		m.epfd = -1
	}
	m.metrics.ActiveDevices.Set(0)
	return errors.Join(errs...)
}
