package capture

import (
	"log/slog"
	"sync"
	"time"

	"homewire/internal/session"
)

const recorderQueue = 256

type entry struct {
	device string
	dir    session.Direction
	data   []byte
	at     time.Time
}

// Recorder feeds session taps into a Journal from a single writer
// goroutine. Frames arriving while the queue is full are dropped.
type Recorder struct {
	journal Journal
	logger  *slog.Logger
	devices map[string]bool // nil records every device

	queue   chan entry
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	dropped uint64
}

// NewRecorder starts a recorder. When devices is non-empty only those
// devices are recorded.
func NewRecorder(j Journal, devices []string, logger *slog.Logger) *Recorder {
	r := &Recorder{
		journal: j,
		logger:  logger.With("component", "capture"),
		queue:   make(chan entry, recorderQueue),
		done:    make(chan struct{}),
	}
	if len(devices) > 0 {
		r.devices = make(map[string]bool, len(devices))
		for _, d := range devices {
			r.devices[d] = true
		}
	}
	go r.run()
	return r
}

// Tap matches hub.FrameTap. raw is copied.
func (r *Recorder) Tap(device string, dir session.Direction, raw []byte) {
	if r.devices != nil && !r.devices[device] {
		return
	}
	e := entry{device: device, dir: dir, data: append([]byte(nil), raw...), at: time.Now()}
	select {
	case r.queue <- e:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		if n == 1 || n%100 == 0 {
			r.logger.Warn("capture queue full, dropping frames", "dropped", n)
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		if err := r.journal.Append(e.device, e.dir, e.data, e.at); err != nil {
			r.logger.Error("append frame", "device", e.device, "err", err)
		}
	}
}

// Close flushes queued frames. Tap must not be called afterwards.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.queue) })
	<-r.done
}

// Dropped returns how many frames were lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
