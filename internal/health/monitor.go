package health

import (
	"context"
	"sync"
	"time"

	"codeberg.org/tessel/kairo/internal/errors"
	"codeberg.org/tessel/kairo/internal/logger"
)

const (
	defaultTickPeriod = 5 * time.Second
	defaultDebounce   = 350 * time.Millisecond

	eventQueueSize = 16
)

// MonitorConfig controls probing cadence and update suppression.
type MonitorConfig struct {
	// TickPeriod is the interval between periodic probe reads.
	TickPeriod time.Duration

	// Debounce is the quiet window a significant change must survive
	// before it is broadcast. Critical flips bypass it.
	Debounce time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TickPeriod: defaultTickPeriod,
		Debounce:   defaultDebounce,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.TickPeriod <= 0 {
		c.TickPeriod = defaultTickPeriod
	}
	if c.Debounce < 0 {
		c.Debounce = defaultDebounce
	}

	return c
}

// Subscription is a handle on the monitor's broadcast stream. The
// channel closes when the monitor stops. Close unregisters the
// subscriber; it is safe to call more than once.
type Subscription struct {
	ch     chan Snapshot
	cancel func()
	once   sync.Once
}

// Updates returns the snapshot stream. Delivery is conflating: a slow
// consumer may miss intermediate snapshots but always observes the
// latest broadcast before any newer one, in timestamp order.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.ch
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Monitor periodically probes device health, deduplicates and
// debounces the readings, and broadcasts significant changes to all
// subscribers. Probe change callbacks are forwarded through an
// internal queue so all state mutation happens on the monitor's own
// goroutine.
type Monitor struct {
	probe Probe
	cfg   MonitorConfig

	mu         sync.Mutex
	started    bool
	stopped    bool
	current    Snapshot
	hasCurrent bool
	subs       map[uint64]chan Snapshot
	nextSubID  uint64

	events      chan Snapshot
	cancelWatch func()
	cancelRun   context.CancelFunc
	done        chan struct{}
}

func NewMonitor(probe Probe, cfg MonitorConfig) *Monitor {
	return &Monitor{
		probe:  probe,
		cfg:    cfg.withDefaults(),
		subs:   make(map[uint64]chan Snapshot),
		events: make(chan Snapshot, eventQueueSize),
	}
}

// Start begins periodic probing and change forwarding. It emits an
// initial snapshot immediately. Calling Start on a running or stopped
// monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	if snap, err := m.readSnapshot(); err != nil {
		logger.Warn().Err(err).Msg("initial health read failed")
	} else {
		m.publish(snap)
	}

	m.cancelWatch = m.probe.OnChange(func(snap Snapshot) {
		select {
		case m.events <- snap:
		default:
			logger.Debug().Msg("health event queue full, dropping change event")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelRun = cancel

	go m.run(ctx)
}

// Stop cancels the timer and probe subscription and closes all
// subscriber channels. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	if m.cancelWatch != nil {
		m.cancelWatch()
	}
	m.cancelRun()
	<-m.done

	m.mu.Lock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.mu.Unlock()
}

// Current returns the most recently broadcast snapshot without
// blocking. The second return is false before the first broadcast.
func (m *Monitor) Current() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current, m.hasCurrent
}

// Subscribe registers a new stream consumer. The subscriber first
// receives the current snapshot, then every subsequent broadcast.
// Subscribing to a stopped monitor yields an already-closed stream.
func (m *Monitor) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if m.stopped {
		close(ch)
		return &Subscription{ch: ch, cancel: func() {}}
	}

	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch

	if m.hasCurrent {
		ch <- m.current
	}

	return &Subscription{
		ch: ch,
		cancel: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if ch, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		},
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.TickPeriod)
	defer ticker.Stop()

	var (
		debounceTimer *time.Timer
		debounceC     <-chan time.Time
		pending       Snapshot
		hasPending    bool
	)

	stopDebounce := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceC = nil
		hasPending = false
	}
	defer stopDebounce()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			snap, err := m.readSnapshot()
			if err != nil {
				logger.Warn().Err(err).Msg("health probe read failed, keeping previous snapshot")
				continue
			}
			m.consider(snap, &debounceTimer, &debounceC, &pending, &hasPending)

		case snap := <-m.events:
			m.consider(snap, &debounceTimer, &debounceC, &pending, &hasPending)

		case <-debounceC:
			debounceC = nil
			if hasPending {
				hasPending = false
				m.publish(pending)
			}
		}
	}
}

// consider applies the significant-change predicate and debounce
// policy to a candidate snapshot.
func (m *Monitor) consider(snap Snapshot, timer **time.Timer, timerC *<-chan time.Time, pending *Snapshot, hasPending *bool) {
	m.mu.Lock()
	previous, hasPrevious := m.current, m.hasCurrent
	m.mu.Unlock()

	if hasPrevious && !snap.SignificantlyDiffers(previous) {
		return
	}

	criticalFlip := snap.IsCritical() && (!hasPrevious || !previous.IsCritical())
	if !hasPrevious || criticalFlip || m.cfg.Debounce == 0 {
		if *timer != nil {
			(*timer).Stop()
		}
		*timerC = nil
		*hasPending = false
		m.publish(snap)
		return
	}

	*pending = snap
	*hasPending = true
	if *timer == nil {
		*timer = time.NewTimer(m.cfg.Debounce)
	} else {
		if !(*timer).Stop() {
			select {
			case <-(*timer).C:
			default:
			}
		}
		(*timer).Reset(m.cfg.Debounce)
	}
	*timerC = (*timer).C
}

// publish records snap as current and fans it out to all subscribers.
// Delivery conflates: if a subscriber's buffer is full, the stale
// value is replaced by the new one.
func (m *Monitor) publish(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	m.current = snap
	m.hasCurrent = true

	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}

	logger.Debug().
		Float64("score", snap.Score()).
		Bool("critical", snap.IsCritical()).
		Str("thermal", snap.Thermal.String()).
		Msg("health snapshot published")
}

// readSnapshot reads the probe with a hard budget of twice the tick
// period. A probe that misses the budget is treated as having returned
// the previous snapshot.
func (m *Monitor) readSnapshot() (Snapshot, error) {
	errFactory := errors.New()

	type readResult struct {
		snap Snapshot
		err  error
	}
	resultC := make(chan readResult, 1)
	go func() {
		snap, err := m.probe.Read()
		resultC <- readResult{snap, err}
	}()

	select {
	case r := <-resultC:
		if r.err != nil {
			return Snapshot{}, errFactory.Wrap(ErrProbeReadFailed, r.err)
		}
		return r.snap, nil
	case <-time.After(2 * m.cfg.TickPeriod):
		m.mu.Lock()
		previous, ok := m.current, m.hasCurrent
		m.mu.Unlock()
		if !ok {
			return Snapshot{}, errFactory.New(ErrProbeTimeout)
		}
		logger.Warn().Msg("health probe read exceeded budget, reusing previous snapshot")
		return previous, nil
	}
}
