package kairo

import (
	"sync"
	"time"

	"codeberg.org/tessel/kairo/internal/health"
	"codeberg.org/tessel/kairo/internal/logger"
	"codeberg.org/tessel/kairo/internal/netclient"
	"codeberg.org/tessel/kairo/internal/policy"
	"codeberg.org/tessel/kairo/internal/throttle"
)

// Config carries the tunables for a Kairo instance.
type Config struct {
	NetworkMaxConcurrent int
	LowBatteryThreshold  float64
	Debounce             time.Duration
	TickPeriod           time.Duration
	Breaker              throttle.BreakerConfig
}

func DefaultConfig() Config {
	return Config{
		NetworkMaxConcurrent: 6,
		LowBatteryThreshold:  0.15,
		Debounce:             350 * time.Millisecond,
		TickPeriod:           5 * time.Second,
		Breaker:              throttle.DefaultBreakerConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NetworkMaxConcurrent < 1 {
		c.NetworkMaxConcurrent = def.NetworkMaxConcurrent
	}
	if c.LowBatteryThreshold <= 0 {
		c.LowBatteryThreshold = def.LowBatteryThreshold
	}
	if c.Debounce < 0 {
		c.Debounce = def.Debounce
	}
	if c.TickPeriod <= 0 {
		c.TickPeriod = def.TickPeriod
	}

	return c
}

// PolicySubscription is a handle on the policy broadcast stream. The
// channel closes when Kairo stops.
type PolicySubscription struct {
	ch     chan policy.Policy
	cancel func()
	once   sync.Once
}

func (s *PolicySubscription) Updates() <-chan policy.Policy {
	return s.ch
}

func (s *PolicySubscription) Close() {
	s.once.Do(s.cancel)
}

// Kairo wires the health monitor, policy engine and network client
// together: every published snapshot is folded into a policy, pushed
// to the client, and broadcast to policy subscribers.
type Kairo struct {
	cfg     Config
	monitor *health.Monitor
	engine  *policy.Engine
	client  *netclient.Client

	mu         sync.Mutex
	started    bool
	stopped    bool
	pol        policy.Policy
	snap       health.Snapshot
	hasPolicy  bool
	policySubs map[uint64]chan policy.Policy
	nextSubID  uint64

	healthSub *health.Subscription
	done      chan struct{}
}

// New builds a stopped Kairo instance around the given probe and
// transport.
func New(cfg Config, probe health.Probe, transport netclient.Transport) *Kairo {
	cfg = cfg.withDefaults()

	engine := policy.NewEngine(policy.EngineConfig{
		NetworkMaxConcurrent: cfg.NetworkMaxConcurrent,
		LowBatteryThreshold:  cfg.LowBatteryThreshold,
	})

	monitor := health.NewMonitor(probe, health.MonitorConfig{
		TickPeriod: cfg.TickPeriod,
		Debounce:   cfg.Debounce,
	})

	client := netclient.NewClient(engine, transport, netclient.ClientConfig{
		MaxConcurrent: cfg.NetworkMaxConcurrent,
		Breaker:       cfg.Breaker,
	})

	return &Kairo{
		cfg:        cfg,
		monitor:    monitor,
		engine:     engine,
		client:     client,
		policySubs: make(map[uint64]chan policy.Policy),
	}
}

// Start brings up the health monitor and begins folding its stream
// into policies. Idempotent; Start after Stop is a no-op.
func (k *Kairo) Start() {
	k.mu.Lock()
	if k.started || k.stopped {
		k.mu.Unlock()
		return
	}
	k.started = true
	k.done = make(chan struct{})
	k.mu.Unlock()

	k.monitor.Start()
	k.healthSub = k.monitor.Subscribe()

	go k.run()

	logger.Info().Msg("kairo started")
}

func (k *Kairo) run() {
	defer close(k.done)

	for snap := range k.healthSub.Updates() {
		pol := k.engine.Evaluate(snap)
		k.client.UpdatePolicy(pol, snap)

		k.mu.Lock()
		k.pol = pol
		k.snap = snap
		k.hasPolicy = true
		for _, ch := range k.policySubs {
			select {
			case ch <- pol:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- pol:
				default:
				}
			}
		}
		k.mu.Unlock()
	}
}

// Stop tears the subsystems down in reverse order: the client's gate
// first, then the monitor, then the policy broadcast. Idempotent.
func (k *Kairo) Stop() {
	k.mu.Lock()
	if !k.started || k.stopped {
		k.mu.Unlock()
		return
	}
	k.stopped = true
	k.mu.Unlock()

	k.client.Shutdown()
	k.monitor.Stop()
	<-k.done

	k.mu.Lock()
	for id, ch := range k.policySubs {
		close(ch)
		delete(k.policySubs, id)
	}
	k.mu.Unlock()

	logger.Info().Msg("kairo stopped")
}

// CurrentHealth returns the latest published snapshot.
func (k *Kairo) CurrentHealth() health.Snapshot {
	snap, _ := k.monitor.Current()
	return snap
}

// CurrentPolicy returns the latest derived policy. Before the first
// snapshot it reports the full-health policy.
func (k *Kairo) CurrentPolicy() policy.Policy {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.hasPolicy {
		return policy.ForLevel(policy.LevelHigh, k.cfg.NetworkMaxConcurrent)
	}

	return k.pol
}

// HealthStream subscribes to the snapshot broadcast.
func (k *Kairo) HealthStream() *health.Subscription {
	return k.monitor.Subscribe()
}

// PolicyStream subscribes to the policy broadcast. The subscriber
// first receives the current policy if one exists.
func (k *Kairo) PolicyStream() *PolicySubscription {
	k.mu.Lock()
	defer k.mu.Unlock()

	ch := make(chan policy.Policy, 1)
	if k.stopped {
		close(ch)
		return &PolicySubscription{ch: ch, cancel: func() {}}
	}

	id := k.nextSubID
	k.nextSubID++
	k.policySubs[id] = ch

	if k.hasPolicy {
		ch <- k.pol
	}

	return &PolicySubscription{
		ch: ch,
		cancel: func() {
			k.mu.Lock()
			defer k.mu.Unlock()
			if ch, ok := k.policySubs[id]; ok {
				delete(k.policySubs, id)
				close(ch)
			}
		},
	}
}

// ShouldAllow answers the admission question for op against the
// latest snapshot and policy. Before the first snapshot there is
// nothing to gate on and every operation is allowed.
func (k *Kairo) ShouldAllow(op policy.Operation) bool {
	k.mu.Lock()
	pol, snap, hasPolicy := k.pol, k.snap, k.hasPolicy
	k.mu.Unlock()

	if !hasPolicy {
		return true
	}

	return k.engine.ShouldAllow(op, snap, pol)
}

// RecommendedImageQuality returns the image variant for the current
// policy.
func (k *Kairo) RecommendedImageQuality() policy.ImageVariant {
	return k.CurrentPolicy().ImageVariant
}

// MaxConcurrentRequests returns the current network concurrency
// ceiling.
func (k *Kairo) MaxConcurrentRequests() int {
	return k.CurrentPolicy().MaxNetworkConcurrent
}

// AllowBackgroundML reports whether background inference is currently
// permitted.
func (k *Kairo) AllowBackgroundML() bool {
	return k.CurrentPolicy().AllowBackgroundML
}

// Client returns the policy-driven network client.
func (k *Kairo) Client() *netclient.Client {
	return k.client
}

// Engine returns the policy engine, exposing the score trend for
// observability.
func (k *Kairo) Engine() *policy.Engine {
	return k.engine
}
