package netclient

import (
	"context"
	"sync"
	"time"

	"codeberg.org/tessel/kairo/internal/errors"
	"codeberg.org/tessel/kairo/internal/health"
	"codeberg.org/tessel/kairo/internal/logger"
	"codeberg.org/tessel/kairo/internal/policy"
	"codeberg.org/tessel/kairo/internal/throttle"
)

// ClientConfig carries the throttling parameters for a Client.
type ClientConfig struct {
	MaxConcurrent int
	Breaker       throttle.BreakerConfig
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxConcurrent: 6,
		Breaker:       throttle.DefaultBreakerConfig(),
	}
}

// Client executes requests under the active policy: admission via the
// policy engine, concurrency via the semaphore, failure isolation via
// the circuit breaker, and exponential-backoff retries on transient
// errors.
type Client struct {
	engine    *policy.Engine
	transport Transport
	sem       *throttle.Semaphore
	breaker   *throttle.Breaker
	metrics   *metricsStore

	// sleep is the retry backoff; injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	pol       policy.Policy
	snap      health.Snapshot
	hasPolicy bool
}

func NewClient(engine *policy.Engine, transport Transport, cfg ClientConfig) *Client {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	return &Client{
		engine:    engine,
		transport: transport,
		sem:       throttle.NewSemaphore(cfg.MaxConcurrent),
		breaker:   throttle.NewBreaker(cfg.Breaker),
		metrics:   newMetricsStore(),
		sleep:     sleepContext,
	}
}

// WithSleeper replaces the retry backoff sleeper. Test hook.
func (c *Client) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = sleep
	return c
}

// UpdatePolicy installs the policy derived from snap. The semaphore is
// resized before the policy becomes visible to admission checks.
func (c *Client) UpdatePolicy(pol policy.Policy, snap health.Snapshot) {
	c.sem.Resize(pol.MaxNetworkConcurrent)

	c.mu.Lock()
	c.pol = pol
	c.snap = snap
	c.hasPolicy = true
	c.mu.Unlock()

	logger.Debug().
		Int("max_concurrent", pol.MaxNetworkConcurrent).
		Str("level", pol.HealthLevel.String()).
		Msg("network client policy updated")
}

// Do executes req. Critical-priority requests bypass the admission
// gate; everything else is answered from the current snapshot and
// policy. The semaphore permit is always released, including on error
// paths.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	errFactory := errors.New()

	c.mu.RLock()
	pol, snap, hasPolicy := c.pol, c.snap, c.hasPolicy
	c.mu.RUnlock()

	if hasPolicy && !c.engine.ShouldAllow(policy.NetworkOp(req.Priority), snap, pol) {
		if req.Priority != policy.PriorityCritical {
			c.metrics.record(req.Priority, nil, errFactory.New(errors.ErrCancelled))
			return nil, errFactory.WithMessage(errors.ErrCancelled, "request denied by policy")
		}
	}

	if err := c.sem.Acquire(ctx); err != nil {
		c.metrics.record(req.Priority, nil, err)
		return nil, err
	}
	defer c.sem.Release()

	resp, err := c.execute(ctx, req)
	c.metrics.record(req.Priority, resp, err)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// execute runs the attempt loop: each attempt goes through the
// breaker; transport failures, timeouts and 5xx responses back off and
// retry, 4xx is terminal, and CircuitOpen or cancellation surface
// immediately.
func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	errFactory := errors.New()

	var resp *Response
	attempt := 0

	for {
		attempt++

		var attemptResp *Response
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			r, err := c.transport.RoundTrip(ctx, req)
			if err != nil {
				return err
			}
			if r.Status >= 500 {
				return errFactory.WithData(errors.ErrServerError, r.Status)
			}
			attemptResp = r
			return nil
		})

		if err == nil {
			resp = attemptResp
			resp.RetryCount = attempt - 1
			if resp.Status >= 400 {
				return resp, errFactory.WithData(errors.ErrClientError, resp.Status)
			}
			return resp, nil
		}

		if !retryable(err) || !req.RetryEnabled || attempt >= req.MaxRetries {
			return nil, err
		}

		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		logger.Debug().
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("retrying request")

		if err := c.sleep(ctx, backoff); err != nil {
			return nil, errFactory.Wrap(errors.ErrCancelled, err)
		}
	}
}

// retryable reports whether the attempt failed transiently.
func retryable(err error) bool {
	switch {
	case errors.IsCode(err, errors.ErrCancelled),
		errors.IsCode(err, errors.ErrCircuitOpen),
		errors.IsCode(err, errors.ErrClientError):
		return false
	case errors.IsCode(err, errors.ErrTimeout),
		errors.IsCode(err, errors.ErrServerError),
		errors.IsCode(err, errors.ErrNoConnection),
		errors.IsCode(err, errors.ErrRequestFailed):
		return true
	default:
		return true
	}
}

// Metrics returns a copy of the current counters.
func (c *Client) Metrics() Metrics {
	return c.metrics.snapshot()
}

// ResetMetrics zeroes all counters.
func (c *Client) ResetMetrics() {
	c.metrics.reset()
}

// Breaker exposes the circuit breaker for observability and manual
// control.
func (c *Client) Breaker() *throttle.Breaker {
	return c.breaker
}

// SemaphoreStatus reports the concurrency gate state.
func (c *Client) SemaphoreStatus() throttle.SemaphoreStatus {
	return c.sem.Status()
}

// Shutdown cancels all queued acquisitions and refuses new ones.
func (c *Client) Shutdown() {
	c.sem.Deactivate()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
