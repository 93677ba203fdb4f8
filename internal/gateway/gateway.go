// Package gateway mediates all outbound enrichment calls. It owns the
// per-provider token buckets, retry/backoff policy and circuit breakers;
// no other component talks to an enrichment provider directly, which is
// what keeps the outbound call accounting in one place.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/metrics"
)

const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 30 * time.Second
)

// Request is a generic enrichment lookup. Providers map it onto their own
// wire schema; the core never depends on a provider's schema beyond this.
type Request struct {
	Indicator string
	Type      string // url, ip, domain, hash, service
}

// Response is the raw outcome of one provider call before verdict mapping.
type Response struct {
	StatusCode int
	Verdict    string
	RawScore   int
	Detail     string
}

// Transport performs the actual provider call. Implementations live in the
// enrichment package; the gateway only classifies and polices outcomes.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

type provider struct {
	name      string
	cfg       config.ProviderConfig
	transport Transport
	limiter   *rate.Limiter
	breaker   *breaker
	waiters   atomic.Int64 // Bounded queue accounting
}

// Gateway is the rate-limited request gateway. Safe for concurrent use.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]*provider
	log       *logging.Logger

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an empty gateway; providers are attached with Register.
func New(log *logging.Logger) *Gateway {
	return &Gateway{
		providers: make(map[string]*provider),
		log:       log,
		sleep:     sleepCtx,
	}
}

// Register attaches a provider with its rate limit, queue depth and breaker
// settings. Registering an existing name replaces it (used on config reload).
func (g *Gateway) Register(name string, cfg config.ProviderConfig, t Transport) {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[name] = &provider{
		name:      name,
		cfg:       cfg,
		transport: t,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker:   newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}
}

// Providers returns the registered provider names.
func (g *Gateway) Providers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	return names
}

// Call performs one enrichment request against the named provider, applying
// the token bucket, retry policy and circuit breaker. RateLimited and
// Transient failures are retried with exponential backoff up to the
// provider's attempt budget; Permanent failures surface immediately.
func (g *Gateway) Call(ctx context.Context, providerName string, req *Request) (*Response, error) {
	g.mu.RLock()
	p, ok := g.providers[providerName]
	g.mu.RUnlock()
	if !ok {
		return nil, &Error{Provider: providerName, Class: ClassPermanent,
			Err: fmt.Errorf("unknown provider")}
	}

	var lastErr *Error
	backoff := baseBackoff

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		resp, err := g.attempt(ctx, p, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		switch err.Class {
		case ClassPermanent, ClassCircuitOpen:
			return nil, err
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}

		g.log.DebugContext(ctx, "gateway retrying call",
			"provider", p.name, "attempt", attempt, "class", string(err.Class), "backoff", backoff.String())

		if serr := g.sleep(ctx, backoff); serr != nil {
			return nil, &Error{Provider: p.name, Class: ClassTransient, Err: serr}
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil, lastErr
}

// attempt performs a single policed call: breaker gate, bucket wait, then
// the transport with the provider timeout. Every attempt is recorded with
// provider, latency and outcome.
func (g *Gateway) attempt(ctx context.Context, p *provider, req *Request) (*Response, *Error) {
	if !p.breaker.allow() {
		metrics.CircuitState.WithLabelValues(p.name).Set(1)
		metrics.GatewayCalls.WithLabelValues(p.name, "circuit_open").Inc()
		return nil, &Error{Provider: p.name, Class: ClassCircuitOpen}
	}
	metrics.CircuitState.WithLabelValues(p.name).Set(0)

	if err := g.reserve(ctx, p); err != nil {
		metrics.GatewayCalls.WithLabelValues(p.name, "rate_limited_local").Inc()
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.transport.Do(callCtx, req)
	latency := time.Since(start)
	metrics.GatewayLatency.WithLabelValues(p.name).Observe(latency.Seconds())

	class, outcome := classify(resp, err)
	metrics.GatewayCalls.WithLabelValues(p.name, outcome).Inc()

	if class == "" {
		p.breaker.recordSuccess()
		return resp, nil
	}

	// Only transient failures count toward tripping the breaker; a 4xx
	// means the provider is healthy and saying no.
	if class == ClassTransient {
		p.breaker.recordFailure()
	} else {
		p.breaker.recordSuccess()
	}

	return nil, &Error{Provider: p.name, Class: class, Err: err}
}

// reserve acquires a token, queueing up to the configured depth. When the
// queue is full the call fails fast with RateLimited instead of piling up.
func (g *Gateway) reserve(ctx context.Context, p *provider) *Error {
	if p.limiter.Allow() {
		return nil
	}

	if p.waiters.Add(1) > int64(p.cfg.QueueDepth) {
		p.waiters.Add(-1)
		return &Error{Provider: p.name, Class: ClassRateLimited,
			Err: fmt.Errorf("local queue full (depth %d)", p.cfg.QueueDepth)}
	}
	defer p.waiters.Add(-1)

	if err := p.limiter.Wait(ctx); err != nil {
		return &Error{Provider: p.name, Class: ClassTransient, Err: err}
	}
	return nil
}

// classify maps a transport outcome onto an error class; an empty class
// means success. Connection errors and timeouts are transient.
func classify(resp *Response, err error) (ErrorClass, string) {
	switch {
	case err != nil:
		return ClassTransient, "error"
	case resp == nil:
		return ClassTransient, "error"
	case resp.StatusCode == 429:
		return ClassRateLimited, "rate_limited"
	case resp.StatusCode >= 500:
		return ClassTransient, "server_error"
	case resp.StatusCode >= 400:
		return ClassPermanent, "client_error"
	default:
		return "", "ok"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
