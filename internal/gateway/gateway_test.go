package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/logging"
)

func newTestGateway() *Gateway {
	g := New(logging.New(slog.LevelError, "text"))
	g.sleep = func(context.Context, time.Duration) error { return nil }
	return g
}

func TestCall_Success(t *testing.T) {
	g := newTestGateway()
	g.Register("urlrep", config.ProviderConfig{RatePerSecond: 100, Burst: 10},
		TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
			return &Response{StatusCode: 200, Verdict: "malicious", RawScore: 40}, nil
		}))

	resp, err := g.Call(context.Background(), "urlrep", &Request{Indicator: "http://evil.test", Type: "url"})
	require.NoError(t, err)
	assert.Equal(t, "malicious", resp.Verdict)
	assert.Equal(t, 40, resp.RawScore)
}

func TestCall_UnknownProvider(t *testing.T) {
	g := newTestGateway()

	_, err := g.Call(context.Background(), "nope", &Request{})
	require.Error(t, err)
	assert.Equal(t, ClassPermanent, ClassOf(err))
}

func TestCall_PermanentNotRetried(t *testing.T) {
	g := newTestGateway()
	calls := 0
	g.Register("urlrep", config.ProviderConfig{RatePerSecond: 100, Burst: 10, MaxAttempts: 5},
		TransportFunc(func(context.Context, *Request) (*Response, error) {
			calls++
			return &Response{StatusCode: 403}, nil
		}))

	_, err := g.Call(context.Background(), "urlrep", &Request{})
	require.Error(t, err)
	assert.Equal(t, ClassPermanent, ClassOf(err))
	assert.Equal(t, 1, calls, "4xx must surface immediately without retry")
}

func TestCall_TransientRetriedThenSucceeds(t *testing.T) {
	g := newTestGateway()
	calls := 0
	g.Register("iprep", config.ProviderConfig{RatePerSecond: 100, Burst: 10, MaxAttempts: 5},
		TransportFunc(func(context.Context, *Request) (*Response, error) {
			calls++
			if calls < 3 {
				return &Response{StatusCode: 503}, nil
			}
			return &Response{StatusCode: 200, Verdict: "benign"}, nil
		}))

	resp, err := g.Call(context.Background(), "iprep", &Request{})
	require.NoError(t, err)
	assert.Equal(t, "benign", resp.Verdict)
	assert.Equal(t, 3, calls)
}

func TestCall_RateLimitedRetriedAndExhausted(t *testing.T) {
	g := newTestGateway()
	calls := 0
	g.Register("iprep", config.ProviderConfig{RatePerSecond: 100, Burst: 10, MaxAttempts: 3},
		TransportFunc(func(context.Context, *Request) (*Response, error) {
			calls++
			return &Response{StatusCode: 429}, nil
		}))

	_, err := g.Call(context.Background(), "iprep", &Request{})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 3, calls)
}

func TestCall_NetworkErrorIsTransient(t *testing.T) {
	g := newTestGateway()
	g.Register("health", config.ProviderConfig{RatePerSecond: 100, Burst: 10, MaxAttempts: 2},
		TransportFunc(func(context.Context, *Request) (*Response, error) {
			return nil, errors.New("connection refused")
		}))

	_, err := g.Call(context.Background(), "health", &Request{})
	require.Error(t, err)
	assert.Equal(t, ClassTransient, ClassOf(err))
}

func TestCall_CircuitOpensAfterConsecutiveTransientFailures(t *testing.T) {
	g := newTestGateway()
	calls := 0
	g.Register("flaky", config.ProviderConfig{
		RatePerSecond: 1000, Burst: 100, MaxAttempts: 1,
		BreakerThreshold: 3, BreakerCooldown: time.Hour,
	}, TransportFunc(func(context.Context, *Request) (*Response, error) {
		calls++
		return &Response{StatusCode: 500}, nil
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := g.Call(ctx, "flaky", &Request{})
		assert.Equal(t, ClassTransient, ClassOf(err))
	}

	// Breaker is now open: calls fail fast without reaching the transport.
	_, err := g.Call(ctx, "flaky", &Request{})
	assert.Equal(t, ClassCircuitOpen, ClassOf(err))
	assert.Equal(t, 3, calls)
}

func TestCall_HalfOpenTrialClosesBreaker(t *testing.T) {
	g := newTestGateway()
	healthy := false
	g.Register("flaky", config.ProviderConfig{
		RatePerSecond: 1000, Burst: 100, MaxAttempts: 1,
		BreakerThreshold: 2, BreakerCooldown: time.Minute,
	}, TransportFunc(func(context.Context, *Request) (*Response, error) {
		if healthy {
			return &Response{StatusCode: 200, Verdict: "benign"}, nil
		}
		return &Response{StatusCode: 502}, nil
	}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = g.Call(ctx, "flaky", &Request{})
	}

	g.mu.RLock()
	p := g.providers["flaky"]
	g.mu.RUnlock()
	require.True(t, p.breaker.isOpen())

	// Expire the cooldown; the next (trial) call succeeds and closes it.
	p.breaker.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	healthy = true

	resp, err := g.Call(ctx, "flaky", &Request{})
	require.NoError(t, err)
	assert.Equal(t, "benign", resp.Verdict)
	assert.False(t, p.breaker.isOpen())
}

func TestReserve_QueueFullFailsFast(t *testing.T) {
	g := newTestGateway()
	g.Register("slow", config.ProviderConfig{RatePerSecond: 0.001, Burst: 1, QueueDepth: 1, MaxAttempts: 1},
		TransportFunc(func(context.Context, *Request) (*Response, error) {
			return &Response{StatusCode: 200}, nil
		}))

	g.mu.RLock()
	p := g.providers["slow"]
	g.mu.RUnlock()

	// Drain the bucket and fill the queue slot.
	require.True(t, p.limiter.Allow())
	p.waiters.Add(1)

	err := g.reserve(context.Background(), p)
	require.NotNil(t, err)
	assert.Equal(t, ClassRateLimited, err.Class)
	assert.Contains(t, err.Error(), "queue full")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		resp    *Response
		err     error
		class   ErrorClass
		outcome string
	}{
		{"ok", &Response{StatusCode: 200}, nil, "", "ok"},
		{"created", &Response{StatusCode: 201}, nil, "", "ok"},
		{"throttled", &Response{StatusCode: 429}, nil, ClassRateLimited, "rate_limited"},
		{"server error", &Response{StatusCode: 500}, nil, ClassTransient, "server_error"},
		{"bad request", &Response{StatusCode: 400}, nil, ClassPermanent, "client_error"},
		{"unauthorized", &Response{StatusCode: 401}, nil, ClassPermanent, "client_error"},
		{"net error", nil, fmt.Errorf("timeout"), ClassTransient, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, outcome := classify(tt.resp, tt.err)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.outcome, outcome)
		})
	}
}
