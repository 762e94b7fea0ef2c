// Package health implements bounded-retry readiness waiting over pluggable
// probes. A waiter polls a probe at a fixed interval until it reports ready
// or the attempt budget is spent.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/loykin/aistack/internal/metrics"
)

// Default polling policies. The runtime endpoint can take a while to come up
// after a cold start, the web service is quick.
const (
	DefaultMaxAttempts = 30
	DefaultInterval    = 2 * time.Second

	WebMaxAttempts = 15
	WebInterval    = 1 * time.Second
)

// Result is the outcome of a single probe attempt.
type Result struct {
	OK      bool
	Latency time.Duration
	Err     error
}

// Probe checks one readiness condition. Implementations must be safe to call
// repeatedly and must honor the context deadline.
type Probe interface {
	Check(ctx context.Context) Result
	Name() string
}

// HTTPProbe reports ready when a GET to URL returns a 2xx status.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func (p HTTPProbe) Name() string { return "http:" + p.URL }

func (p HTTPProbe) Check(ctx context.Context) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Result{Err: err, Latency: time.Since(start)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err, Latency: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()
	lat := time.Since(start)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{OK: true, Latency: lat}
	}
	return Result{Latency: lat, Err: fmt.Errorf("status %d", resp.StatusCode)}
}

// TCPProbe reports ready when a TCP connection to Host:Port succeeds.
type TCPProbe struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (p TCPProbe) Name() string { return fmt.Sprintf("tcp:%s:%d", p.Host, p.Port) }

func (p TCPProbe) Check(ctx context.Context) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	start := time.Now()
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", p.Port)))
	if err != nil {
		return Result{Err: err, Latency: time.Since(start)}
	}
	_ = conn.Close()
	return Result{OK: true, Latency: time.Since(start)}
}

// Waiter polls a probe until ready or until MaxAttempts checks have failed.
type Waiter struct {
	MaxAttempts int
	Interval    time.Duration
}

// NewWaiter returns a waiter with the default runtime policy.
func NewWaiter() Waiter {
	return Waiter{MaxAttempts: DefaultMaxAttempts, Interval: DefaultInterval}
}

func (w Waiter) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (w Waiter) interval() time.Duration {
	if w.Interval > 0 {
		return w.Interval
	}
	return DefaultInterval
}

// WaitReady polls the probe once per interval. The first check fires
// immediately. It returns true as soon as a check reports ready, false when
// the budget is spent or the context is canceled.
func (w Waiter) WaitReady(ctx context.Context, probe Probe) bool {
	start := time.Now()
	defer func() { metrics.ObserveHealthWait(probe.Name(), time.Since(start).Seconds()) }()

	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for attempt := 1; ; attempt++ {
		res := probe.Check(ctx)
		metrics.IncHealthAttempt(probe.Name(), res.OK)
		if res.OK {
			return true
		}
		if attempt >= w.maxAttempts() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
