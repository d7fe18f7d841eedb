// Package proxypool maintains a rotating, health-checked set of egress
// proxies. Workers acquire a record per fetch and report the outcome; the
// pool takes proxies out of rotation after repeated failures and probes
// them back to health in the background.
package proxypool

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Health is the probe state of a single proxy record.
type Health int

const (
	Unknown Health = iota
	Healthy
	Unhealthy
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Outcome is a worker's report of what happened on a fetch through a
// proxy.
type Outcome int

const (
	Success Outcome = iota
	TransientFailure
	FatalFailure
)

// Probe backoff bounds for unhealthy records.
const (
	probeBaseDelay = 30 * time.Second
	probeMaxDelay  = 10 * time.Minute

	// DefaultMaxFailures is the consecutive-failure count after which a
	// record leaves rotation.
	DefaultMaxFailures = 3

	defaultProbeURL     = "http://httpbin.org/ip"
	defaultProbeTimeout = 5 * time.Second
)

// Record is one proxy in the pool. Health is mutated only by the pool
// based on reported outcomes, never by adapters.
type Record struct {
	Address string

	health      Health
	failures    int
	lastChecked time.Time
	nextProbe   time.Time
	probeDelay  time.Duration

	client *http.Client // built lazily, reused across fetches
}

// Health returns the record's current health under the pool lock; it is
// exported for snapshots and tests.
func (p *Pool) Health(r *Record) Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.health
}

// Options tune pool behavior. Zero values select defaults.
type Options struct {
	MaxFailures  int
	ProbeURL     string
	ProbeTimeout time.Duration

	// Probe overrides the health probe, mainly for tests. It should
	// return nil when the proxy works.
	Probe func(ctx context.Context, r *Record) error

	// OnDegraded fires once per transition into degraded mode (every
	// configured proxy unhealthy). OnRestored fires when a probe brings
	// a record back.
	OnDegraded func(unhealthy int)
	OnRestored func(address string)
}

// Pool is a round-robin rotation over healthy proxy records. A nil *Pool
// is valid and always yields direct connections.
type Pool struct {
	mu       sync.Mutex
	records  []*Record
	next     int
	degraded bool

	opts Options
}

// New builds a pool from proxy addresses. Addresses may be host:port
// (assumed http), http(s):// URLs, or socks5:// URLs. An empty address
// list yields a pool that always returns nil from Acquire.
func New(addrs []string, opts Options) *Pool {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if opts.ProbeURL == "" {
		opts.ProbeURL = defaultProbeURL
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}

	p := &Pool{opts: opts}
	seen := make(map[string]bool)
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		p.records = append(p.records, &Record{Address: a, health: Unknown})
	}
	return p
}

// Len returns the number of configured records.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// Acquire returns the next proxy in rotation, or nil for a direct
// connection. Unknown records are eligible so new proxies get tried. When
// every record is unhealthy the pool returns nil instead of blocking and
// fires OnDegraded once per transition.
func (p *Pool) Acquire() *Record {
	if p == nil {
		return nil
	}
	p.mu.Lock()

	n := len(p.records)
	if n == 0 {
		p.mu.Unlock()
		return nil
	}
	for i := 0; i < n; i++ {
		r := p.records[p.next%n]
		p.next++
		if r.health != Unhealthy {
			p.degraded = false
			p.mu.Unlock()
			return r
		}
	}

	firstTransition := !p.degraded
	p.degraded = true
	cb := p.opts.OnDegraded
	p.mu.Unlock()

	if firstTransition && cb != nil {
		cb(n)
	}
	return nil
}

// Report feeds a fetch outcome back into the record's health. Success
// resets the failure count; MaxFailures consecutive failures take the
// record out of rotation and schedule a probe.
func (p *Pool) Report(r *Record, o Outcome) {
	if p == nil || r == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r.lastChecked = time.Now()
	switch o {
	case Success:
		r.failures = 0
		r.health = Healthy
		r.probeDelay = 0
	case TransientFailure, FatalFailure:
		r.failures++
		if r.failures >= p.opts.MaxFailures {
			p.markUnhealthyLocked(r)
		}
	}
}

func (p *Pool) markUnhealthyLocked(r *Record) {
	r.health = Unhealthy
	if r.probeDelay == 0 {
		r.probeDelay = probeBaseDelay
	}
	r.nextProbe = time.Now().Add(r.probeDelay)
}

// ClientFor returns an HTTP client routed through the record, or a direct
// client when r is nil. Clients are cached per record. The timeout applies
// per request via the caller's context, not here.
func (p *Pool) ClientFor(r *Record) (*http.Client, error) {
	if r == nil {
		return http.DefaultClient, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	transport, err := transportFor(r.Address)
	if err != nil {
		return nil, err
	}
	r.client = &http.Client{Transport: transport}
	return r.client, nil
}

func transportFor(addr string) (*http.Transport, error) {
	raw := addr
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", addr, err)
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if strings.HasPrefix(parsed.Scheme, "socks5") {
		dialer, err := xproxy.SOCKS5("tcp", parsed.Host, socksAuth(parsed), xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %q: %w", addr, err)
		}
		transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, address)
			}
			return dialer.Dial(network, address)
		}
		return transport, nil
	}

	transport.Proxy = http.ProxyURL(parsed)
	return transport, nil
}

func socksAuth(u *url.URL) *xproxy.Auth {
	if u.User == nil {
		return nil
	}
	pass, _ := u.User.Password()
	return &xproxy.Auth{User: u.User.Username(), Password: pass}
}

// StartProber launches the background health probe loop. Unhealthy
// records are re-tested once their backoff expires; a passing probe
// restores the record, a failing one doubles the delay up to the cap. The
// loop exits when ctx is cancelled.
func (p *Pool) StartProber(ctx context.Context, interval time.Duration) {
	if p == nil || p.Len() == 0 {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probeDue(ctx)
			}
		}
	}()
}

func (p *Pool) probeDue(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	var due []*Record
	for _, r := range p.records {
		if r.health == Unhealthy && !now.Before(r.nextProbe) {
			due = append(due, r)
		}
	}
	p.mu.Unlock()

	for _, r := range due {
		err := p.probe(ctx, r)

		p.mu.Lock()
		r.lastChecked = time.Now()
		if err == nil {
			r.health = Healthy
			r.failures = 0
			r.probeDelay = 0
			cb := p.opts.OnRestored
			p.mu.Unlock()
			if cb != nil {
				cb(r.Address)
			}
			continue
		}
		r.probeDelay *= 2
		if r.probeDelay > probeMaxDelay {
			r.probeDelay = probeMaxDelay
		}
		r.nextProbe = time.Now().Add(r.probeDelay)
		p.mu.Unlock()
	}
}

func (p *Pool) probe(ctx context.Context, r *Record) error {
	if p.opts.Probe != nil {
		return p.opts.Probe(ctx, r)
	}

	client, err := p.ClientFor(r)
	if err != nil {
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.opts.ProbeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return nil
}
