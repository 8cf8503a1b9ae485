package connectivity

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DialFunc opens a connection; it matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Pinger stands in for OS reachability callbacks: it periodically dials the
// remote endpoint and feeds the result into a Monitor.
type Pinger struct {
	monitor  *Monitor
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPinger creates a Pinger for the host of endpoint (a URL such as
// https://api.example.com). The port defaults from the scheme.
func NewPinger(monitor *Monitor, endpoint string, interval, timeout time.Duration) (*Pinger, error) {
	address, err := dialAddress(endpoint)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{}
	return &Pinger{
		monitor:  monitor,
		address:  address,
		interval: interval,
		timeout:  timeout,
		dial:     dialer.DialContext,
	}, nil
}

func dialAddress(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https", "":
			port = "443"
		default:
			return "", fmt.Errorf("endpoint %q: no port for scheme %q", endpoint, u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Ping dials once and updates the monitor with the outcome.
func (p *Pinger) Ping(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "tcp", p.address)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down; leave the last known state alone
			return p.monitor.IsCurrentlyConnected()
		}
		log.Debug().Err(err).Str("address", p.address).Msg("Reachability ping failed")
		p.monitor.Set(false)
		return false
	}
	conn.Close()

	p.monitor.Set(true)
	return true
}

// Start pings immediately and then every interval until Stop.
func (p *Pinger) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Go(func() {
		p.Ping(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Ping(ctx)
			}
		}
	})
}

// Stop ends the ping loop.
func (p *Pinger) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
