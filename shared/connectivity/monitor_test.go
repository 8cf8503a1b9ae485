package connectivity

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_PullAndPush(t *testing.T) {
	m := NewMonitor(false)
	assert.False(t, m.IsCurrentlyConnected())

	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	assert.True(t, m.IsCurrentlyConnected())
	assert.True(t, <-ch)

	m.Set(true)
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %v for unchanged state", v)
	default:
	}

	m.Set(false)
	assert.False(t, <-ch)
}

func TestMonitor_SlowSubscriberSeesLatest(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	assert.True(t, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("expected a single coalesced value, got extra %v", v)
	default:
	}
}

func TestMonitor_CancelClosesChannel(t *testing.T) {
	m := NewMonitor(true)
	ch, cancel := m.Subscribe()

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// publishing after cancel must not panic on the closed channel
	m.Set(false)
}

func TestDialAddress(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "https://api.example.com", want: "api.example.com:443"},
		{endpoint: "http://api.example.com/v1", want: "api.example.com:80"},
		{endpoint: "http://127.0.0.1:8081", want: "127.0.0.1:8081"},
		{endpoint: "ftp://files.example.com", wantErr: true},
		{endpoint: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := dialAddress(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

func TestPinger_FeedsMonitor(t *testing.T) {
	m := NewMonitor(false)
	p, err := NewPinger(m, "https://api.example.com", time.Hour, time.Second)
	require.NoError(t, err)

	var up atomic.Bool
	p.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		assert.Equal(t, "api.example.com:443", address)
		if up.Load() {
			return fakeConn{}, nil
		}
		return nil, errors.New("network is unreachable")
	}

	ctx := context.Background()
	assert.False(t, p.Ping(ctx))
	assert.False(t, m.IsCurrentlyConnected())

	up.Store(true)
	assert.True(t, p.Ping(ctx))
	assert.True(t, m.IsCurrentlyConnected())
}

func TestPinger_StartPingsImmediately(t *testing.T) {
	m := NewMonitor(false)
	p, err := NewPinger(m, "http://localhost:1", time.Hour, time.Second)
	require.NoError(t, err)
	p.dial = func(context.Context, string, string) (net.Conn, error) {
		return fakeConn{}, nil
	}

	p.Start(context.Background())
	defer p.Stop()

	assert.Eventually(t, m.IsCurrentlyConnected, time.Second, 5*time.Millisecond)
}
