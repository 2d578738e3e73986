package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jihwankim/montecarlo-mesh/pkg/config"
)

// ErrPoolClosed is returned by Acquire once Close has been called.
var ErrPoolClosed = errors.New("broker pool is closed")

// ConnParams are the connection parameters of SPEC_FULL.md §4.D.
type ConnParams struct {
	URL             string
	Heartbeat       time.Duration
	ConnectTimeout  time.Duration
	BlockedTimeout  time.Duration
	SocketTimeout   time.Duration
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// DefaultConnParams returns the spec defaults: heartbeat 60s, connect
// timeout 10s, blocked-connection timeout 300s, three attempts with 2s
// delay. SocketTimeout is left at zero (disabled) since §4.D names it
// without a default of its own.
func DefaultConnParams(url string) ConnParams {
	return ConnParams{
		URL:             url,
		Heartbeat:       60 * time.Second,
		ConnectTimeout:  10 * time.Second,
		BlockedTimeout:  300 * time.Second,
		ConnectAttempts: 3,
		ConnectDelay:    2 * time.Second,
	}
}

// ConnParamsFromConfig builds ConnParams from a loaded BrokerConfig. This
// is the one place the BROKER_* env overrides and config.yaml's broker
// section actually reach the dialer — every cmd/*/run.go must call this
// instead of DefaultConnParams(cfg.Broker.URL()), which silently discards
// everything but the URL.
func ConnParamsFromConfig(cfg config.BrokerConfig) ConnParams {
	p := DefaultConnParams(cfg.URL())
	if cfg.Heartbeat > 0 {
		p.Heartbeat = cfg.Heartbeat
	}
	if cfg.ConnectTimeout > 0 {
		p.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.BlockedTimeout > 0 {
		p.BlockedTimeout = cfg.BlockedTimeout
	}
	if cfg.SocketTimeout > 0 {
		p.SocketTimeout = cfg.SocketTimeout
	}
	if cfg.ConnectAttempts > 0 {
		p.ConnectAttempts = cfg.ConnectAttempts
	}
	if cfg.ConnectDelay > 0 {
		p.ConnectDelay = cfg.ConnectDelay
	}
	return p
}

// PoolConfig configures a Pool's size, overflow, checkout timeout, and
// connection recycle age.
type PoolConfig struct {
	Size        int
	MaxOverflow int
	Timeout     time.Duration
	Recycle     time.Duration
}

// DefaultPoolConfig returns the spec defaults: size 10, overflow 5,
// checkout timeout 30s, recycle 3600s.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Size: 10, MaxOverflow: 5, Timeout: 30 * time.Second, Recycle: 3600 * time.Second}
}

// PooledConn wraps an *amqp.Connection with pool bookkeeping, grounded on
// the connection-pool example's connWrapper (createdAt/lastUsedAt/useCount
// per pooled connection, health check via the underlying transport).
type PooledConn struct {
	Conn       *amqp.Connection
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
}

// Pool is a bounded connection pool with overflow, generalized from the
// connection-pool example's Pool to amqp091-go connections: a mutex
// guards all pool state, checkout takes an idle connection or creates one
// up to size+overflow, blocking callers beyond capacity up to Timeout,
// and checkin destroys overflow, expired, or unhealthy connections rather
// than returning them to the idle set.
type Pool struct {
	params ConnParams
	cfg    PoolConfig

	mu          sync.Mutex
	idle        []*PooledConn
	numOpen     int
	closed      bool
	requests    map[uint64]chan *PooledConn
	nextRequest uint64
}

// NewPool creates a Pool. No connections are opened eagerly; the first
// Acquire creates the first connection.
func NewPool(params ConnParams, cfg PoolConfig) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = DefaultPoolConfig().Size
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPoolConfig().Timeout
	}
	if cfg.Recycle <= 0 {
		cfg.Recycle = DefaultPoolConfig().Recycle
	}
	return &Pool{
		params:   params,
		cfg:      cfg,
		requests: make(map[uint64]chan *PooledConn),
	}
}

// Acquire checks out a connection, creating one if under capacity or
// waiting up to cfg.Timeout if at capacity.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		if healthy(pc) {
			pc.lastUsedAt = time.Now()
			pc.useCount++
			return pc, nil
		}
		p.destroy(pc)
		return p.Acquire(ctx)
	}

	if p.numOpen < p.cfg.Size+p.cfg.MaxOverflow {
		p.numOpen++
		p.mu.Unlock()

		pc, err := p.dial()
		if err != nil {
			p.mu.Lock()
			p.numOpen--
			p.mu.Unlock()
			return nil, err
		}
		return pc, nil
	}

	reqID := p.nextRequest
	p.nextRequest++
	ch := make(chan *PooledConn, 1)
	p.requests[reqID] = ch
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case pc := <-ch:
		return pc, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.requests, reqID)
		p.mu.Unlock()
		return nil, ctx.Err()
	case <-timer.C:
		p.mu.Lock()
		delete(p.requests, reqID)
		p.mu.Unlock()
		return nil, &PoolExhaustedError{TimeoutSec: p.cfg.Timeout.Seconds()}
	}
}

// Checkin returns pc to the pool, handing it directly to a waiting
// Acquire call if one exists, destroying it if it is an overflow
// connection, past its recycle age, or unhealthy, and otherwise returning
// it to the idle set.
func (p *Pool) Checkin(pc *PooledConn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeConn(pc)
		return
	}

	for reqID, ch := range p.requests {
		delete(p.requests, reqID)
		p.mu.Unlock()
		ch <- pc
		return
	}

	overflow := p.numOpen > p.cfg.Size
	expired := time.Since(pc.createdAt) > p.cfg.Recycle
	if overflow || expired || !healthy(pc) {
		p.numOpen--
		p.mu.Unlock()
		p.closeConn(pc)
		return
	}

	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// Close closes the pool and every connection it holds. In-flight
// checked-out connections are closed as they are checked back in.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.numOpen -= len(idle)
	reqs := p.requests
	p.requests = make(map[uint64]chan *PooledConn)
	p.mu.Unlock()

	for _, ch := range reqs {
		close(ch)
	}
	for _, pc := range idle {
		p.closeConn(pc)
	}
	return nil
}

func (p *Pool) destroy(pc *PooledConn) {
	p.mu.Lock()
	p.numOpen--
	p.mu.Unlock()
	p.closeConn(pc)
}

func (p *Pool) closeConn(pc *PooledConn) {
	if pc.Conn != nil && !pc.Conn.IsClosed() {
		_ = pc.Conn.Close()
	}
}

func healthy(pc *PooledConn) bool {
	return pc.Conn != nil && !pc.Conn.IsClosed()
}

// dial opens a new AMQP connection in up to ConnectAttempts attempts
// separated by ConnectDelay, per SPEC_FULL.md §4.D's connection
// parameters.
func (p *Pool) dial() (*PooledConn, error) {
	cfg := amqp.Config{
		Heartbeat: p.params.Heartbeat,
		Dial:      dialerWithSocketTimeout(p.params.ConnectTimeout, p.params.SocketTimeout),
	}

	attempts := p.params.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(p.params.ConnectDelay)
		}
		conn, err := amqp.DialConfig(p.params.URL, cfg)
		if err == nil {
			now := time.Now()
			watchBlocked(conn, p.params.BlockedTimeout)
			return &PooledConn{Conn: conn, createdAt: now, lastUsedAt: now, useCount: 1}, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dial broker after %d attempt(s): %w", attempts, lastErr)
}

// dialerWithSocketTimeout returns the Dial func passed in amqp.Config.
// connectTimeout bounds the TCP handshake, the same as amqp.DefaultDial.
// When socketTimeout is positive, the returned net.Conn also gets a fresh
// read/write deadline before every operation — the per-operation socket
// timeout §4.D names as distinct from the one-time connect timeout.
func dialerWithSocketTimeout(connectTimeout, socketTimeout time.Duration) func(network, addr string) (net.Conn, error) {
	base := amqp.DefaultDial(connectTimeout)
	if socketTimeout <= 0 {
		return base
	}
	return func(network, addr string) (net.Conn, error) {
		conn, err := base(network, addr)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: conn, timeout: socketTimeout}, nil
	}
}

// deadlineConn resets its net.Conn's read/write deadline to timeout before
// every call, so a stalled read or write past the socket timeout surfaces
// as an error instead of blocking indefinitely.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(b)
}

// watchBlocked closes conn if the broker reports it blocked (a resource
// alarm applying publisher backpressure, §4.D) for longer than timeout,
// so a connection stuck under backpressure surfaces as unhealthy — and
// gets recycled by the pool — rather than hanging callers indefinitely.
// timeout <= 0 disables the watch.
func watchBlocked(conn *amqp.Connection, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	notify := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	go func() {
		timer := time.NewTimer(timeout)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()
		for {
			select {
			case b, ok := <-notify:
				if !ok {
					return
				}
				if b.Active {
					timer.Reset(timeout)
				} else if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			case <-timer.C:
				_ = conn.Close()
				return
			}
		}
	}()
}

// PoolStats reports point-in-time pool occupancy, mirroring the
// connection-pool example's Metrics snapshot.
type PoolStats struct {
	NumOpen int
	Idle    int
	InUse   int
	Waiting int
}

// Stats returns a snapshot of the pool's current occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		NumOpen: p.numOpen,
		Idle:    len(p.idle),
		InUse:   p.numOpen - len(p.idle),
		Waiting: len(p.requests),
	}
}

var (
	defaultPoolOnce sync.Once
	defaultPool     *Pool
)

// DefaultPool returns the process-wide singleton pool, created on first
// use behind a sync.Once (the double-checked initialization of §4.D).
func DefaultPool(params ConnParams, cfg PoolConfig) *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool(params, cfg)
	})
	return defaultPool
}
