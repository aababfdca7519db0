// Package pool implements a bounded pool of persistent SQLite connections.
// Every unit of work against the pattern database runs on exactly one leased
// connection; the pool bounds concurrency and serializes lease hand-off so a
// burst of callers degrades into bounded waiting instead of unbounded
// connection churn.
package pool

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"patternvault/internal/logging"
)

var (
	// ErrTimeout is returned when no connection became available within the
	// configured acquisition timeout. Callers may retry with backoff; the
	// pool never retries internally.
	ErrTimeout = errors.New("pool: acquire timed out waiting for a free connection")

	// ErrClosed is returned for any acquire attempted after CloseAll.
	ErrClosed = errors.New("pool: pool is closed")
)

// Conn is one pooled connection. It is owned by the pool; callers only ever
// see it through a Lease and must not retain the handle past Release.
type Conn struct {
	id         int
	db         *sql.DB
	createdAt  time.Time
	lastUsed   time.Time
	queryCount int64
	inUse      bool
}

// ID returns the pool-local connection id.
func (c *Conn) ID() int { return c.id }

// DB returns the underlying database handle for the duration of a lease.
func (c *Conn) DB() *sql.DB { return c.db }

// Lease is exclusive, time-scoped ownership of one pooled connection.
// Release is idempotent and must be called on every code path, normally
// via defer immediately after a successful Acquire.
type Lease struct {
	conn *Conn
	pool *Pool
	once sync.Once
}

// DB returns the leased connection's database handle.
func (l *Lease) DB() *sql.DB { return l.conn.db }

// Conn returns the leased connection.
func (l *Lease) Conn() *Conn { return l.conn }

// Release returns the connection to the pool and wakes exactly one waiter.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.conn)
	})
}

// Stats is an observability snapshot of the pool. No side effects.
type Stats struct {
	Size         int
	InUse        int
	Available    int
	Acquisitions int64
	Releases     int64
	Timeouts     int64
}

// Pool owns a fixed set of SQLite connections to one database file.
// All connections are opened with WAL journaling so a writer never blocks
// readers on other connections.
type Pool struct {
	dbPath  string
	size    int
	timeout time.Duration

	free chan *Conn
	done chan struct{}

	mu           sync.Mutex
	conns        []*Conn
	closed       bool
	acquisitions int64
	releases     int64
	timeouts     int64
}

// New opens size connections against dbPath and returns the pool.
// The parent directory is created if needed.
func New(dbPath string, size int, timeout time.Duration) (*Pool, error) {
	timer := logging.StartTimer(logging.CategoryPool, "pool.New")
	defer timer.Stop()

	if size < 1 {
		return nil, fmt.Errorf("pool: size must be >= 1, got %d", size)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	logging.Pool("Initializing connection pool: path=%s size=%d timeout=%v", dbPath, size, timeout)

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryPool).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("pool: failed to create directory: %w", err)
		}
	}

	p := &Pool{
		dbPath:  dbPath,
		size:    size,
		timeout: timeout,
		free:    make(chan *Conn, size),
		done:    make(chan struct{}),
	}

	now := time.Now()
	for i := 0; i < size; i++ {
		db, err := openConn(dbPath)
		if err != nil {
			p.closeOpened()
			return nil, fmt.Errorf("pool: failed to open connection %d: %w", i, err)
		}
		c := &Conn{id: i, db: db, createdAt: now, lastUsed: now}
		p.conns = append(p.conns, c)
		p.free <- c
	}

	logging.Pool("Connection pool ready: %d connections in WAL mode", size)
	return p, nil
}

// openConn opens one SQLite connection in WAL mode. Each pooled connection
// maps to exactly one underlying sqlite handle so the in_use flag really
// means exclusive ownership.
func openConn(dbPath string) (*sql.DB, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// closeOpened closes any connections opened so far during construction.
func (p *Pool) closeOpened() {
	for _, c := range p.conns {
		c.db.Close()
	}
}

// Acquire blocks until a connection is free or the pool timeout elapses.
// On success the returned lease owns the connection exclusively until
// Release.
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	// Fast path: a connection is already free.
	select {
	case c := <-p.free:
		return p.lease(c), nil
	default:
	}

	logging.PoolDebug("All connections busy, waiting up to %v", p.timeout)

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()

	select {
	case c := <-p.free:
		return p.lease(c), nil
	case <-p.done:
		return nil, ErrClosed
	case <-deadline.C:
		p.mu.Lock()
		p.timeouts++
		p.mu.Unlock()
		logging.Get(logging.CategoryPool).Warn("Acquire timed out after %v (pool may be undersized)", p.timeout)
		logging.Audit(logging.AuditEvent{EventType: logging.AuditPoolTimeout, Message: p.timeout.String()})
		return nil, ErrTimeout
	}
}

// lease marks a connection as held and wraps it.
func (p *Pool) lease(c *Conn) *Lease {
	p.mu.Lock()
	c.inUse = true
	c.lastUsed = time.Now()
	c.queryCount++
	p.acquisitions++
	p.mu.Unlock()

	logging.PoolDebug("Connection %d acquired (queries=%d)", c.id, c.queryCount)
	return &Lease{conn: c, pool: p}
}

// release returns a connection to the free set. Exactly one waiter is woken
// because the channel hands the connection to a single receiver.
func (p *Pool) release(c *Conn) {
	p.mu.Lock()
	c.inUse = false
	p.releases++
	closed := p.closed
	p.mu.Unlock()

	logging.PoolDebug("Connection %d released", c.id)

	if closed {
		// CloseAll already closed the handle; nothing to return.
		return
	}
	p.free <- c
}

// WithConn runs fn on a leased connection, guaranteeing release on every
// path including panics and fn errors.
func (p *Pool) WithConn(fn func(db *sql.DB) error) error {
	lease, err := p.Acquire()
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.DB())
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	inUse := 0
	for _, c := range p.conns {
		if c.inUse {
			inUse++
		}
	}
	return Stats{
		Size:         p.size,
		InUse:        inUse,
		Available:    p.size - inUse,
		Acquisitions: p.acquisitions,
		Releases:     p.releases,
		Timeouts:     p.timeouts,
	}
}

// Size returns the configured pool size.
func (p *Pool) Size() int { return p.size }

// Timeout returns the configured acquisition timeout.
func (p *Pool) Timeout() time.Duration { return p.timeout }

// CloseAll closes every connection. Subsequent Acquire calls fail with
// ErrClosed. Connections currently held by a lease are closed too; their
// holders' next query will fail, which is the documented shutdown contract.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	logging.Pool("Closing connection pool (%d connections)", p.size)

	// Drain the free channel so release() after close is a no-op path.
	for {
		select {
		case <-p.free:
			continue
		default:
		}
		break
	}

	var firstErr error
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
