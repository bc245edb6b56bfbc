package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// InvalidationChannel is the PostgreSQL NOTIFY channel carrying region names
const InvalidationChannel = "restree_cache_invalidate"

// allRegions as payload clears every region
const allRegions = "*"

// PgPublisher broadcasts invalidations with pg_notify
type PgPublisher struct {
	db *sql.DB
}

// NewPgPublisher creates a publisher on an open database
func NewPgPublisher(db *sql.DB) *PgPublisher {
	return &PgPublisher{db: db}
}

// Publish sends the region name on InvalidationChannel
func (p *PgPublisher) Publish(ctx context.Context, region string) error {
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, InvalidationChannel, region); err != nil {
		return fmt.Errorf("failed to notify %s: %w", InvalidationChannel, err)
	}
	return nil
}

// InvalidationListener clears local regions when another worker announces
// an invalidation. It uses PostgreSQL LISTEN/NOTIFY on a dedicated connection.
type InvalidationListener struct {
	mu       sync.Mutex
	regions  *Regions
	listener *pq.Listener
	connStr  string
	logger   logrus.FieldLogger
	stopCh   chan struct{}
	stopped  bool
}

// NewInvalidationListener creates a listener; connStr is the PostgreSQL
// connection string for LISTEN/NOTIFY.
func NewInvalidationListener(regions *Regions, connStr string, logger logrus.FieldLogger) *InvalidationListener {
	return &InvalidationListener{
		regions: regions,
		connStr: connStr,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start opens the listener connection and starts handling notifications.
func (l *InvalidationListener) Start() error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.WithError(err).Warn("cache invalidation listener error")
		}
	}

	l.listener = pq.NewListener(l.connStr, 10*time.Second, time.Minute, reportProblem)
	if err := l.listener.Listen(InvalidationChannel); err != nil {
		l.listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", InvalidationChannel, err)
	}

	go l.run()
	return nil
}

// Stop stops the listener and cleans up resources.
func (l *InvalidationListener) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	close(l.stopCh)
	l.mu.Unlock()

	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

func (l *InvalidationListener) run() {
	for {
		select {
		case <-l.stopCh:
			return
		case n := <-l.listener.Notify:
			l.handle(n)
		case <-time.After(90 * time.Second):
			// Periodic ping to keep connection alive
			go func() {
				if err := l.listener.Ping(); err != nil {
					l.logger.WithError(err).Warn("cache invalidation listener ping failed")
				}
			}()
		}
	}
}

// handle applies one notification. A nil notification means the connection
// was re-established and events may have been lost, so everything is cleared.
func (l *InvalidationListener) handle(n *pq.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if n == nil || n.Extra == allRegions {
		for _, name := range l.regions.Names() {
			if err := l.regions.InvalidateLocal(ctx, name); err != nil {
				l.logger.WithError(err).Warn("failed to apply cache invalidation")
			}
		}
		return
	}

	if err := l.regions.InvalidateLocal(ctx, n.Extra); err != nil {
		l.logger.WithError(err).Warn("failed to apply cache invalidation")
	}
}
