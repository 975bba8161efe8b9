package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maintenanceLockName = "maintenance"
	lockPollInterval    = 100 * time.Millisecond
)

// HolderID returns a lock holder id unique to this process and call site.
func HolderID(name string) string {
	return fmt.Sprintf("%s/%d/%s", name, os.Getpid(), uuid.NewString()[:8])
}

// Lock acquires the maintenance lock, waiting until ctx is done. The lock is exclusive
// within the process through a channel and across processes through a lease row that
// expires after the configured TTL if its holder dies. The lease is renewed while held.
// The returned func releases both and is safe to call more than once.
func (s *SQLiteStore) Lock(ctx context.Context, holder string) (func(), error) {
	select {
	case s.lockCh <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("store: waiting for maintenance lock: %w", ctx.Err())
	}

	for {
		ok, err := s.tryLease(ctx, holder)
		if err != nil {
			<-s.lockCh
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-time.After(lockPollInterval):
		case <-ctx.Done():
			<-s.lockCh
			return nil, fmt.Errorf("store: waiting for maintenance lock: %w", ctx.Err())
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go s.renewLease(holder, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if _, err := s.db.ExecContext(rctx,
				`DELETE FROM maintenance_lock WHERE name = ? AND holder = ?`, maintenanceLockName, holder); err != nil {
				s.logger.Warn("releasing maintenance lock", "holder", holder, "error", err)
			}
			<-s.lockCh
		})
	}, nil
}

// renewLease extends the lease every third of the TTL until stop is closed, so a holder
// that runs longer than the TTL is not taken over by another process.
func (s *SQLiteStore) renewLease(holder string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := s.lockTTL / 3
	if every <= 0 {
		every = lockPollInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		res, err := s.db.ExecContext(ctx, `UPDATE maintenance_lock SET expires_at = ?
			WHERE name = ? AND holder = ?`, formatTime(time.Now().Add(s.lockTTL)), maintenanceLockName, holder)
		cancel()
		if err != nil {
			s.logger.Warn("renewing maintenance lock", "holder", holder, "error", err)
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.Error("maintenance lock lease lost", "holder", holder)
			return
		}
	}
}

// tryLease inserts the lease row or takes over an expired one.
func (s *SQLiteStore) tryLease(ctx context.Context, holder string) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO maintenance_lock (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE maintenance_lock.expires_at < ?`,
		maintenanceLockName, holder, formatTime(now.Add(s.lockTTL)), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("store: acquiring maintenance lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acquiring maintenance lock: %w", err)
	}
	return n == 1, nil
}
